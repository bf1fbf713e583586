package payout

import "time"

// Record tracks a single payout obligation from the moment it is pulled from
// the remote server until it is paid and associated back. Records are never
// deleted; they form the audit trail for every disbursement decision.
type Record struct {
	ID          int64
	ExternalID  string
	Beneficiary string
	// Amount is in minor currency units (satoshis). Display conversion
	// happens at the reporting boundary only.
	Amount     int64
	TxID       string
	Locked     bool
	Associated bool

	PulledAt     time.Time
	LockedAt     time.Time
	PaidAt       time.Time
	AssociatedAt time.Time
}

// Paid reports whether a wallet transaction has been recorded for this
// obligation. TxID is set exactly once and never cleared automatically.
func (r Record) Paid() bool {
	return r.TxID != ""
}
