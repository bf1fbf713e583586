package admin

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ended/simplecoin-rpc-client/internal/payout"
	"github.com/ended/simplecoin-rpc-client/internal/wallet"
)

// recordView is the JSON shape of a payout record in report listings.
type recordView struct {
	ID            int64  `json:"id"`
	ExternalID    string `json:"external_id"`
	Beneficiary   string `json:"beneficiary"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	TxID          string `json:"txid,omitempty"`
	Locked        bool   `json:"locked"`
	Associated    bool   `json:"associated"`
	PulledAt      string `json:"pulled_at"`
	LockedAt      string `json:"locked_at,omitempty"`
	PaidAt        string `json:"paid_at,omitempty"`
	AssociatedAt  string `json:"associated_at,omitempty"`
}

func viewOf(rec payout.Record) recordView {
	stamp := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	return recordView{
		ID:            rec.ID,
		ExternalID:    rec.ExternalID,
		Beneficiary:   rec.Beneficiary,
		Amount:        rec.Amount,
		AmountDisplay: wallet.FormatAmount(rec.Amount),
		TxID:          rec.TxID,
		Locked:        rec.Locked,
		Associated:    rec.Associated,
		PulledAt:      stamp(rec.PulledAt),
		LockedAt:      stamp(rec.LockedAt),
		PaidAt:        stamp(rec.PaidAt),
		AssociatedAt:  stamp(rec.AssociatedAt),
	}
}

func registerReports(app *fiber.App, repo payout.Repository) {
	reports := app.Group("/api/v1/reports")

	listing := func(fetch func(context.Context) ([]payout.Record, error)) fiber.Handler {
		return func(c *fiber.Ctx) error {
			records, err := fetch(c.UserContext())
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			views := make([]recordView, 0, len(records))
			for _, rec := range records {
				views = append(views, viewOf(rec))
			}
			return c.JSON(fiber.Map{"count": len(views), "records": views})
		}
	}

	reports.Get("/unpaid-locked", listing(repo.UnpaidLocked))
	reports.Get("/paid-unassociated", listing(repo.PaidUnassociated))
	reports.Get("/unpaid-unlocked", listing(repo.UnpaidUnlocked))
	reports.Get("/completed", listing(repo.Completed))
}
