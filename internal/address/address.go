// Package address performs the pass/fail capability check on beneficiary
// addresses: an address is payable only if its Base58Check version byte is in
// the configured allow-list.
package address

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// ErrInvalid indicates the address is not valid Base58Check data.
var ErrInvalid = errors.New("invalid address encoding")

// Version decodes the address and returns its version byte. A bad checksum or
// malformed encoding yields ErrInvalid.
func Version(addr string) (byte, error) {
	_, version, err := base58.CheckDecode(addr)
	if err != nil {
		return 0, ErrInvalid
	}
	return version, nil
}

// Allowed reports whether the address decodes cleanly and carries a version
// byte present in the allow-list.
func Allowed(addr string, versions []byte) bool {
	version, err := Version(addr)
	if err != nil {
		return false
	}
	for _, v := range versions {
		if v == version {
			return true
		}
	}
	return false
}
