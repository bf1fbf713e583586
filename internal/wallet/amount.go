package wallet

import (
	"fmt"
	"strings"
)

// coinDecimals is the number of decimal places the node uses for coin
// amounts. All amounts inside the application are int64 minor units; decimal
// strings exist only on the RPC wire and at the reporting boundary.
const coinDecimals = 8

// ParseAmount converts a decimal coin string (as produced by the node RPC)
// into minor units exactly, without going through floating point.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > coinDecimals {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, coinDecimals)
	}
	frac += strings.Repeat("0", coinDecimals-len(frac))
	if whole == "" {
		whole = "0"
	}

	var units int64
	for _, digits := range []string{whole, frac} {
		for _, c := range digits {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
			d := int64(c - '0')
			if units > (1<<63-1-d)/10 {
				return 0, fmt.Errorf("amount %q overflows", s)
			}
			units = units*10 + d
		}
	}
	if neg {
		units = -units
	}
	return units, nil
}

// FormatAmount renders minor units as a decimal coin string with full
// precision, suitable both for RPC parameters and display.
func FormatAmount(units int64) string {
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	const scale = 100000000
	return fmt.Sprintf("%s%d.%08d", sign, units/scale, units%scale)
}
