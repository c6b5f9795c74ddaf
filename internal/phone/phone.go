// Package phone normalizes lead phone numbers to E.164.
package phone

import (
	"errors"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "US"

// ErrInvalid is returned for input that cannot be a phone number.
var ErrInvalid = errors.New("phone: invalid number")

// E164 parses raw (any common US formatting, or an international number
// with a leading +) and returns it in E.164 form, e.g. "+12072103282".
func E164(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalid
	}
	num, err := libphonenumber.Parse(raw, DefaultRegion)
	if err != nil {
		return "", ErrInvalid
	}
	if !libphonenumber.IsPossibleNumber(num) {
		return "", ErrInvalid
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

// HashDigits returns the number as country code plus national digits with no
// symbols, the form ad platforms expect before hashing. Unparseable input
// falls back to its digits.
func HashDigits(raw string) string {
	if e, err := E164(raw); err == nil {
		return strings.TrimPrefix(e, "+")
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
