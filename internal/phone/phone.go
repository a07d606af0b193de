package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when a number carries no country code.
const DefaultRegion = "US"

var ErrInvalidNumber = errors.New("phone: invalid number")

// Normalize prepares a phone number for the SMS gateway.
//
// Everything except digits and '+' is stripped. A number starting with '+' is returned as is,
// a bare 10-digit number is treated as US/Canada and prefixed with "+1", and an 11-digit number
// starting with 1 gets a bare '+'. Anything else is returned stripped and left for the gateway
// to accept or reject.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	switch {
	case strings.HasPrefix(s, "+"):
		return s
	case len(s) == 10:
		return "+1" + s
	case len(s) == 11 && s[0] == '1':
		return "+" + s
	default:
		return s
	}
}

// Canonical parses raw with libphonenumber rules and returns the E.164 form.
// It is stricter than Normalize and is used where numbers are compared, e.g. when an inbound
// message has to be matched to a stored contact.
func Canonical(raw, region string) (string, error) {
	if region == "" {
		region = DefaultRegion
	}
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", ErrInvalidNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// LookupKey returns the best key for matching raw against stored E.164 numbers.
// Numbers libphonenumber rejects fall back to Normalize so short codes still match.
func LookupKey(raw, region string) string {
	if e164, err := Canonical(raw, region); err == nil {
		return e164
	}
	return Normalize(raw)
}
