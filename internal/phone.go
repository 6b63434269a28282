package internal

import (
	"errors"
	"regexp"
	"strings"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ErrPhoneNotE164 is returned by NormalizePhone when the cleaned input does
// not form a valid E.164 number.
var ErrPhoneNotE164 = errors.New("not a valid E.164 phone number")

// NormalizePhone strips everything but digits and a leading plus, enforces
// the leading plus, and validates the result against E.164.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	phone := b.String()
	if phone == "" {
		return "", ErrPhoneNotE164
	}
	if phone[0] != '+' {
		phone = "+" + phone
	}
	if !e164.MatchString(phone) {
		return "", ErrPhoneNotE164
	}
	return phone, nil
}

// MaskPhone hides the middle digits of a phone number for logs and audit
// events: "+15550100001" -> "+155•••••001".
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return "•••"
	}
	return phone[:4] + "•••••" + phone[len(phone)-3:]
}
