package whatsapp

import (
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`\d+`)

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

func digitsOnly(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
}

// NormalizePhone strips every non-digit character and checks the result has
// between 10 and 15 digits, the range WhatsApp accepts for a recipient.
func NormalizePhone(value string) (string, error) {
	digits := digitsOnly(value)
	if n := len(digits); n < minPhoneDigits || n > maxPhoneDigits {
		return "", &ValidationError{Field: "to", Reason: "phone number must have 10 to 15 digits"}
	}
	return digits, nil
}
