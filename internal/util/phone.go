package util

import (
	"regexp"
	"strings"
)

// nonDigitRegex matches every character that is not a decimal digit.
var nonDigitRegex = regexp.MustCompile(`\D`)

// DigitsOnly strips everything but digits from a phone number.
func DigitsOnly(phone string) string {
	return nonDigitRegex.ReplaceAllString(phone, "")
}

// NormalizePhone returns the last 10 digits of a phone number, which is the
// comparison key used for duplicate detection ("+15551234567" and "5551234567"
// normalize to the same value). Numbers with fewer digits are returned as-is.
func NormalizePhone(phone string) string {
	digits := DigitsOnly(phone)
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}

// ToE164 formats a phone number for carrier APIs. Ten-digit numbers are
// assumed to be North American; numbers already carrying a "+" keep their
// country code.
func ToE164(phone string) string {
	trimmed := strings.TrimSpace(phone)
	digits := DigitsOnly(trimmed)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "+") {
		return "+" + digits
	}
	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}
