package utils

import "strings"

// NormalizePhone rewrites a phone number into the single international form stored in the
// queue: digits only, country code first, no "+" or "00" prefix. A national number with a
// leading trunk zero gets countryCode prepended.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	trimmed := strings.TrimSpace(raw)

	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(trimmed, "+"):
		return digits
	case strings.HasPrefix(digits, "00"):
		return digits[2:]
	case strings.HasPrefix(digits, "0"):
		return countryCode + digits[1:]
	case countryCode != "" && !strings.HasPrefix(digits, countryCode) && len(digits) <= 10:
		return countryCode + digits
	default:
		return digits
	}
}
