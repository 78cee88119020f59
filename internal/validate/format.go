package validate

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`1\d{10}|1\d{2}[- ]\d{4}[- ]\d{4}`)

	emailCandidatePattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	emailPattern          = regexp.MustCompile(`^[^\s\p{Z}@]+@[^\s\p{Z}@]+\.[^\s\p{Z}@]+$`)
)

// ContainsPhone reports whether raw contains an 11-digit mobile number
// starting with 1, optionally grouped as 1xx-xxxx-xxxx or 1xx xxxx xxxx.
func ContainsPhone(raw string) bool {
	return phonePattern.MatchString(raw)
}

// ExtractEmail returns the first local@domain.tld substring of raw, or raw
// trimmed of surrounding whitespace when none is found. It tolerates
// markdown, labels and other noise around the address.
func ExtractEmail(raw string) string {
	if found := emailCandidatePattern.FindString(raw); found != "" {
		return found
	}
	return strings.TrimSpace(raw)
}

// ValidEmail reports whether value as a whole is an email address.
func ValidEmail(value string) bool {
	return emailPattern.MatchString(value)
}
