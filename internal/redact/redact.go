// Package redact removes sensitive identifiers from free text and masks
// contact fields for display.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),          // SSN
	regexp.MustCompile(`\b\d{4}\s\d{4}\s\d{4}\s\d{4}\b`), // card, grouped
	regexp.MustCompile(`\b\d{16}\b`),                     // card, bare
}

var nonDigit = regexp.MustCompile(`\D`)

// Text replaces SSNs and 16-digit card numbers with Placeholder.
func Text(s string) string {
	for _, p := range piiPatterns {
		s = p.ReplaceAllString(s, Placeholder)
	}
	return s
}

// Email masks the local part of an address: "john@x.com" becomes
// "j***n@x.com". Local parts of two characters or fewer are fully starred.
// Values without "@" are returned unchanged.
func Email(email string) string {
	name, domain, ok := strings.Cut(email, "@")
	if !ok {
		return email
	}
	runes := []rune(name)
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes)) + "@" + domain
	}
	return string(runes[0]) + "***" + string(runes[len(runes)-1]) + "@" + domain
}

// Phone keeps only the last four digits.
func Phone(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	if len(digits) < 4 {
		return "***"
	}
	return "***-***-" + digits[len(digits)-4:]
}
