package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and HTML-escapes free text before it is stored.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

var suspiciousTokens = []string{"<", ">", "{", "}", "script", "onerror", "onload", "javascript:"}

// ContainsSuspicious flags markup or template fragments in user supplied text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, tok := range suspiciousTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// MaskPhone keeps the country prefix and the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	keep := 0
	if strings.HasPrefix(phone, "+") && len(phone) > 7 {
		keep = 3
	}
	return phone[:keep] + strings.Repeat("*", len(phone)-keep-4) + phone[len(phone)-4:]
}
