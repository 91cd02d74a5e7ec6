// Package phone validates and normalises Indian mobile numbers.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidFormat = errors.New("invalid phone number format")

var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

func digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// national strips an optional 91 country code and returns the 10-digit number.
func national(raw string) string {
	d := digits(raw)
	if len(d) == 12 && strings.HasPrefix(d, "91") {
		return d[2:]
	}
	return d
}

// Valid reports whether raw is a 10-digit mobile number starting with 6-9,
// optionally prefixed with +91 and punctuated with spaces or dashes.
func Valid(raw string) bool {
	return mobilePattern.MatchString(national(raw))
}

// Normalize returns the +91 E.164 form of raw.
func Normalize(raw string) (string, error) {
	n := national(raw)
	if !mobilePattern.MatchString(n) {
		return "", ErrInvalidFormat
	}
	return "+91" + n, nil
}
