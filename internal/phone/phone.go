// Package phone formats subscriber phone numbers into the program's
// international mask: +CCC XX XXX XXXX.
package phone

import (
	"strings"
)

const (
	CountryCode = "216"
	// MaxDigits counts the country code plus the 9-digit subscriber number.
	MaxDigits = 12

	intlPrefix = "00"
)

// groups are the digit widths rendered by Format, country code first.
var groups = []int{3, 2, 3, 4}

// Digits returns the ASCII digits of s in order.
func Digits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Normalize returns the significant digits of s with the country code
// prefixed when missing, truncated to MaxDigits. A leading 00 international
// prefix is dropped.
func Normalize(s string) string {
	d := strings.TrimPrefix(Digits(s), intlPrefix)
	if d == "" {
		return ""
	}
	if !strings.HasPrefix(d, CountryCode) {
		d = CountryCode + d
	}
	if len(d) > MaxDigits {
		d = d[:MaxDigits]
	}
	return d
}

// Format renders s progressively into the mask. Applying it to its own
// output returns the same value.
func Format(s string) string {
	d := Normalize(s)
	if d == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('+')
	pos := 0
	for i, width := range groups {
		if pos >= len(d) {
			break
		}
		end := pos + width
		if end > len(d) {
			end = len(d)
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(d[pos:end])
		pos = end
	}
	return sb.String()
}

// Complete reports whether s carries exactly MaxDigits significant digits.
func Complete(s string) bool {
	return len(Normalize(s)) == MaxDigits
}

// E164 returns +<digits> for a complete number and "" otherwise.
func E164(s string) string {
	d := Normalize(s)
	if len(d) != MaxDigits {
		return ""
	}
	return "+" + d
}
