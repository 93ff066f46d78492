// Package cuit normalizes and validates Argentine tax identification
// numbers (CUIT/CUIL): 11 digits, usually written XX-XXXXXXXX-X.
package cuit

import (
	"fmt"
	"strings"
)

// checksum weights applied to the first ten digits.
var weights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// Normalize strips separators and returns the digits-only CUIT.
// It fails when the input contains non-separator garbage or does not
// reduce to exactly 11 digits.
func Normalize(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
			// separator, skip
		default:
			return "", fmt.Errorf("cuit %q: invalid character %q", s, r)
		}
	}
	digits := b.String()
	if len(digits) != 11 {
		return "", fmt.Errorf("cuit %q: expected 11 digits, got %d", s, len(digits))
	}
	return digits, nil
}

// Valid reports whether s normalizes to 11 digits with a correct mod-11
// verifier digit.
func Valid(s string) bool {
	digits, err := Normalize(s)
	if err != nil {
		return false
	}
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	ver := 11 - sum%11
	switch ver {
	case 11:
		ver = 0
	case 10:
		ver = 9
	}
	return int(digits[10]-'0') == ver
}

// Format renders a normalized CUIT in the conventional XX-XXXXXXXX-X form.
// Inputs that cannot be normalized are returned unchanged.
func Format(s string) string {
	digits, err := Normalize(s)
	if err != nil {
		return s
	}
	return digits[:2] + "-" + digits[2:10] + "-" + digits[10:]
}
