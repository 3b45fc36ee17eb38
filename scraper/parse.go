// CLAUDE:SUMMARY Compact count parsing — "1.2K" / "12 345" / "4,5 M" style strings to int64.
package scraper

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoCount means the text carried no parseable number.
var ErrNoCount = errors.New("scraper: no count in text")

var suffixMultipliers = map[byte]int64{
	'K': 1_000,
	'M': 1_000_000,
	'B': 1_000_000_000,
}

// ParseCompactCount parses the abbreviated counter formats the platform
// renders: "42", "1,234", "1.2K", "12,5 M" (some locales use a comma
// decimal separator and a non-breaking space before the suffix).
func ParseCompactCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrNoCount
	}

	// Normalize: drop spaces, unify the decimal separator.
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ':
			return -1
		default:
			return r
		}
	}, s)
	s = strings.ToUpper(s)

	mult := int64(1)
	if m, ok := suffixMultipliers[s[len(s)-1]]; ok {
		mult = m
		s = s[:len(s)-1]
	}
	if s == "" {
		return 0, ErrNoCount
	}

	if mult == 1 {
		// Plain integer, possibly with thousands separators. Separators
		// are only stripped when they form proper 3-digit groupings;
		// "12,5" is a locale decimal with a missing suffix, not 125.
		plain, ok := stripGrouping(s)
		if !ok {
			return 0, ErrNoCount
		}
		n, err := strconv.ParseInt(plain, 10, 64)
		if err != nil || n < 0 {
			return 0, ErrNoCount
		}
		return n, nil
	}

	// Abbreviated: a single decimal separator is allowed, comma or dot.
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, ErrNoCount
	}
	return int64(f * float64(mult)), nil
}

// stripGrouping removes thousands separators when every group past the
// first has exactly three digits. Mixed comma-and-dot strings and short
// trailing groups are rejected rather than guessed at.
func stripGrouping(s string) (string, bool) {
	if !strings.ContainsAny(s, ",.") {
		return s, true
	}
	sep := ","
	if strings.Contains(s, ".") {
		if strings.Contains(s, ",") {
			return "", false
		}
		sep = "."
	}
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

// firstCount scans whitespace-separated tokens and returns the first one
// that parses as a count. Used on aria-label text such as "1,234 Likes".
func firstCount(text string) (int64, error) {
	for _, tok := range strings.Fields(text) {
		if n, err := ParseCompactCount(tok); err == nil {
			return n, nil
		}
	}
	return 0, ErrNoCount
}
