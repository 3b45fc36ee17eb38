package scraper

import "testing"

func TestParseCompactCount(t *testing.T) {
	// WHAT: The counter formats the platform renders all parse to the
	// right integer; garbage fails instead of parsing as zero.
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"0", 0, false},
		{"1,234", 1234, false},
		{"1.234", 1234, false}, // European thousands separator
		{"1.2K", 1200, false},
		{"1,2K", 1200, false}, // comma decimal separator
		{"12.5M", 12_500_000, false},
		{"3B", 3_000_000_000, false},
		{"12 345", 12345, false},     // narrow space grouping
		{"4,5 M", 4_500_000, false}, // non-breaking space before suffix
		{"1,234,567", 1_234_567, false},
		{" 7 ", 7, false},
		{"", 0, true},
		{"Likes", 0, true},
		{"K", 0, true},
		{"-5", 0, true},
		{"12,5", 0, true},    // locale decimal without suffix, not 125
		{"12.5", 0, true},    // same with dot decimal
		{"1234,5", 0, true},  // short trailing group
		{"1,234.5", 0, true}, // mixed separators
	}
	for _, tc := range cases {
		got, err := ParseCompactCount(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCompactCount(%q) = %d, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCompactCount(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseCompactCount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFirstCount(t *testing.T) {
	// WHAT: aria-label text like "1,234 Likes. Like" yields the number;
	// text with no number fails.
	if n, err := firstCount("1,234 Likes. Like"); err != nil || n != 1234 {
		t.Errorf("firstCount = %d, %v; want 1234", n, err)
	}
	if n, err := firstCount("12.5K views"); err != nil || n != 12500 {
		t.Errorf("firstCount = %d, %v; want 12500", n, err)
	}
	if _, err := firstCount("Like this post"); err == nil {
		t.Error("expected error for label without a count")
	}
}

func TestParseCounter_NilOnMissing(t *testing.T) {
	// WHAT: Absent or unreadable labels yield nil, never zero.
	// WHY: The validator distinguishes "not shown" from "zero engagement".
	if got := parseCounter(""); got != nil {
		t.Errorf("parseCounter(\"\") = %d, want nil", *got)
	}
	if got := parseCounter("Bookmark"); got != nil {
		t.Errorf("parseCounter(label) = %d, want nil", *got)
	}
	if got := parseCounter("99 Reposts. Repost"); got == nil || *got != 99 {
		t.Errorf("parseCounter = %v, want 99", got)
	}
}
