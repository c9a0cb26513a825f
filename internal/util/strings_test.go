package util

import "testing"

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"tiny max", "hello", 2, "he"},
		{"zero max", "hello", 0, ""},
		{"multibyte", "héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateString(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestTruncateANSIPreservesShortStrings(t *testing.T) {
	styled := "\x1b[31mred\x1b[0m"
	if got := TruncateANSI(styled, 10); got != styled {
		t.Errorf("TruncateANSI should not modify strings within width, got %q", got)
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("one\ntwo\nthree"); got != "one" {
		t.Errorf("FirstLine = %q, want one", got)
	}
	if got := FirstLine("single"); got != "single" {
		t.Errorf("FirstLine = %q, want single", got)
	}
}

func TestPluralize(t *testing.T) {
	if got := Pluralize(1, "document", "documents"); got != "document" {
		t.Errorf("Pluralize(1) = %q", got)
	}
	if got := Pluralize(3, "document", "documents"); got != "documents" {
		t.Errorf("Pluralize(3) = %q", got)
	}
}
