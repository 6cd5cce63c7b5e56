package ticker

import (
	"errors"
	"testing"
)

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"aapl":     "AAPL",
		" msft ":   "MSFT",
		"brk-b":    "BRK-B",
		"BRK.A":    "BRK.A",
		"^gspc":    "^GSPC",
		"eurusd=x": "EURUSD=X",
		"7203.t":   "7203.T",
	}
	for in, want := range tests {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"-AAPL",
		"AA PL",
		"AAPL$",
		"ABCDEFGHIJKLMNOPQ", // too long
	}
	for _, in := range tests {
		_, err := Normalize(in)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("Normalize(%q): expected ErrInvalidTicker, got %v", in, err)
		}
	}
}

func TestNormalizeAll_Dedupes(t *testing.T) {
	got, err := NormalizeAll([]string{"aapl", "MSFT", "AAPL", " msft"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("expected [AAPL MSFT], got %v", got)
	}
}

func TestNormalizeAll_RejectsInvalid(t *testing.T) {
	if _, err := NormalizeAll([]string{"AAPL", "bad symbol"}); err == nil {
		t.Error("expected error for invalid symbol in batch")
	}
}
