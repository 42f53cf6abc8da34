package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"200", "200"},
		{"-3.335", "-3.34"},
	}
	for _, tt := range tests {
		got := Round(decimal.RequireFromString(tt.in))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Round(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestPercentAndShare(t *testing.T) {
	if got := Percent(FromInt(1000), FromInt(10)); !got.Equal(FromInt(100)) {
		t.Errorf("expected 100, got %s", got)
	}
	if got := Share(MustParse("333.33"), MustParse("0.1")); !got.Equal(MustParse("33.33")) {
		t.Errorf("expected 33.33, got %s", got)
	}
}

func TestMinAndClamp(t *testing.T) {
	if got := Min(FromInt(5), FromInt(3), FromInt(9)); !got.Equal(FromInt(3)) {
		t.Errorf("expected 3, got %s", got)
	}
	if got := ClampZero(FromInt(-4)); !got.IsZero() {
		t.Errorf("expected 0, got %s", got)
	}
	if got := Sum(FromInt(1), FromInt(2), MustParse("0.5")); !got.Equal(MustParse("3.5")) {
		t.Errorf("expected 3.5, got %s", got)
	}
}
