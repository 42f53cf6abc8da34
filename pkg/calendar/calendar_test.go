package calendar

import (
	"testing"
	"time"
)

func TestDateOf_UsesLocation(t *testing.T) {
	lagos := time.FixedZone("WAT", 3600)
	// 23:30 UTC on the 1st is 00:30 on the 2nd in Lagos
	instant := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	got := DateOf(instant, lagos)
	want := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %s, got %s", want, got)
	}
	if got := DateOf(instant, nil); got.Day() != 1 {
		t.Errorf("nil location should default to UTC, got %s", got)
	}
}

func TestDaysAndSpan(t *testing.T) {
	start := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	days := Days(start, end)
	if len(days) != 3 || days[1].Day() != 29 {
		t.Errorf("unexpected days %v", days)
	}
	if Span(start, end) != 3 {
		t.Errorf("expected span 3, got %d", Span(start, end))
	}
	if Span(end, start) != 0 || len(Days(end, start)) != 0 {
		t.Error("reversed range should be empty")
	}
	if Span(start, start) != 1 {
		t.Error("same day should span 1")
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("2024-05-01")
	if err != nil || d.Month() != time.May {
		t.Fatalf("unexpected %v %v", d, err)
	}
	if _, err := Parse("01/05/2024"); err == nil {
		t.Error("expected error")
	}
}
