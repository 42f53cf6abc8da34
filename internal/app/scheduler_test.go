package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/wallet"
)

func TestNextRun(t *testing.T) {
	lagos := time.FixedZone("WAT", 3600)
	tests := []struct {
		name string
		now  time.Time
		h, m int
		want time.Time
	}{
		{"later today", time.Date(2024, 5, 1, 20, 0, 0, 0, lagos), 23, 30, time.Date(2024, 5, 1, 23, 30, 0, 0, lagos)},
		{"midnight rolls over", time.Date(2024, 5, 1, 20, 0, 0, 0, lagos), 0, 0, time.Date(2024, 5, 2, 0, 0, 0, 0, lagos)},
		{"exactly now waits a day", time.Date(2024, 5, 1, 0, 0, 0, 0, lagos), 0, 0, time.Date(2024, 5, 2, 0, 0, 0, 0, lagos)},
		{"utc instant in local day", time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC), 0, 0, time.Date(2024, 6, 2, 0, 0, 0, 0, lagos)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextRun(tt.now, lagos, tt.h, tt.m); !got.Equal(tt.want) {
				t.Errorf("NextRun = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestScheduler_RunDaily(t *testing.T) {
	ctx := context.Background()
	a := newTestApp()
	pid := register(t, a, "Kemi Ola")
	_, bed := ward(t, a, "1500")
	admit(t, a, pid, bed, 1)
	deposit(t, a, pid, "10000")

	s := NewScheduler(a, 0, 0, zerolog.Nop())
	for i := 0; i < 2; i++ {
		if err := s.RunDaily(ctx, today()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n := len(entries(t, a, pid, wallet.KindDailyAdmissionCharge)); n != 2 {
		t.Errorf("expected 2 daily entries after two runs, got %d", n)
	}
	if got := balance(t, a, pid); got != "7000.00" {
		t.Errorf("expected wallet 7000.00, got %s", got)
	}
}
