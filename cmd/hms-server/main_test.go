package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/domain/inpatient"
)

func TestSplitRoles(t *testing.T) {
	got := splitRoles(" billing, cashier ,,nurse")
	want := []string{"billing", "cashier", "nurse"}
	if len(got) != len(want) {
		t.Fatalf("splitRoles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("role %d = %q, want %q", i, got[i], want[i])
		}
	}
	if splitRoles("") != nil {
		t.Error("empty input should yield no roles")
	}
}

func TestDrain(t *testing.T) {
	batches := []int{50, 50, 7, 0}
	calls := 0
	total, err := drain(context.Background(), func(context.Context) (int, error) {
		n := batches[calls]
		calls++
		return n, nil
	})
	if err != nil || total != 107 || calls != 4 {
		t.Errorf("drain = %d after %d calls (%v), want 107 after 4", total, calls, err)
	}

	boom := errors.New("broker down")
	total, err = drain(context.Background(), func(context.Context) (int, error) { return 3, boom })
	if !errors.Is(err, boom) || total != 3 {
		t.Errorf("expected partial total with error, got %d %v", total, err)
	}
}

func TestParseDay(t *testing.T) {
	got, err := parseDay("2024-05-02", time.UTC)
	if err != nil || !got.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseDay = %s %v", got, err)
	}
	if _, err := parseDay("02/05/2024", time.UTC); err == nil {
		t.Error("expected error for non ISO date")
	}
	today, err := parseDay("", time.UTC)
	if err != nil || today.Hour() != 0 || today.Location() != time.UTC {
		t.Errorf("default day should be a UTC midnight, got %s %v", today, err)
	}
}

func TestRecoveryConfigOverride(t *testing.T) {
	base := inpatient.DefaultRecoveryConfig()
	cmd := &cobra.Command{}
	cmd.Flags().String("strategy", "", "")

	got, err := recoveryConfig(cmd, base)
	if err != nil || got.Strategy != base.Strategy {
		t.Errorf("no flag should keep %s, got %s %v", base.Strategy, got.Strategy, err)
	}

	cmd.Flags().Set("strategy", "gradual")
	got, err = recoveryConfig(cmd, base)
	if err != nil || got.Strategy != inpatient.StrategyGradual {
		t.Errorf("expected gradual, got %s %v", got.Strategy, err)
	}

	cmd.Flags().Set("strategy", "whenever")
	if _, err := recoveryConfig(cmd, base); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestCommandTree(t *testing.T) {
	root := &cobra.Command{Use: "hms-server"}
	root.AddCommand(serveCmd(), migrateCmd(), accrualCmd(), recoveryCmd(), outboxCmd(), tokenCmd())
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"accrual", "run"},
		{"recovery", "plan"},
		{"recovery", "run"},
		{"outbox", "dispatch"},
		{"token", "issue"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
