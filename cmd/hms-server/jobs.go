package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/domain/inpatient"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
	"github.com/hms/hms/pkg/calendar"
)

func printJSON(w io.Writer, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrations.FS, schema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS, schema).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

// parseDay reads --date, defaulting to today in the hospital timezone.
func parseDay(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return calendar.Today(time.Now(), loc), nil
	}
	return calendar.Parse(raw)
}

func accrualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accrual",
		Short: "Daily admission charges",
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Charge every active admission for each uncharged day up to --date",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			raw, _ := cmd.Flags().GetString("date")
			day, err := parseDay(raw, rt.app.Location)
			if err != nil {
				return err
			}
			report, err := rt.app.Inpatient.DailyAccrualTick(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	runCmd.Flags().String("date", "", "Target day as YYYY-MM-DD (default: today in HOSPITAL_TIMEZONE)")
	cmd.AddCommand(runCmd)
	return cmd
}

// recoveryConfig overrides the configured strategy with --strategy.
func recoveryConfig(cmd *cobra.Command, base inpatient.RecoveryConfig) (inpatient.RecoveryConfig, error) {
	raw, _ := cmd.Flags().GetString("strategy")
	if raw == "" {
		return base, nil
	}
	st, err := inpatient.ParseStrategy(raw)
	if err != nil {
		return base, err
	}
	base.Strategy = st
	return base, nil
}

func recoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Outstanding admission balance recovery",
	}

	planCmd := &cobra.Command{
		Use:   "plan <admission-id>",
		Short: "Show how much would be recovered from the wallet now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid admission id: %w", err)
			}
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg, err := recoveryConfig(cmd, rt.app.Recovery)
			if err != nil {
				return err
			}
			plan, err := rt.app.Inpatient.PlanRecovery(cmd.Context(), id, cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}
	planCmd.Flags().String("strategy", "", "Override RECOVERY_STRATEGY")
	cmd.AddCommand(planCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and execute recovery for every active admission",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg, err := recoveryConfig(cmd, rt.app.Recovery)
			if err != nil {
				return err
			}
			report, err := rt.app.Inpatient.RunRecovery(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	runCmd.Flags().String("strategy", "", "Override RECOVERY_STRATEGY")
	cmd.AddCommand(runCmd)

	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Notification outbox",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dispatch",
		Short: "Publish every pending outbox message and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			d, err := rt.dispatcher()
			if err != nil {
				return err
			}
			total, err := drain(cmd.Context(), d.RunOnce)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %d message(s).\n", total)
			return nil
		},
	})
	return cmd
}

// drain calls runOnce until a batch delivers nothing.
func drain(ctx context.Context, runOnce func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		n, err := runOnce(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer tokens for operators and integrations",
	}
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, subject, splitRoles(roles), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().String("subject", "", "User id placed in the sub claim")
	issueCmd.Flags().String("roles", auth.RoleCashier, "Comma-separated roles")
	issueCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.AddCommand(issueCmd)
	return cmd
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
