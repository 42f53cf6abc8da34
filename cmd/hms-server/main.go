package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/app"
	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/lock"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/outbox"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "hms-server",
		Short:         "Hospital financial core: wallets, invoices, payments and admission billing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(accrualCmd())
	rootCmd.AddCommand(recoveryCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required for this command")
	}
	return db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		LockTimeout: cfg.DBLockTimeout,
		Timezone:    cfg.HospitalTimezone,
	})
}

// runtime is the wired core plus the connections it owns.
type runtime struct {
	cfg    *config.Config
	log    zerolog.Logger
	app    *app.App
	pool   *pgxpool.Pool
	redis  *lock.RedisLocker
	closer []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closer) - 1; i >= 0; i-- {
		rt.closer[i]()
	}
}

// openRuntime wires the core. allowMemory permits the in-memory repositories
// when the configuration asks for them; batch commands always need PostgreSQL.
func openRuntime(ctx context.Context, allowMemory bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: newLogger(cfg.Env)}

	loc, _ := cfg.Location()
	share, _ := cfg.PharmacyShare()
	recovery, _ := cfg.Recovery()
	opts := app.Options{
		Location:      loc,
		PharmacyShare: share,
		Recovery:      recovery,
		TxRetries:     cfg.DBTxRetries,
	}

	if cfg.RedisURL != "" {
		locker, err := lock.NewRedisLocker(cfg.RedisURL, "hms:lock:")
		if err != nil {
			return nil, err
		}
		if err := locker.Ping(ctx); err != nil {
			_ = locker.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rt.redis = locker
		rt.closer = append(rt.closer, func() { _ = locker.Close() })
		opts.Locker = locker
	}

	if allowMemory && cfg.InMemory() {
		rt.log.Warn().Msg("DATABASE_URL not set: using in-memory repositories, data is lost on exit")
		rt.app = app.NewMemory(opts, rt.log)
		return rt, nil
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.pool = pool
	rt.closer = append(rt.closer, pool.Close)
	rt.app = app.NewPostgres(pool, opts, rt.log)
	return rt, nil
}

// publisher picks RabbitMQ, then the webhook, then the log.
func (rt *runtime) publisher() (outbox.Publisher, error) {
	if rt.cfg.RabbitMQURL == "" {
		if rt.cfg.OutboxWebhookURL != "" {
			return outbox.NewWebhookPublisher(rt.cfg.OutboxWebhookURL, rt.cfg.OutboxWebhookKey), nil
		}
		return outbox.NewLogPublisher(rt.log), nil
	}
	conn, err := amqp.Dial(rt.cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	pub, err := outbox.NewAMQPPublisher(conn, rt.cfg.OutboxQueue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	rt.closer = append(rt.closer, func() {
		_ = pub.Close()
		_ = conn.Close()
	})
	return pub, nil
}

func (rt *runtime) dispatcher() (*outbox.Dispatcher, error) {
	pub, err := rt.publisher()
	if err != nil {
		return nil, err
	}
	return rt.app.Dispatcher(pub, outbox.DispatcherConfig{
		BatchSize:    rt.cfg.OutboxBatchSize,
		PollInterval: rt.cfg.OutboxPollInterval,
	}), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, the daily scheduler and the outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.log

	deps := map[string]db.Pinger{}
	if rt.redis != nil {
		deps["redis"] = rt.redis
	}
	e := rt.app.NewServer(app.ServerConfig{
		DevAuth: cfg.IsDev() && cfg.AuthSigningKey == "",
		JWT: auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		},
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		},
		Health: db.HealthHandler(rt.pool, deps),
	}, logger)

	hour, minute, _ := cfg.AccrualTime()
	go app.NewScheduler(rt.app, hour, minute, logger.With().Str("component", "scheduler").Logger()).Run(ctx)

	dispatcher, err := rt.dispatcher()
	if err != nil {
		return err
	}
	go dispatcher.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
