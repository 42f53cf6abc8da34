package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig carries the connection settings read from configuration.
type PoolConfig struct {
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	// LockTimeout bounds every row-lock wait; a timed-out wait surfaces as
	// ErrConcurrentModification.
	LockTimeout time.Duration
	// Timezone is applied to every session so DATE columns follow the
	// hospital calendar.
	Timezone string
}

func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pc.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = pc.MaxConns
	cfg.MinConns = pc.MinConns
	if pc.LockTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%d", pc.LockTimeout.Milliseconds())
	}
	if pc.Timezone != "" {
		cfg.ConnConfig.RuntimeParams["timezone"] = pc.Timezone
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
