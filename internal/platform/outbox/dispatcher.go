package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
)

type DispatcherConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// Dispatcher drains the outbox into a Publisher.
type Dispatcher struct {
	repo Repository
	tx   db.Transactor
	pub  Publisher
	cfg  DispatcherConfig
	log  zerolog.Logger
	now  func() time.Time
}

func NewDispatcher(repo Repository, tx db.Transactor, pub Publisher, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Dispatcher{repo: repo, tx: tx, pub: pub, cfg: cfg, log: logger, now: time.Now}
}

// RunOnce claims one batch and publishes it. It returns the number of
// messages delivered.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	delivered := 0
	err := d.tx.InTx(ctx, func(ctx context.Context) error {
		msgs, err := d.repo.ClaimPending(ctx, d.cfg.BatchSize, d.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := d.pub.Publish(ctx, m); err != nil {
				d.log.Warn().Err(err).Str("message_id", m.ID.String()).Str("topic", m.Topic).
					Int("attempts", m.Attempts+1).Msg("outbox publish failed")
				if err := d.repo.MarkFailed(ctx, m.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			if err := d.repo.MarkDispatched(ctx, m.ID, d.now().UTC()); err != nil {
				return err
			}
			delivered++
		}
		return nil
	})
	return delivered, err
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		n, err := d.RunOnce(ctx)
		if err != nil {
			d.log.Error().Err(err).Msg("outbox dispatch failed")
		} else if n > 0 {
			d.log.Debug().Int("delivered", n).Msg("outbox dispatched")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
