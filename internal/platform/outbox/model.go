// Package outbox implements the transactional outbox: notification and audit
// messages are written in the same transaction as the financial change that
// caused them and delivered later by a Dispatcher. Delivery failures never
// reach the financial commit.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("outbox message not found")

// Message is one pending or delivered outbox row.
type Message struct {
	ID           uuid.UUID  `json:"id"`
	Topic        string     `json:"topic"`
	Payload      []byte     `json:"payload"`
	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
}

type Repository interface {
	Insert(ctx context.Context, m *Message) error
	// ClaimPending locks up to limit undelivered messages with fewer than
	// maxAttempts attempts, oldest first. Must run inside a transaction.
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*Message, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	CountPending(ctx context.Context) (int, error)
}

// Publisher delivers a message to its transport.
type Publisher interface {
	Publish(ctx context.Context, m *Message) error
}
