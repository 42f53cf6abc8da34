package outbox

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
)

// Writer enqueues messages inside the caller's transaction. Enqueue failures
// are logged and dropped.
type Writer struct {
	repo Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewWriter(repo Repository, logger zerolog.Logger) *Writer {
	return &Writer{repo: repo, log: logger, now: time.Now}
}

// Notify encodes payload and stores it under topic.
func (w *Writer) Notify(ctx context.Context, topic string, payload interface{}) {
	if w == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.log.Warn().Err(err).Str("topic", topic).Msg("outbox payload encode failed")
		return
	}
	msg := &Message{ID: uuid.New(), Topic: topic, Payload: body, CreatedAt: w.now().UTC()}
	err = db.Savepoint(ctx, func(ctx context.Context) error {
		return w.repo.Insert(ctx, msg)
	})
	if err != nil {
		w.log.Warn().Err(err).Str("topic", topic).Msg("outbox enqueue failed")
	}
}
