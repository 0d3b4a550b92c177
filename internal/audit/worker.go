package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Entry is one outbox row awaiting relay.
type Entry struct {
	ID        uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Source is the outbox side of the relay. Implemented by PostgresStore.
type Source interface {
	ListUnpublished(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Sink receives relayed entries. Implemented by the Kafka sink.
type Sink interface {
	Publish(ctx context.Context, entries []Entry) error
}

// Worker drains the outbox into the sink on an interval. Failures leave
// entries unpublished; the next tick retries them, so delivery is
// at-least-once and the sink must tolerate duplicates.
type Worker struct {
	source    Source
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewWorker(source Source, sink Sink, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{
		source:    source,
		sink:      sink,
		interval:  interval,
		batchSize: 256,
		logger:    logger,
	}
}

// Run loops until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.Warn("audit relay pass failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	for {
		entries, err := w.source.ListUnpublished(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		if err := w.sink.Publish(ctx, entries); err != nil {
			return err
		}
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		if err := w.source.MarkPublished(ctx, ids); err != nil {
			return err
		}
		if len(entries) < w.batchSize {
			return nil
		}
	}
}
