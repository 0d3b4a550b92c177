// Package audit produces the non-repudiable trail of protocol decisions. The
// write path is append-only: records are never mutated or deleted here, and a
// failed append never alters the caller-visible outcome.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Store persists records append-only. Implementations: the postgres outbox
// store and the in-memory store for tests.
type Store interface {
	Append(ctx context.Context, rec Record) error
}

// Recorder writes one record per protocol decision. Its own failures are
// logged and swallowed: abuse accounting must not take the reset flow down
// with it.
type Recorder struct {
	store  Store
	logger *slog.Logger
	onDrop func()
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithDropHook registers a callback invoked when an append fails. Used for
// metrics.
func WithDropHook(fn func()) Option {
	return func(r *Recorder) { r.onDrop = fn }
}

// NewRecorder builds a Recorder over the given store.
func NewRecorder(store Store, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends the record, stamping the time if unset. It never returns an
// error; persistence failures are logged for on-call visibility only.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Error("audit append failed",
			"outcome", rec.Outcome,
			"correlation_id", rec.CorrelationID,
			"error", err)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}
