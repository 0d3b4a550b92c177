package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Append(context.Context, Record) error {
	return errors.New("store down")
}

func TestRecorder_StampsTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	rec := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.Record(context.Background(), Record{
		CorrelationID: "corr-1",
		CallerAddress: "10.0.0.1",
		Outcome:       OutcomeRequested,
	})

	records := store.List()
	require.Len(t, records, 1)
	assert.False(t, records[0].Timestamp.IsZero())
	assert.Equal(t, OutcomeRequested, records[0].Outcome)
}

func TestRecorder_SwallowsStoreFailure(t *testing.T) {
	dropped := 0
	rec := NewRecorder(failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithDropHook(func() {
		dropped++
	}))

	// Must not panic or surface the error.
	rec.Record(context.Background(), Record{Outcome: OutcomeReset})
	assert.Equal(t, 1, dropped)
}

// memorySource and recordingSink exercise the relay worker without postgres
// or kafka.
type memorySource struct {
	mu        sync.Mutex
	entries   []Entry
	published map[uuid.UUID]bool
}

func (s *memorySource) ListUnpublished(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if !s.published[e.ID] {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memorySource) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.published[id] = true
	}
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (s *recordingSink) Publish(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	for _, e := range entries {
		s.payloads = append(s.payloads, e.Payload)
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func TestWorker_RelaysAndMarks(t *testing.T) {
	source := &memorySource{published: map[uuid.UUID]bool{}}
	for i := 0; i < 3; i++ {
		source.entries = append(source.entries, Entry{
			ID:        uuid.New(),
			Payload:   []byte(`{"outcome":"requested"}`),
			CreatedAt: time.Now(),
		})
	}
	sink := &recordingSink{}
	w := NewWorker(source, sink, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, w.drain(context.Background()))

	assert.Equal(t, 3, sink.count())
	remaining, err := source.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "relayed entries must be marked published")
}

func TestWorker_FailedPublishLeavesEntriesForRetry(t *testing.T) {
	source := &memorySource{published: map[uuid.UUID]bool{}}
	source.entries = append(source.entries, Entry{ID: uuid.New(), Payload: []byte(`{}`), CreatedAt: time.Now()})
	sink := &recordingSink{fail: true}
	w := NewWorker(source, sink, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.Error(t, w.drain(context.Background()))

	remaining, err := source.ListUnpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "unacked entries stay in the outbox")

	sink.fail = false
	require.NoError(t, w.drain(context.Background()))
	assert.Equal(t, 1, sink.count())
}
