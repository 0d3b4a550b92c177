package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a transactional outbox: records are
// inserted durably and a relay worker publishes them to Kafka afterwards. The
// table is insert-only; nothing in this system updates or deletes payloads.
//
// Schema:
//
//	CREATE TABLE audit_outbox (
//	    id           UUID PRIMARY KEY,
//	    payload      JSONB NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    published_at TIMESTAMPTZ
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_outbox (id, payload, created_at) VALUES ($1, $2, $3)`,
		uuid.New(), payload, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert audit outbox entry: %w", err)
	}
	return nil
}

// ListUnpublished returns up to limit entries not yet relayed, oldest first.
func (s *PostgresStore) ListUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, payload, created_at
		   FROM audit_outbox
		  WHERE published_at IS NULL
		  ORDER BY created_at
		  LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkPublished stamps entries as relayed. Idempotent.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE audit_outbox SET published_at = $1 WHERE id = ANY($2) AND published_at IS NULL`,
		time.Now(), ids,
	)
	if err != nil {
		return fmt.Errorf("mark audit entries published: %w", err)
	}
	return nil
}
