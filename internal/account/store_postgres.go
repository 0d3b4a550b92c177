package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads the accounts table owned by the directory service.
// Lookups match on the normalized (lower-cased) address column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Account, error) {
	return s.find(ctx,
		`SELECT id, email, display_name, password_hash FROM accounts WHERE email = lower($1)`,
		normalize(email))
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Account, error) {
	return s.find(ctx,
		`SELECT id, email, display_name, password_hash FROM accounts WHERE id = $1`,
		id)
}

func (s *PostgresStore) find(ctx context.Context, query, arg string) (Account, error) {
	var acct Account
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&acct.ID, &acct.Email, &acct.DisplayName, &acct.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) EnumerateEmails(ctx context.Context, fn func(email string) error) error {
	rows, err := s.pool.Query(ctx, `SELECT email FROM accounts`)
	if err != nil {
		return fmt.Errorf("enumerate addresses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return fmt.Errorf("scan address: %w", err)
		}
		if err := fn(email); err != nil {
			return err
		}
	}
	return rows.Err()
}
