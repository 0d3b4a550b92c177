// Package account is the port onto the system of record. The reset protocol
// only reads accounts, updates password hashes, and enumerates addresses for
// filter rebuilds; account CRUD itself lives elsewhere.
package account

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no account matches the lookup.
var ErrNotFound = errors.New("account not found")

// Account is the subset of the directory record this protocol touches.
type Account struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
}

// Store is implemented by the postgres store and the in-memory test double.
type Store interface {
	// FindByEmail looks up an account by normalized address.
	FindByEmail(ctx context.Context, email string) (Account, error)
	// FindByID looks up an account by id.
	FindByID(ctx context.Context, id string) (Account, error)
	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// EnumerateEmails streams every registered address to fn. Used only by
	// the membership filter rebuild.
	EnumerateEmails(ctx context.Context, fn func(email string) error) error
}
