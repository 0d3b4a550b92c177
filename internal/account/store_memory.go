package account

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore keeps accounts in maps. It backs tests and the no-postgres
// development mode; it intentionally favors clarity over performance.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Account
	byEmail map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

// Save inserts or replaces an account.
func (s *InMemoryStore) Save(_ context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[acct.ID] = acct
	s.byEmail[normalize(acct.Email)] = acct.ID
	return nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byEmail[normalize(email)]; ok {
		return s.byID[id], nil
	}
	return Account{}, ErrNotFound
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acct, ok := s.byID[id]; ok {
		return acct, nil
	}
	return Account{}, ErrNotFound
}

func (s *InMemoryStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	acct.PasswordHash = passwordHash
	s.byID[id] = acct
	return nil
}

func (s *InMemoryStore) EnumerateEmails(_ context.Context, fn func(email string) error) error {
	s.mu.RLock()
	emails := make([]string, 0, len(s.byEmail))
	for email := range s.byEmail {
		emails = append(emails, email)
	}
	s.mu.RUnlock()

	for _, email := range emails {
		if err := fn(email); err != nil {
			return err
		}
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
