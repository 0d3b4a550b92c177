// Package token owns the reset credential lifecycle: minting, verification,
// single-use consumption and expiry, all against Redis. The plaintext secret
// is disclosed exactly once at issue time and never persisted; only a keyed
// digest of it is stored.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SecretBytes is the entropy of a freshly minted secret before encoding.
const SecretBytes = 48

// VerifyOutcome is a first-class result, not an error: not-found and mismatch
// are expected branches of the protocol.
type VerifyOutcome int

const (
	OutcomeNotFound VerifyOutcome = iota
	OutcomeMismatch
	OutcomeValid
)

// VerifyResult carries the account only when the outcome is OutcomeValid.
type VerifyResult struct {
	Outcome   VerifyOutcome
	AccountID string
}

// Credential is returned from Issue. Secret is the one-time plaintext for the
// out-of-band reset link.
type Credential struct {
	ID             string
	Secret         string
	AccountID      string
	ContactAddress string
	IssuedAt       time.Time
	TTL            time.Duration
}

// Manager mints and verifies reset credentials. The MAC key must be dedicated
// to this purpose and not shared with any other token scheme.
type Manager struct {
	redis  redis.UniversalClient
	macKey []byte
	ttl    time.Duration
}

// NewManager builds a Manager. The TTL applies to every credential and to the
// per-account sibling index.
func NewManager(client redis.UniversalClient, macKey []byte, ttl time.Duration) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if len(macKey) == 0 {
		return nil, fmt.Errorf("mac key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("credential ttl must be positive")
	}
	return &Manager{redis: client, macKey: macKey, ttl: ttl}, nil
}

// Issue mints a credential for the account: a random UUID id, a 48-byte
// URL-safe secret, and a stored record holding the secret's HMAC digest. The
// record and the account's sibling index both carry the fixed TTL.
func (m *Manager) Issue(ctx context.Context, accountID, contactAddress string) (*Credential, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	cred := &Credential{
		ID:             uuid.NewString(),
		Secret:         base64.RawURLEncoding.EncodeToString(buf),
		AccountID:      accountID,
		ContactAddress: contactAddress,
		IssuedAt:       time.Now(),
		TTL:            m.ttl,
	}

	digest := m.digest(cred.Secret)

	_, err := m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		ck := credentialKey(cred.ID)
		pipe.HSet(ctx, ck, map[string]any{
			"account_id": accountID,
			"contact":    contactAddress,
			"digest":     digest,
			"issued_at":  strconv.FormatInt(cred.IssuedAt.Unix(), 10),
		})
		pipe.Expire(ctx, ck, m.ttl)
		ak := accountIndexKey(accountID)
		pipe.SAdd(ctx, ak, cred.ID)
		pipe.Expire(ctx, ak, m.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	return cred, nil
}

// Verify looks up the credential and compares the presented secret's digest
// against the stored one in constant time. The digest of the presented secret
// is always computed, even when the record is missing, so the two failure
// branches take comparable time.
func (m *Manager) Verify(ctx context.Context, credentialID, presentedSecret string) (VerifyResult, error) {
	presented := []byte(m.digest(presentedSecret))

	fields, err := m.redis.HGetAll(ctx, credentialKey(credentialID)).Result()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("load credential: %w", err)
	}
	if len(fields) == 0 {
		// Burn the compare against a same-length dummy so not-found and
		// mismatch stay timing-uniform.
		hmac.Equal(presented, make([]byte, len(presented)))
		return VerifyResult{Outcome: OutcomeNotFound}, nil
	}

	stored, ok := fields["digest"]
	accountID := fields["account_id"]
	if !ok || accountID == "" {
		return VerifyResult{}, errors.New("malformed credential record")
	}

	if !hmac.Equal(presented, []byte(stored)) {
		return VerifyResult{Outcome: OutcomeMismatch}, nil
	}
	return VerifyResult{Outcome: OutcomeValid, AccountID: accountID}, nil
}

// Consume deletes the credential and every live sibling for the account, so a
// single successful redemption invalidates all outstanding reset links. The
// delete of the consumed record is the atomic decision point: DEL returns the
// number of keys removed, so of any number of concurrent consumers exactly
// one observes 1 and wins.
func (m *Manager) Consume(ctx context.Context, credentialID, accountID string) (bool, error) {
	deleted, err := m.redis.Del(ctx, credentialKey(credentialID)).Result()
	if err != nil {
		return false, fmt.Errorf("consume credential: %w", err)
	}
	if deleted == 0 {
		return false, nil
	}

	// Sibling cleanup is best-effort: records carry a TTL regardless.
	siblings, err := m.redis.SMembers(ctx, accountIndexKey(accountID)).Result()
	if err != nil {
		return true, fmt.Errorf("list sibling credentials: %w", err)
	}
	keys := make([]string, 0, len(siblings)+1)
	for _, id := range siblings {
		keys = append(keys, credentialKey(id))
	}
	keys = append(keys, accountIndexKey(accountID))
	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		return true, fmt.Errorf("invalidate sibling credentials: %w", err)
	}
	return true, nil
}

// Peek returns the remaining TTL for a live credential. Expired, consumed and
// never-issued ids are indistinguishable: all report not found.
func (m *Manager) Peek(ctx context.Context, credentialID string) (time.Duration, bool, error) {
	ttl, err := m.redis.PTTL(ctx, credentialKey(credentialID)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("peek credential: %w", err)
	}
	if ttl <= 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (m *Manager) digest(secret string) string {
	mac := hmac.New(sha256.New, m.macKey)
	mac.Write([]byte(secret))
	return base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
}

func credentialKey(id string) string {
	return "reset:cred:" + id
}

func accountIndexKey(accountID string) string {
	return "reset:acct:" + accountID
}
