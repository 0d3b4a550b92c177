package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/asaskevich/govalidator"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	m, err := NewManager(client, []byte("test-mac-key"), 15*time.Minute)
	require.NoError(t, err)
	return m, mr
}

func TestNewManager_Validation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	_, err := NewManager(nil, []byte("k"), time.Minute)
	assert.Error(t, err)

	_, err = NewManager(client, nil, time.Minute)
	assert.Error(t, err)

	_, err = NewManager(client, []byte("k"), 0)
	assert.Error(t, err)
}

func TestManager_IssueShape(t *testing.T) {
	m, _ := newTestManager(t)

	cred, err := m.Issue(context.Background(), "acct-1", "alice@example.com")
	require.NoError(t, err)

	assert.True(t, govalidator.IsUUIDv4(cred.ID))
	// 48 bytes of entropy RawURL-encode to 64 characters.
	assert.Len(t, cred.Secret, 64)
	assert.Equal(t, "acct-1", cred.AccountID)
	assert.Equal(t, 15*time.Minute, cred.TTL)
}

func TestManager_VerifyOutcomes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cred, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)

	t.Run("correct secret is valid", func(t *testing.T) {
		res, err := m.Verify(ctx, cred.ID, cred.Secret)
		require.NoError(t, err)
		assert.Equal(t, OutcomeValid, res.Outcome)
		assert.Equal(t, "acct-1", res.AccountID)
	})

	t.Run("wrong secret is a mismatch", func(t *testing.T) {
		res, err := m.Verify(ctx, cred.ID, "not-the-secret")
		require.NoError(t, err)
		assert.Equal(t, OutcomeMismatch, res.Outcome)
		assert.Empty(t, res.AccountID)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		res, err := m.Verify(ctx, "00000000-0000-4000-8000-000000000000", cred.Secret)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
	})
}

func TestManager_ExpiredCredentialLooksNeverIssued(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	cred, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)

	mr.FastForward(16 * time.Minute)

	res, err := m.Verify(ctx, cred.ID, cred.Secret)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome,
		"expiry and never-issued must be indistinguishable")

	_, alive, err := m.Peek(ctx, cred.ID)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestManager_ConsumeIsSingleUse(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cred, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)

	won, err := m.Consume(ctx, cred.ID, cred.AccountID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = m.Consume(ctx, cred.ID, cred.AccountID)
	require.NoError(t, err)
	assert.False(t, won, "second consume must lose")

	res, err := m.Verify(ctx, cred.ID, cred.Secret)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestManager_ConcurrentConsumeSingleWinner(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cred, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)

	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := m.Consume(ctx, cred.ID, cred.AccountID)
			if err == nil && won {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
}

func TestManager_ConsumeInvalidatesSiblings(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)
	second, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)
	other, err := m.Issue(ctx, "acct-2", "bob@example.com")
	require.NoError(t, err)

	won, err := m.Consume(ctx, first.ID, first.AccountID)
	require.NoError(t, err)
	require.True(t, won)

	res, err := m.Verify(ctx, second.ID, second.Secret)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome,
		"sibling for the same account must be invalidated")

	res, err = m.Verify(ctx, other.ID, other.Secret)
	require.NoError(t, err)
	assert.Equal(t, OutcomeValid, res.Outcome,
		"credentials of other accounts must survive")
}

func TestManager_Peek(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cred, err := m.Issue(ctx, "acct-1", "alice@example.com")
	require.NoError(t, err)

	remaining, alive, err := m.Peek(ctx, cred.ID)
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Greater(t, remaining, 14*time.Minute)

	_, alive, err = m.Peek(ctx, "00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)
	assert.False(t, alive)
}
