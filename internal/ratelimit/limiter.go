// Package ratelimit enforces fixed-window counters in Redis. Each check is a
// single server-side script so concurrent callers for the same identity can
// never both observe "under limit" and push the count past the ceiling.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace separates the three independently enforced counter families.
type Namespace string

const (
	NamespaceCaller     Namespace = "caller"
	NamespaceAccount    Namespace = "account"
	NamespaceCredential Namespace = "credential"
)

// allowScript reads, compares and conditionally increments the counter as one
// atomic unit. The TTL is set only on the first hit in the window, and a
// counter at the ceiling is not incremented further so it cannot grow without
// bound under sustained attack.
var allowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// Limiter checks and increments per-identity counters. When Redis is
// unreachable it fails open by default: the reset flow stays available and
// abuse pressure is absorbed by the membership filter and the downstream
// account checks. Deployments that prefer fail-closed flip one flag.
type Limiter struct {
	redis      redis.UniversalClient
	failClosed bool
	logger     *slog.Logger
	onFailOpen func()
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithFailClosed denies requests when the backing store is unreachable
// instead of allowing them.
func WithFailClosed() Option {
	return func(l *Limiter) { l.failClosed = true }
}

// WithFailOpenHook registers a callback invoked every time a check is allowed
// only because the store was unreachable. Used for metrics.
func WithFailOpenHook(fn func()) Option {
	return func(l *Limiter) { l.onFailOpen = fn }
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		redis:  client,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more event for (namespace, identity) fits inside
// the window. The first allowed event creates the counter with the window as
// its TTL; the store expires it implicitly.
func (l *Limiter) Allow(ctx context.Context, ns Namespace, identity string, limit int, window time.Duration) bool {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	allowed, err := allowScript.Run(ctx, l.redis, []string{key(ns, identity)}, limit, seconds).Int()
	if err != nil {
		if l.failClosed {
			l.logger.Error("rate limit store unreachable, failing closed",
				"namespace", ns, "error", err)
			return false
		}
		l.logger.Warn("rate limit store unreachable, failing open",
			"namespace", ns, "error", err)
		if l.onFailOpen != nil {
			l.onFailOpen()
		}
		return true
	}

	return allowed == 1
}

// Reset deletes the counter for (namespace, identity). Only the credential
// window is ever cleared early, once its credential has been consumed.
func (l *Limiter) Reset(ctx context.Context, ns Namespace, identity string) error {
	return l.redis.Del(ctx, key(ns, identity)).Err()
}

func key(ns Namespace, identity string) string {
	return "rl:" + string(ns) + ":" + identity
}
