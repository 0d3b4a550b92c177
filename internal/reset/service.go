// Package reset orchestrates the password-reset protocol: the request flow
// that mints credentials and the redemption flow that spends them. Every
// branch of the request flow terminates in the same externally observable
// response, padded to a latency floor, so callers cannot learn whether an
// address is registered.
package reset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"resetgate/internal/account"
	"resetgate/internal/audit"
	"resetgate/internal/bloom"
	"resetgate/internal/mailer"
	"resetgate/internal/platform/metrics"
	"resetgate/internal/ratelimit"
	"resetgate/internal/token"
)

// RedeemStatus is the externally visible terminal of the redemption flow.
// Not-found and mismatch collapse into StatusInvalid before they leave this
// package; only the rate-limit terminal is allowed to be distinguishable,
// since it is keyed to a credential the caller already holds.
type RedeemStatus int

const (
	StatusReset RedeemStatus = iota
	StatusInvalid
	StatusTooManyAttempts
)

// Config carries the protocol limits and windows.
type Config struct {
	CallerLimit             int
	CallerWindow            time.Duration
	AccountLimit            int
	AccountWindow           time.Duration
	CredentialLimit         int
	CredentialWindow        time.Duration
	ResponseFloor           time.Duration
	FilterExpectedMembers   int
	FilterFalsePositiveRate float64
}

// Service sequences the membership filter, the limiters, the credential
// manager, the system of record and the audit recorder. All collaborators
// are injected so tests construct isolated instances.
type Service struct {
	cfg      Config
	accounts account.Store
	tokens   *token.Manager
	limiter  *ratelimit.Limiter
	filter   *bloom.Filter
	recorder *audit.Recorder
	dispatch mailer.Dispatcher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sleep    func(time.Duration)
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics attaches outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithSleep replaces the latency padding sleeper. Tests use this to assert
// padding without waiting for it.
func WithSleep(fn func(time.Duration)) Option {
	return func(s *Service) { s.sleep = fn }
}

// New builds the orchestrator. Every collaborator is required.
func New(
	cfg Config,
	accounts account.Store,
	tokens *token.Manager,
	limiter *ratelimit.Limiter,
	filter *bloom.Filter,
	recorder *audit.Recorder,
	dispatch mailer.Dispatcher,
	logger *slog.Logger,
	opts ...Option,
) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if filter == nil {
		return nil, fmt.Errorf("membership filter is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	if dispatch == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Service{
		cfg:      cfg,
		accounts: accounts,
		tokens:   tokens,
		limiter:  limiter,
		filter:   filter,
		recorder: recorder,
		dispatch: dispatch,
		logger:   logger,
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RequestReset runs the request flow for an already shape-validated address.
// It has no return value: every terminal maps to the same generic response,
// and every terminal is padded to the response floor. Counters are bumped
// before audit writes so abuse accounting survives a lost response.
func (s *Service) RequestReset(ctx context.Context, email, callerAddr string) {
	start := time.Now()
	defer s.padToFloor(start)

	corr := uuid.NewString()
	normalized := bloom.Normalize(email)

	if !s.limiter.Allow(ctx, ratelimit.NamespaceCaller, callerAddr, s.cfg.CallerLimit, s.cfg.CallerWindow) {
		s.requestTerminal(ctx, corr, "", callerAddr, audit.OutcomeCallerRateLimited, nil)
		return
	}

	if !s.filter.MightExist(normalized) {
		// Definitely unregistered: the system of record is never queried.
		s.requestTerminal(ctx, corr, "", callerAddr, audit.OutcomeBloomMiss, nil)
		return
	}

	acct, err := s.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// Filter false positive.
			s.requestTerminal(ctx, corr, "", callerAddr, audit.OutcomeUserNotFound, nil)
			return
		}
		s.logger.ErrorContext(ctx, "account lookup failed", "correlation_id", corr, "error", err)
		s.requestTerminal(ctx, corr, "", callerAddr, audit.OutcomeInternalError, nil)
		return
	}

	if !s.limiter.Allow(ctx, ratelimit.NamespaceAccount, acct.ID, s.cfg.AccountLimit, s.cfg.AccountWindow) {
		s.requestTerminal(ctx, corr, acct.ID, callerAddr, audit.OutcomeAccountRateLimited, nil)
		return
	}

	cred, err := s.tokens.Issue(ctx, acct.ID, acct.Email)
	if err != nil {
		s.logger.ErrorContext(ctx, "credential issue failed", "correlation_id", corr, "error", err)
		s.requestTerminal(ctx, corr, acct.ID, callerAddr, audit.OutcomeInternalError, nil)
		return
	}

	go s.dispatch.SendResetLink(context.WithoutCancel(ctx),
		acct.Email, mailer.DisplayName(acct.DisplayName, acct.Email), cred.ID, cred.Secret)

	s.requestTerminal(ctx, corr, acct.ID, callerAddr, audit.OutcomeRequested,
		map[string]string{"credential_id": cred.ID})
}

// Redeem runs the redemption flow for shape-validated input. Success requires
// winning the consume: of any number of concurrent attempts with the correct
// secret, exactly one returns StatusReset and the rest see StatusInvalid.
func (s *Service) Redeem(ctx context.Context, credentialID, secret, newPassword, callerAddr string) RedeemStatus {
	corr := uuid.NewString()

	if !s.limiter.Allow(ctx, ratelimit.NamespaceCredential, credentialID, s.cfg.CredentialLimit, s.cfg.CredentialWindow) {
		s.redeemTerminal(ctx, corr, "", callerAddr, audit.OutcomeCredentialRateLimited, credentialID)
		return StatusTooManyAttempts
	}

	res, err := s.tokens.Verify(ctx, credentialID, secret)
	if err != nil {
		s.logger.ErrorContext(ctx, "credential verify failed", "correlation_id", corr, "error", err)
		s.redeemTerminal(ctx, corr, "", callerAddr, audit.OutcomeInternalError, credentialID)
		return StatusInvalid
	}

	switch res.Outcome {
	case token.OutcomeNotFound:
		s.redeemTerminal(ctx, corr, "", callerAddr, audit.OutcomeTokenNotFound, credentialID)
		return StatusInvalid
	case token.OutcomeMismatch:
		s.redeemTerminal(ctx, corr, "", callerAddr, audit.OutcomeTokenMismatch, credentialID)
		return StatusInvalid
	}

	// Consume before touching the system of record: the conditional delete is
	// the single-winner decision point for concurrent redemptions.
	won, err := s.tokens.Consume(ctx, credentialID, res.AccountID)
	if err != nil && !won {
		s.logger.ErrorContext(ctx, "credential consume failed", "correlation_id", corr, "error", err)
		s.redeemTerminal(ctx, corr, res.AccountID, callerAddr, audit.OutcomeInternalError, credentialID)
		return StatusInvalid
	}
	if !won {
		// Lost the race: the credential is gone, same as never issued.
		s.redeemTerminal(ctx, corr, res.AccountID, callerAddr, audit.OutcomeTokenNotFound, credentialID)
		return StatusInvalid
	}
	if err != nil {
		// Won but sibling cleanup failed; siblings still expire by TTL.
		s.logger.WarnContext(ctx, "sibling invalidation incomplete", "correlation_id", corr, "error", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		s.logger.ErrorContext(ctx, "password hash failed", "correlation_id", corr, "error", err)
		s.redeemTerminal(ctx, corr, res.AccountID, callerAddr, audit.OutcomeInternalError, credentialID)
		return StatusInvalid
	}
	if err := s.accounts.UpdatePassword(ctx, res.AccountID, string(hash)); err != nil {
		s.logger.ErrorContext(ctx, "password update failed", "correlation_id", corr, "error", err)
		s.redeemTerminal(ctx, corr, res.AccountID, callerAddr, audit.OutcomeInternalError, credentialID)
		return StatusInvalid
	}

	// The credential no longer exists, so its attempt counter has nothing
	// left to protect.
	if err := s.limiter.Reset(ctx, ratelimit.NamespaceCredential, credentialID); err != nil {
		s.logger.WarnContext(ctx, "credential counter cleanup failed", "correlation_id", corr, "error", err)
	}

	if acct, err := s.accounts.FindByID(ctx, res.AccountID); err == nil {
		go s.dispatch.SendChangeNotification(context.WithoutCancel(ctx), acct.Email, callerAddr, time.Now())
	}

	s.redeemTerminal(ctx, corr, res.AccountID, callerAddr, audit.OutcomeReset, credentialID)
	return StatusReset
}

// Peek reports whether a credential is still live and for how long, without
// distinguishing expired, consumed and never-issued ids.
func (s *Service) Peek(ctx context.Context, credentialID string) (time.Duration, bool) {
	remaining, alive, err := s.tokens.Peek(ctx, credentialID)
	if err != nil {
		s.logger.ErrorContext(ctx, "credential peek failed", "error", err)
		return 0, false
	}
	return remaining, alive
}

// RefreshFilter rebuilds the membership filter from a full enumeration of the
// system of record and swaps it in atomically.
func (s *Service) RefreshFilter(ctx context.Context) error {
	var members int
	var walkErr error
	s.filter.Rebuild(s.cfg.FilterExpectedMembers, s.cfg.FilterFalsePositiveRate, func(add func(string)) {
		walkErr = s.accounts.EnumerateEmails(ctx, func(email string) error {
			add(email)
			members++
			return ctx.Err()
		})
	})
	if walkErr != nil {
		return fmt.Errorf("rebuild membership filter: %w", walkErr)
	}
	if s.metrics != nil {
		s.metrics.FilterRebuilds.Inc()
		s.metrics.FilterMembers.Set(float64(members))
	}
	s.logger.InfoContext(ctx, "membership filter rebuilt", "members", members)
	return nil
}

// NoteNewAccount incrementally adds a freshly registered address so it is
// resettable before the next full rebuild.
func (s *Service) NoteNewAccount(email string) {
	s.filter.Add(email)
}

func (s *Service) requestTerminal(ctx context.Context, corr, accountID, callerAddr string, outcome audit.Outcome, metadata map[string]string) {
	s.recorder.Record(ctx, audit.Record{
		CorrelationID: corr,
		AccountID:     accountID,
		CallerAddress: callerAddr,
		Outcome:       outcome,
		Metadata:      metadata,
	})
	if s.metrics != nil {
		s.metrics.RequestOutcomes.WithLabelValues(string(outcome)).Inc()
	}
}

func (s *Service) redeemTerminal(ctx context.Context, corr, accountID, callerAddr string, outcome audit.Outcome, credentialID string) {
	s.recorder.Record(ctx, audit.Record{
		CorrelationID: corr,
		AccountID:     accountID,
		CallerAddress: callerAddr,
		Outcome:       outcome,
		Metadata:      map[string]string{"credential_id": credentialID},
	})
	if s.metrics != nil {
		s.metrics.RedemptionOutcomes.WithLabelValues(string(outcome)).Inc()
	}
}

// padToFloor sleeps until the flow has consumed at least the response floor
// plus bounded jitter. A fixed floor removes the timing signal between early
// and full-chain terminals; jitter alone would only raise the attacker's
// sample size.
func (s *Service) padToFloor(start time.Time) {
	if s.cfg.ResponseFloor <= 0 {
		return
	}
	target := s.cfg.ResponseFloor + time.Duration(rand.Int63n(int64(s.cfg.ResponseFloor/4+1)))
	if remaining := target - time.Since(start); remaining > 0 {
		s.sleep(remaining)
	}
}
