package audit

import "time"

// Outcome enumerates every terminal decision of the two protocol flows.
type Outcome string

// Request flow outcomes.
const (
	OutcomeRequested          Outcome = "requested"
	OutcomeUserNotFound       Outcome = "userNotFound"
	OutcomeCallerRateLimited  Outcome = "callerRateLimited"
	OutcomeAccountRateLimited Outcome = "accountRateLimited"
	OutcomeBloomMiss          Outcome = "bloomMiss"
	OutcomeInternalError      Outcome = "internalError"
)

// Redemption flow outcomes.
const (
	OutcomeReset                 Outcome = "reset"
	OutcomeTokenNotFound         Outcome = "tokenNotFound"
	OutcomeTokenMismatch         Outcome = "tokenMismatch"
	OutcomeCredentialRateLimited Outcome = "credentialRateLimited"
)

// Record is one protocol decision. Keep it transport-agnostic so stores and
// sinks can fan out.
type Record struct {
	CorrelationID string            `json:"correlation_id"`
	AccountID     string            `json:"account_id,omitempty"`
	CallerAddress string            `json:"caller_address"`
	Outcome       Outcome           `json:"outcome"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}
