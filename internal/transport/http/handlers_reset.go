// Package httptransport is the thin HTTP layer over the reset orchestrator.
// Handlers validate input shape and translate terminal states to wire
// responses; everything enumeration-sensitive stays inside the orchestrator.
package httptransport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"resetgate/internal/reset"
)

// genericRequestMessage is the single response body for every request-flow
// terminal. Changing it changes the protocol surface; keep it bit-exact.
const genericRequestMessage = "If this email is registered, you will receive a password reset link."

// ResetService is what the handlers need from the orchestrator.
type ResetService interface {
	RequestReset(ctx context.Context, email, callerAddr string)
	Redeem(ctx context.Context, credentialID, secret, newPassword, callerAddr string) reset.RedeemStatus
	Peek(ctx context.Context, credentialID string) (time.Duration, bool)
}

// Handler delegates to the reset service without embedding protocol logic.
type Handler struct {
	service ResetService
}

func NewHandler(service ResetService) *Handler {
	return &Handler{service: service}
}

type forgotRequest struct {
	Email string `json:"email"`
}

type redeemRequest struct {
	CredentialID string `json:"credentialId"`
	Secret       string `json:"secret"`
	NewPassword  string `json:"newPassword"`
}

type peekResponse struct {
	Valid     bool  `json:"valid"`
	ExpiresIn int64 `json:"expiresIn,omitempty"`
}

var secretShape = regexp.MustCompile(`^[A-Za-z0-9_-]{32,256}$`)

func (h *Handler) handleForgot(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Malformed shape carries no account-existence information, so it is
		// the one request-flow branch allowed to respond distinctly.
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if !govalidator.StringLength(req.Email, "3", "255") || !govalidator.IsEmail(req.Email) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	h.service.RequestReset(r.Context(), req.Email, callerAddress(r))

	writeJSON(w, http.StatusOK, map[string]string{"message": genericRequestMessage})
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if !govalidator.IsUUIDv4(req.CredentialID) ||
		!secretShape.MatchString(req.Secret) ||
		len(req.NewPassword) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	switch h.service.Redeem(r.Context(), req.CredentialID, req.Secret, req.NewPassword, callerAddress(r)) {
	case reset.StatusReset:
		writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
	case reset.StatusTooManyAttempts:
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
	default:
		// Not-found and mismatch share this terminal.
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired link"})
	}
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "credentialID")
	if !govalidator.IsUUIDv4(credentialID) {
		// Malformed ids get the same shape as dead ones; the endpoint never
		// explains why a link is invalid.
		writeJSON(w, http.StatusOK, peekResponse{Valid: false})
		return
	}

	remaining, alive := h.service.Peek(r.Context(), credentialID)
	if !alive {
		writeJSON(w, http.StatusOK, peekResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, peekResponse{Valid: true, ExpiresIn: int64(remaining / time.Second)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// callerAddress strips the port so limiter keys stay stable per host.
func callerAddress(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
