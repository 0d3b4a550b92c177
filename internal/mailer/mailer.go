// Package mailer is the port onto outbound delivery. The protocol hands it
// the data a reset email needs and never waits on it; transport and
// templating live in the delivery service.
package mailer

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// Dispatcher is called best-effort and asynchronously; implementations must
// not block the protocol and must never receive persisted secrets later.
type Dispatcher interface {
	// SendResetLink delivers the one-time reset link. The secret appears
	// here and nowhere else.
	SendResetLink(ctx context.Context, contactAddress, displayName, credentialID, secret string)
	// SendChangeNotification tells the account owner their password changed.
	SendChangeNotification(ctx context.Context, contactAddress, callerAddress string, at time.Time)
}

// LogDispatcher is the development implementation: it logs that dispatch
// happened without ever logging the secret.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) SendResetLink(ctx context.Context, contactAddress, displayName, credentialID, _ string) {
	d.logger.InfoContext(ctx, "reset link dispatched",
		"contact", contactAddress,
		"display_name", displayName,
		"credential_id", credentialID)
}

func (d *LogDispatcher) SendChangeNotification(ctx context.Context, contactAddress, callerAddress string, at time.Time) {
	d.logger.InfoContext(ctx, "password change notification dispatched",
		"contact", contactAddress,
		"caller", callerAddress,
		"at", at)
}

// DisplayName returns the account's name, falling back to a capitalized form
// of the address's local part when the directory has none on file.
func DisplayName(name, email string) string {
	if name != "" {
		return name
	}
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "User"
	}
	runes := []rune(parts[0])
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
