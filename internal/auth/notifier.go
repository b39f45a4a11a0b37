package auth

import (
	"context"
	"time"

	"github.com/swotplanner/backend/internal/logger"
)

// LogNotifier records token deliveries in the service log instead of sending
// mail. The raw token is included only when revealTokens is set, which the
// server does outside production.
type LogNotifier struct {
	log          *logger.Logger
	revealTokens bool
}

func NewLogNotifier(log *logger.Logger, revealTokens bool) *LogNotifier {
	return &LogNotifier{log: log, revealTokens: revealTokens}
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, rawToken string, expiresAt time.Time) error {
	n.deliver(ctx, "password reset issued", email, rawToken, expiresAt)
	return nil
}

func (n *LogNotifier) SendEmailVerification(ctx context.Context, email, rawToken string, expiresAt time.Time) error {
	n.deliver(ctx, "email verification issued", email, rawToken, expiresAt)
	return nil
}

func (n *LogNotifier) deliver(ctx context.Context, msg, email, rawToken string, expiresAt time.Time) {
	fields := map[string]interface{}{
		"email":      email,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	}
	if n.revealTokens {
		fields["delivery_code"] = rawToken
	}
	n.log.Info(ctx, msg, fields)
}
