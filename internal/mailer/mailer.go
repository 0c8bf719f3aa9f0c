// Package mailer defines the out-of-band notification contract.
//
// Delivery is a black box to the auth core: it is invoked with a token
// string and must never block or fail a request. Real providers are wired
// behind the Notifier interface by the deployment.
package mailer

import (
	"context"
	"log/slog"
)

// Notifier delivers account emails carrying a purpose-bound token.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// NoopNotifier drops every notification.
type NoopNotifier struct{}

func (NoopNotifier) SendVerificationEmail(context.Context, string, string) error  { return nil }
func (NoopNotifier) SendPasswordResetEmail(context.Context, string, string) error { return nil }

// LogNotifier records notifications to the structured log. It is the default
// in development so flows are observable without an email provider.
// The token itself is not logged.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Log != nil {
		return n.Log
	}
	return slog.Default()
}

func (n LogNotifier) SendVerificationEmail(_ context.Context, email, token string) error {
	n.logger().Info("mailer.verification.send", "email", email, "token_len", len(token))
	return nil
}

func (n LogNotifier) SendPasswordResetEmail(_ context.Context, email, token string) error {
	n.logger().Info("mailer.password_reset.send", "email", email, "token_len", len(token))
	return nil
}
