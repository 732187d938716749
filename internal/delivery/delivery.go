// Package delivery hands magic links to an outbound channel.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sender delivers a login link to an address.
type Sender interface {
	SendMagicLink(ctx context.Context, to, link string, expiresIn time.Duration) error
}

// LogSender writes links to the log instead of sending them. It is meant for
// local development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendMagicLink(_ context.Context, to, link string, expiresIn time.Duration) error {
	s.logger.Info("magic link", "to", to, "link", link, "expires_in", expiresIn)
	return nil
}

const subject = "Your sign-in link"

func textBody(link string, expiresIn time.Duration) string {
	return fmt.Sprintf("Click the link below to sign in:\n\n%s\n\nThis link expires in %s and can only be used once.", link, humanize(expiresIn))
}

func htmlBody(link string, expiresIn time.Duration) string {
	return fmt.Sprintf(
		`<p>Click the link below to sign in:</p><p><a href="%s">Sign in</a></p><p>This link expires in %s and can only be used once.</p>`,
		link, humanize(expiresIn),
	)
}

// humanize renders d in whole minutes once it reaches 30s.
func humanize(d time.Duration) string {
	if d >= 30*time.Second {
		d = d.Round(time.Minute)
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
