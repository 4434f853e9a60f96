package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Message is one outbound email. HTML is required; Text is the plain fallback.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	ProviderID() string
}

// Config selects and configures a provider. Unused fields are ignored.
type Config struct {
	Provider string
	From     string
	FromName string

	ResendAPIKey   string
	ResendBaseURL  string
	SendGridAPIKey string
	SMTPHost       string
	SMTPPort       string
}

// New builds the sender named by cfg.Provider: resend, sendgrid, smtp or noop.
func New(cfg Config, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("email: RESEND_API_KEY is required for the resend provider")
		}
		return NewResendSender(cfg.ResendBaseURL, cfg.ResendAPIKey, cfg.From, cfg.FromName), nil
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("email: SENDGRID_API_KEY is required for the sendgrid provider")
		}
		return NewSendGridSender(cfg.SendGridAPIKey, cfg.From, cfg.FromName), nil
	case "smtp":
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.From), nil
	case "", "noop":
		return NewNoopSender(logger), nil
	default:
		return nil, fmt.Errorf("email: unknown provider %q", cfg.Provider)
	}
}

// NoopSender logs instead of sending. Used when email is not configured.
type NoopSender struct {
	logger *slog.Logger
}

func NewNoopSender(logger *slog.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) ProviderID() string { return "noop" }

func (s *NoopSender) Send(ctx context.Context, msg Message) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "email provider disabled; message dropped", "subject", msg.Subject)
	}
	return nil
}
