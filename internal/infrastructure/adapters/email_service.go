package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/infrastructure/config"
	"github.com/vidora/stars-service/pkg/logger"
)

// EmailService sends transactional mail via SendGrid. An empty provider
// disables sending; every method then no-ops.
type EmailService struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logger.Logger
}

// NewEmailService creates an email service from config. Returns a
// disabled service when no provider is configured.
func NewEmailService(cfg config.EmailConfig, logger *logger.Logger) (*EmailService, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		logger.Info("Email sending disabled, no provider configured")
		return &EmailService{logger: logger}, nil
	}
	if provider != "sendgrid" {
		return nil, fmt.Errorf("unsupported email provider: %s", provider)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}

	return &EmailService{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}, nil
}

// Enabled reports whether mail will actually be sent
func (e *EmailService) Enabled() bool {
	return e.client != nil
}

// SendDepositCredited notifies a user that their deposit settled
func (e *EmailService) SendDepositCredited(ctx context.Context, toEmail string, stars, balance decimal.Decimal) error {
	if !e.Enabled() {
		return nil
	}

	subject := fmt.Sprintf("%s stars added to your account", stars)
	plain := fmt.Sprintf(
		"Your deposit has been confirmed and %s stars were added to your account.\n\nNew balance: %s stars\n",
		stars, balance,
	)
	htmlBody := fmt.Sprintf(
		"<p>Your deposit has been confirmed and <strong>%s stars</strong> were added to your account.</p><p>New balance: <strong>%s stars</strong></p>",
		stars, balance,
	)

	return e.send(ctx, toEmail, subject, plain, htmlBody)
}

func (e *EmailService) send(ctx context.Context, toEmail, subject, plain, htmlBody string) error {
	from := mail.NewEmail(e.fromName, e.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plain, htmlBody)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}

	e.logger.Debug("Email sent", "to", toEmail, "subject", subject)
	return nil
}
