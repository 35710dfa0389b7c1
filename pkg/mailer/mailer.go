// Package mailer delivers outbound messages over SMTP. Errors are
// classified so the dispatcher can tell a full mailbox from a dead relay.
package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/donorflow/donorflow/pkg/steperr"
	"github.com/wneessen/go-mail"
)

// Config holds the configuration for the mailer
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
}

// SMTPSender implements domain.MessageSender using SMTP
type SMTPSender struct {
	config *Config
}

// NewSMTPSender creates a new SMTP message sender
func NewSMTPSender(config *Config) *SMTPSender {
	return &SMTPSender{config: config}
}

// Send delivers one outbound message
func (s *SMTPSender) Send(ctx context.Context, message domain.OutboundMessage) error {
	msg := mail.NewMsg(mail.WithNoDefaultUserAgent())

	if err := msg.FromFormat(s.config.FromName, s.config.FromEmail); err != nil {
		return steperr.Permanent(fmt.Errorf("failed to set email from address: %w", err))
	}
	if err := msg.To(message.To); err != nil {
		// A malformed recipient address never becomes valid on retry
		return steperr.Permanent(fmt.Errorf("failed to set email recipient: %w", err))
	}

	msg.Subject(message.Subject)
	msg.SetBodyString(mail.TypeTextHTML, message.Body)

	client, err := s.createSMTPClient()
	if err != nil {
		return steperr.Transient(err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		// Left unclassified so the dispatcher decides retryability from the
		// provider message and status code
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// createSMTPClient creates and configures a new SMTP client
func (s *SMTPSender) createSMTPClient() (*mail.Client, error) {
	clientOptions := []mail.Option{
		mail.WithPort(s.config.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}

	// Only add authentication if username and password are provided.
	// This allows for unauthenticated SMTP servers (e.g., local relays)
	if s.config.SMTPUsername != "" && s.config.SMTPPassword != "" {
		clientOptions = append(clientOptions,
			mail.WithUsername(s.config.SMTPUsername),
			mail.WithPassword(s.config.SMTPPassword),
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
		)
	}

	client, err := mail.NewClient(s.config.SMTPHost, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client, nil
}

// ConsoleSender is a development implementation that just logs messages
type ConsoleSender struct {
	logger logger.Logger
}

// NewConsoleSender creates a message sender that logs instead of sending
func NewConsoleSender(log logger.Logger) *ConsoleSender {
	return &ConsoleSender{logger: log}
}

// Send logs the message instead of delivering it
func (c *ConsoleSender) Send(ctx context.Context, message domain.OutboundMessage) error {
	c.logger.WithFields(map[string]interface{}{
		"to":      message.To,
		"subject": message.Subject,
	}).Info("Console sender: message not delivered")
	return nil
}
