// Package mailer sends transactional email such as password reset links.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer delivers a plain text message to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New returns a SendGrid mailer when apiKey is set, otherwise a LogMailer.
func New(apiKey, from string, log *slog.Logger) Mailer {
	if apiKey == "" {
		log.Warn("missing SendGrid config, mail will only be logged")
		return NewLogMailer(log)
	}
	return NewSendGridMailer(apiKey, from)
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridMailer returns a mailer sending as from.
func NewSendGridMailer(apiKey, from string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("Handsign", from),
	}
}

// Send delivers the message. Non-2xx responses are errors.
func (m *SendGridMailer) Send(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(m.from, subject, mail.NewEmail("", to), body, "")

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("send email: status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}

// Message is one email captured by LogMailer.
type Message struct {
	To      string
	Subject string
	Body    string
}

// LogMailer logs messages instead of sending them and keeps the last few
// for inspection.
type LogMailer struct {
	log *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewLogMailer returns a LogMailer writing to log.
func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

const keepMessages = 50

// Send logs the message.
func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.log.Info("email not sent, no mail transport configured", "to", to, "subject", subject)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Message{To: to, Subject: subject, Body: body})
	if len(m.sent) > keepMessages {
		m.sent = m.sent[len(m.sent)-keepMessages:]
	}
	return nil
}

// Sent returns a copy of the captured messages, oldest first.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
