// Package mailbox sends outreach mail and reads the reply inbox.
package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/outreach/internal/model"
)

// Mailbox pairs a Sender for outgoing mail with the IMAP inbox the
// reconciler scans. It implements Transport.
type Mailbox struct {
	sender Sender
	inbox  *IMAPClient
}

var _ Transport = (*Mailbox)(nil)

// New creates a Mailbox from a sender and an inbox client.
func New(sender Sender, inbox *IMAPClient) *Mailbox {
	return &Mailbox{sender: sender, inbox: inbox}
}

// Secrets carries the credentials a transport needs.
type Secrets struct {
	IMAPPassword   string
	SMTPPassword   string
	SendGridAPIKey string
}

// FromConfig builds the Mailbox described by cfg.
func FromConfig(cfg model.TransportConfig, secrets Secrets) (*Mailbox, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if cfg.IMAPHost == "" {
		return nil, fmt.Errorf("transport.imap_host is required")
	}
	inbox := NewIMAPClient(cfg.IMAPHost, cfg.IMAPPort, cfg.Username, secrets.IMAPPassword, cfg.TLS, timeout)

	var sender Sender
	switch cfg.Kind {
	case "", "smtp":
		host := cfg.SMTPHost
		if host == "" {
			host = cfg.IMAPHost
		}
		password := secrets.SMTPPassword
		if password == "" {
			password = secrets.IMAPPassword
		}
		// Implicit TLS is only used on the SMTPS port.
		sender = NewSMTPSender(host, cfg.SMTPPort, cfg.Username, password, cfg.SMTPPort == "465", timeout)
	case "sendgrid":
		if secrets.SendGridAPIKey == "" {
			return nil, fmt.Errorf("sendgrid transport needs an API key")
		}
		sender = NewSendGridSender(secrets.SendGridAPIKey, timeout)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
	return New(sender, inbox), nil
}

// Connect opens the inbox connection.
func (m *Mailbox) Connect(ctx context.Context) error {
	return m.inbox.Connect(ctx)
}

// Close closes the inbox connection.
func (m *Mailbox) Close() error {
	return m.inbox.Close()
}

// IsAvailable reports whether the inbox connection answers.
func (m *Mailbox) IsAvailable(ctx context.Context) bool {
	return m.inbox.IsAvailable(ctx)
}

// Send delivers msg through the configured sender.
func (m *Mailbox) Send(ctx context.Context, msg Message) (string, error) {
	return m.sender.Send(ctx, msg)
}

// GetUnread lists unseen inbox messages.
func (m *Mailbox) GetUnread(ctx context.Context, folder string, since time.Time) ([]Entry, error) {
	return m.inbox.GetUnread(ctx, folder, since)
}

// MarkRead marks an inbox message as seen.
func (m *Mailbox) MarkRead(ctx context.Context, entryID string) error {
	return m.inbox.MarkRead(ctx, entryID)
}
