package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"
)

// SMTPSender delivers messages through an SMTP submission server.
type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTPSender creates an SMTP sender. With useTLS the connection is
// implicit TLS (port 465); otherwise STARTTLS is required.
func NewSMTPSender(
	host, port, username, password string, useTLS bool, timeout time.Duration,
) *SMTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      useTLS,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Send composes msg and submits it. The returned handle is the
// Message-ID header of the submitted message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	raw, messageID, err := Compose(msg, s.now())
	if err != nil {
		return "", &SendError{Recipient: msg.ToAddress, Err: err}
	}

	client, err := s.dial(ctx)
	if err != nil {
		return "", &SendError{Recipient: msg.ToAddress, Temporary: true, Err: err}
	}
	defer client.Close()

	if err := sendViaSMTPClient(client, msg.FromAddress, msg.ToAddress, raw); err != nil {
		return "", &SendError{Recipient: msg.ToAddress, Temporary: isTemporary(err), Err: err}
	}
	return messageID, nil
}

// dial connects, upgrades to TLS and authenticates.
func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.host, s.port)
	dialer := &net.Dialer{Timeout: s.timeout}
	tlsConfig := &tls.Config{ServerName: s.host}

	var (
		conn net.Conn
		err  error
	)
	if s.tls {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial to %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating SMTP client: %w", err)
	}

	if !s.tls {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP STARTTLS: %w", err)
		}
	}

	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, &AuthError{Service: "smtp", Message: err.Error()}
		}
	}
	return client, nil
}

// sendViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendViaSMTPClient(client *smtp.Client, from, to string, body []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

// isTemporary reports whether the server answered with a 4xx code.
func isTemporary(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}
	return false
}
