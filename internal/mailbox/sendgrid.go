package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender delivers messages through the SendGrid v3 API.
type SendGridSender struct {
	client  *sendgrid.Client
	timeout time.Duration
}

// NewSendGridSender creates a sender for the given API key.
func NewSendGridSender(apiKey string, timeout time.Duration) *SendGridSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), timeout: timeout}
}

// Send submits msg. The returned handle is SendGrid's X-Message-Id.
func (s *SendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.SendWithContext(ctx, buildSendGridMail(msg))
	if err != nil {
		return "", &SendError{Recipient: msg.ToAddress, Temporary: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &SendError{
			Recipient: msg.ToAddress,
			Err:       &AuthError{Service: "sendgrid", Message: resp.Body},
		}
	case resp.StatusCode >= 400:
		return "", &SendError{
			Recipient: msg.ToAddress,
			Temporary: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body),
		}
	}

	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

func buildSendGridMail(msg Message) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(msg.FromName, msg.FromAddress))
	m.Subject = msg.Subject

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToAddress))
	m.AddPersonalizations(p)

	if IsHTML(msg.Body) {
		m.AddContent(
			sgmail.NewContent("text/plain", stripHTML(msg.Body)),
			sgmail.NewContent("text/html", msg.Body),
		)
	} else {
		m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	}

	for _, a := range msg.Attachments {
		att := sgmail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Data))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetHeader(k, msg.Headers[k])
	}
	return m
}
