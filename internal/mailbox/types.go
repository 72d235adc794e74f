package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransportUnavailable is returned when the transport has no usable
// connection. The worker skips the cycle and tries again later.
var ErrTransportUnavailable = errors.New("mail transport unavailable")

// AuthError indicates that the mail server rejected the credentials.
type AuthError struct {
	Service string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Service, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SendError reports a failed delivery attempt for one recipient.
type SendError struct {
	Recipient string
	// Temporary is set for 4xx-class server answers.
	Temporary bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending to %s: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Attachment is a file ready to be attached to an outgoing message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is an outgoing email.
type Message struct {
	FromName    string
	FromAddress string
	ToName      string
	ToAddress   string
	Subject     string
	// Body is plain text, or HTML when it contains markup.
	Body        string
	Attachments []Attachment
	// Headers are extra header fields such as X-Outreach-Reference.
	Headers map[string]string
}

// Entry is an inbound message seen in a mailbox folder.
type Entry struct {
	// ID addresses the message for MarkRead, as "folder:uid".
	ID        string
	Folder    string
	UID       uint32
	MessageID string
	Subject   string
	// From is the sender address; FromName the display name.
	From     string
	FromName string
	Date     time.Time
	// Body is the plain-text body, derived from HTML when needed.
	Body string
}

// Sender delivers outgoing messages.
type Sender interface {
	// Send delivers msg and returns the transport's message handle.
	Send(ctx context.Context, msg Message) (string, error)
}

// Transport is the mail connection the worker owns.
type Transport interface {
	Sender
	Connect(ctx context.Context) error
	Close() error
	IsAvailable(ctx context.Context) bool
	// GetUnread lists unseen messages in folder received since the given time.
	GetUnread(ctx context.Context, folder string, since time.Time) ([]Entry, error)
	MarkRead(ctx context.Context, entryID string) error
}
