// Package mailboxtest provides an in-memory mailbox.Transport for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/outreach/internal/mailbox"
)

// Fake is an in-memory Transport. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	connected bool
	available bool
	nextUID   uint32
	folders   map[string][]mailbox.Entry
	read      map[string]bool
	sent      []mailbox.Message

	// ConnectErr is returned by Connect when set.
	ConnectErr error
	// SendFunc, when set, decides the outcome of each Send.
	SendFunc func(msg mailbox.Message) (string, error)
}

var _ mailbox.Transport = (*Fake)(nil)

// New returns an available, unconnected fake.
func New() *Fake {
	return &Fake{
		available: true,
		folders:   make(map[string][]mailbox.Entry),
		read:      make(map[string]bool),
	}
}

// SetAvailable toggles what IsAvailable reports once connected.
func (f *Fake) SetAvailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = v
}

// Deliver places an unread message in folder and returns its entry ID.
func (f *Fake) Deliver(folder string, e mailbox.Entry) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextUID++
	e.Folder = folder
	e.UID = f.nextUID
	e.ID = mailbox.EntryID(folder, e.UID)
	if e.Date.IsZero() {
		e.Date = time.Now()
	}
	f.folders[folder] = append(f.folders[folder], e)
	return e.ID
}

// IsRead reports whether MarkRead was called for the entry.
func (f *Fake) IsRead(entryID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read[entryID]
}

// Sent returns a copy of every message sent so far.
func (f *Fake) Sent() []mailbox.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailbox.Message(nil), f.sent...)
}

// Connected reports whether Connect succeeded and Close was not called.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *Fake) IsAvailable(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && f.available
}

func (f *Fake) Send(_ context.Context, msg mailbox.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return "", mailbox.ErrTransportUnavailable
	}
	if f.SendFunc != nil {
		handle, err := f.SendFunc(msg)
		if err != nil {
			return "", err
		}
		f.sent = append(f.sent, msg)
		return handle, nil
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("<%d@fake.test>", len(f.sent)), nil
}

func (f *Fake) GetUnread(_ context.Context, folder string, since time.Time) ([]mailbox.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return nil, mailbox.ErrTransportUnavailable
	}
	var out []mailbox.Entry
	for _, e := range f.folders[folder] {
		if f.read[e.ID] || e.Date.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) MarkRead(_ context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return mailbox.ErrTransportUnavailable
	}
	f.read[entryID] = true
	return nil
}
