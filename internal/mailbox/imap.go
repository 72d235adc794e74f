package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// maxFetch bounds how many unread messages one GetUnread call returns.
const maxFetch = 200

// IMAPClient holds one authenticated IMAP connection. Connect opens it
// and Close logs out; every call in between reuses it.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	timeout  time.Duration

	mu       sync.Mutex
	conn     net.Conn
	client   *imapclient.Client
	selected string
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host, port, username, password string, useTLS bool, timeout time.Duration,
) *IMAPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      useTLS,
		timeout:  timeout,
	}
}

// Connect establishes the connection and authenticates. Calling it on
// a connected client is a no-op.
func (c *IMAPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	addr := net.JoinHostPort(c.host, c.port)
	dialer := &net.Dialer{Timeout: c.timeout}
	tlsConfig := &tls.Config{ServerName: c.host}

	var (
		conn   net.Conn
		client *imapclient.Client
		err    error
	)
	if c.tls {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		client = imapclient.New(conn, nil)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
		client, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			conn.Close()
			return fmt.Errorf("IMAP STARTTLS with %s: %w", addr, err)
		}
	}

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Close()
		return &AuthError{
			Service: "imap",
			Message: fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}

	c.conn = conn
	c.client = client
	c.selected = ""
	return nil
}

// Close logs out and drops the connection.
func (c *IMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	_ = c.client.Logout().Wait()
	err := c.client.Close()
	c.client = nil
	c.conn = nil
	c.selected = ""
	return err
}

// IsAvailable pings the server. A failed ping drops the connection so
// the next Connect starts fresh.
func (c *IMAPClient) IsAvailable(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return false
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if err := c.client.Noop().Wait(); err != nil {
		c.dropLocked()
		return false
	}
	return true
}

func (c *IMAPClient) dropLocked() {
	if c.client != nil {
		_ = c.client.Close()
	}
	c.client = nil
	c.conn = nil
	c.selected = ""
}

func (c *IMAPClient) selectLocked(folder string) error {
	if c.client == nil {
		return ErrTransportUnavailable
	}
	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if c.selected == folder {
		return nil
	}
	if _, err := c.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	c.selected = folder
	return nil
}

// GetUnread returns unseen messages in folder received since the given
// time, oldest first. Bodies are fetched with PEEK so nothing is marked
// read as a side effect.
func (c *IMAPClient) GetUnread(_ context.Context, folder string, since time.Time) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectLocked(folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		Since:   since,
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > maxFetch {
		uids = uids[len(uids)-maxFetch:]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var entries []Entry
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		entry := entryFromBuffer(folder, buf)
		if raw := buf.FindBodySection(bodySection); raw != nil {
			entry.Body = plainBody(raw)
		}
		entries = append(entries, entry)
	}

	if err := fetchCmd.Close(); err != nil {
		return entries, fmt.Errorf("fetching %s: %w", folder, err)
	}
	return entries, nil
}

// MarkRead sets \Seen on the message addressed by entryID.
func (c *IMAPClient) MarkRead(_ context.Context, entryID string) error {
	folder, uid, err := ParseEntryID(entryID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.selectLocked(folder); err != nil {
		return err
	}

	storeCmd := c.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking %s read: %w", entryID, err)
	}
	return nil
}

// EntryID builds the identifier MarkRead expects.
func EntryID(folder string, uid uint32) string {
	return folder + ":" + strconv.FormatUint(uint64(uid), 10)
}

// ParseEntryID splits an entry ID into folder and UID.
func ParseEntryID(id string) (string, uint32, error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid entry id %q", id)
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	return id[:i], uint32(uid), nil
}

// entryFromBuffer extracts an Entry from a FetchMessageBuffer.
func entryFromBuffer(folder string, buf *imapclient.FetchMessageBuffer) Entry {
	entry := Entry{
		ID:     EntryID(folder, uint32(buf.UID)),
		Folder: folder,
		UID:    uint32(buf.UID),
	}

	if buf.Envelope != nil {
		entry.MessageID = buf.Envelope.MessageID
		entry.Subject = buf.Envelope.Subject
		entry.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			entry.From = strings.ToLower(from.Addr())
			entry.FromName = from.Name
		}
	}

	return entry
}
