// Package credential keeps transport passwords and API keys in the
// system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"

	"github.com/nhle/outreach/internal/mailbox"
)

const serviceName = "outreach"

// Keys under which transport secrets are stored.
const (
	KeyIMAP     = "outreach-imap"
	KeySMTP     = "outreach-smtp"
	KeySendGrid = "outreach-sendgrid"
)

// Keys lists every key the application reads.
var Keys = []string{KeyIMAP, KeySMTP, KeySendGrid}

// ErrNotFound is returned when neither the environment nor the keyring
// holds a value.
var ErrNotFound = errors.New("credential not found")

// openKeyring returns a configured keyring instance. Tests replace it.
var openKeyring = func() (keyring.Keyring, error) {
	home, _ := os.UserHomeDir()
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(home, ".config", "outreach", "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("outreach-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// EnvVar returns the environment variable that overrides key, e.g.
// OUTREACH_SMTP for outreach-smtp.
func EnvVar(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// IsKnown reports whether key is one of Keys.
func IsKnown(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Lookup returns the value from the environment when set, otherwise
// from the keyring.
func Lookup(key string) (string, error) {
	if v := os.Getenv(EnvVar(key)); v != "" {
		return v, nil
	}
	return Get(key)
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "outreach " + strings.TrimPrefix(key, "outreach-"),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// LoadSecrets gathers the transport secrets. Missing values are left
// empty; the transport reports them when it authenticates.
func LoadSecrets() (mailbox.Secrets, error) {
	var secrets mailbox.Secrets
	targets := map[string]*string{
		KeyIMAP:     &secrets.IMAPPassword,
		KeySMTP:     &secrets.SMTPPassword,
		KeySendGrid: &secrets.SendGridAPIKey,
	}
	for _, key := range Keys {
		v, err := Lookup(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return secrets, err
		}
		*targets[key] = v
	}
	return secrets, nil
}
