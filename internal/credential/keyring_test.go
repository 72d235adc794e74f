package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	orig := openKeyring
	openKeyring = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyring = orig })
}

func TestSetGetDelete(t *testing.T) {
	useArrayKeyring(t)

	require.NoError(t, Set(KeySMTP, "hunter2"))
	v, err := Get(KeySMTP)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.NoError(t, Delete(KeySMTP))
	_, err = Get(KeySMTP)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_EnvironmentWins(t *testing.T) {
	useArrayKeyring(t)
	require.NoError(t, Set(KeyIMAP, "from-keyring"))
	t.Setenv("OUTREACH_IMAP", "from-env")

	v, err := Lookup(KeyIMAP)
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

func TestLoadSecrets(t *testing.T) {
	useArrayKeyring(t)
	t.Setenv("OUTREACH_IMAP", "")
	t.Setenv("OUTREACH_SMTP", "")
	t.Setenv("OUTREACH_SENDGRID", "")
	require.NoError(t, Set(KeyIMAP, "imap-pass"))
	require.NoError(t, Set(KeySendGrid, "SG.key"))

	secrets, err := LoadSecrets()
	require.NoError(t, err)
	assert.Equal(t, "imap-pass", secrets.IMAPPassword)
	assert.Empty(t, secrets.SMTPPassword)
	assert.Equal(t, "SG.key", secrets.SendGridAPIKey)
}

func TestKeys(t *testing.T) {
	assert.True(t, IsKnown(KeySendGrid))
	assert.False(t, IsKnown("jira-token"))
	assert.Equal(t, "OUTREACH_SENDGRID", EnvVar(KeySendGrid))
}
