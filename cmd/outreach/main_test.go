package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI against a throwaway database and returns stdout.
func execute(t *testing.T, dir string, args ...string) string {
	t.Helper()
	t.Setenv("OUTREACH_DATABASE_PATH", filepath.Join(dir, "outreach.db"))
	t.Setenv("OUTREACH_LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "missing.yaml")}, args...))
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestCampaignWorkflow(t *testing.T) {
	dir := t.TempDir()

	out := execute(t, dir, "campaign", "create", "Spring launch", "--window-start", "08:00", "--daily-cap", "50")
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	ref := fields[0]
	assert.Regexp(t, `^ISIT-\d{6}$`, ref)

	out = execute(t, dir, "step", "add", ref, "--subject", "Hello {{first_name}}", "--body", "Hi there")
	assert.Contains(t, out, "step 1")

	execute(t, dir, "contact", "add", "Ada@Example.com", "--first-name", "Ada", "--field", "plan=pro")
	out = execute(t, dir, "enroll", ref, "ada@example.com")
	assert.Contains(t, out, "ada@example.com enrolled in "+ref)

	out = execute(t, dir, "campaign", "activate", ref)
	assert.Contains(t, out, ref+" active")

	out = execute(t, dir, "campaign", "list", "--status", "active")
	assert.Contains(t, out, "Spring launch")
	assert.Contains(t, out, "08:00-17:00")
	assert.Contains(t, out, "50")
}

func TestCampaignActivate_RequiresSteps(t *testing.T) {
	dir := t.TempDir()

	out := execute(t, dir, "campaign", "create", "Empty")
	ref := strings.Fields(out)[0]

	t.Setenv("OUTREACH_DATABASE_PATH", filepath.Join(dir, "outreach.db"))
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "missing.yaml"), "campaign", "activate", ref})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no steps")
}

func TestSuppress(t *testing.T) {
	dir := t.TempDir()

	out := execute(t, dir, "suppress", "add", "Bob@Example.com", "--reason", "asked by phone")
	assert.Contains(t, out, "bob@example.com suppressed")

	out = execute(t, dir, "suppress", "add", "bob@example.com")
	assert.Contains(t, out, "already suppressed")

	out = execute(t, dir, "suppress", "list")
	assert.Contains(t, out, "bob@example.com")
	assert.Contains(t, out, "asked by phone")
}

func TestReportExport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.xlsx")

	out := execute(t, dir, "report", "export", "--out", path)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)
}
