package app

import (
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/testutil"
	"github.com/nhle/outreach/internal/ui/command"
)

type fakeWorker struct {
	mu     sync.Mutex
	state  delivery.State
	calls  []string
	events chan delivery.Event
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{state: delivery.StateStopped, events: make(chan delivery.Event, 4)}
}

func (w *fakeWorker) record(call string, state delivery.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
	w.state = state
}

func (w *fakeWorker) Start() bool { w.record("start", delivery.StateRunning); return true }
func (w *fakeWorker) Stop()       { w.record("stop", delivery.StateStopped) }
func (w *fakeWorker) Pause()      { w.record("pause", delivery.StatePaused) }
func (w *fakeWorker) Resume()     { w.record("resume", delivery.StateRunning) }
func (w *fakeWorker) ScanNow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, "scan")
}

func (w *fakeWorker) Status() delivery.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return delivery.Status{State: w.state}
}

func (w *fakeWorker) Events() <-chan delivery.Event { return w.events }

func (w *fakeWorker) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newModel(t *testing.T) (Model, *fakeWorker) {
	t.Helper()
	w := newFakeWorker()
	m := New(w, testutil.NewTestStore(t))
	mdl, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return mdl.(Model), w
}

func TestKeys_ControlWorker(t *testing.T) {
	m, w := newModel(t)

	mdl, cmd := m.Update(keyMsg("s"))
	require.NotNil(t, cmd)
	mdl, _ = mdl.Update(cmd())
	assert.Equal(t, []string{"start"}, w.Calls())

	mdl, _ = mdl.Update(keyMsg("p"))
	mdl, _ = mdl.Update(keyMsg("p"))
	mdl, _ = mdl.Update(keyMsg("r"))
	assert.Equal(t, []string{"start", "pause", "resume", "scan"}, w.Calls())

	_, cmd = mdl.Update(keyMsg("x"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, "stop", w.Calls()[len(w.Calls())-1])
}

func TestEvents_AreRelayedToDashboard(t *testing.T) {
	m, w := newModel(t)

	w.events <- delivery.ReplyDetected{Email: "ada@example.com"}
	msg := m.waitForEvent()()
	ev, ok := msg.(eventMsg)
	require.True(t, ok)

	mdl, cmd := m.Update(ev)
	assert.NotNil(t, cmd)
	entries := mdl.(Model).dashboard.Events()
	require.Len(t, entries, 1)
	assert.Equal(t, "reply", entries[0].Kind)
}

func TestViews_HelpAndSettings(t *testing.T) {
	m, _ := newModel(t)

	mdl, _ := m.Update(keyMsg("?"))
	assert.Equal(t, ViewHelp, mdl.(Model).currentView)
	mdl, _ = mdl.Update(keyMsg("?"))
	assert.Equal(t, ViewDashboard, mdl.(Model).currentView)

	mdl, cmd := mdl.Update(keyMsg("e"))
	assert.Equal(t, ViewSettings, mdl.(Model).currentView)
	assert.NotNil(t, cmd)

	mdl, _ = mdl.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewDashboard, mdl.(Model).currentView)
}

func TestCommandPalette_RunsCommand(t *testing.T) {
	m, w := newModel(t)

	mdl, _ := m.Update(keyMsg(":"))
	assert.Equal(t, ViewCommand, mdl.(Model).currentView)

	mdl, _ = mdl.Update(command.CommandMsg("pause"))
	assert.Equal(t, ViewDashboard, mdl.(Model).currentView)
	assert.Equal(t, []string{"pause"}, w.Calls())
}

func TestQuit_StopsWorker(t *testing.T) {
	m, w := newModel(t)

	_, cmd := m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
	assert.Equal(t, []string{"stop"}, w.Calls())
}
