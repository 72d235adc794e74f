package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/keys"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/ui"
	"github.com/nhle/outreach/internal/ui/command"
	"github.com/nhle/outreach/internal/ui/dashboard"
	helpview "github.com/nhle/outreach/internal/ui/help"
	"github.com/nhle/outreach/internal/ui/settings"
)

// refreshInterval is how often the status snapshot is polled between
// events.
const refreshInterval = time.Second

// Worker is the control surface the dashboard drives.
type Worker interface {
	Start() bool
	Stop()
	Pause()
	Resume()
	ScanNow()
	Status() delivery.Status
	Events() <-chan delivery.Event
}

// Store is what the dashboard reads and edits directly.
type Store interface {
	settings.Store
	ListCampaigns(ctx context.Context, status *model.CampaignStatus) ([]model.Campaign, error)
}

// eventMsg carries one worker event to the UI goroutine.
type eventMsg struct {
	at    time.Time
	event delivery.Event
}

// tickMsg triggers a status refresh.
type tickMsg time.Time

// campaignsLoadedMsg carries the campaign list.
type campaignsLoadedMsg struct {
	campaigns []model.Campaign
	err       error
}

// startResultMsg reports whether Start succeeded.
type startResultMsg struct {
	ok bool
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewDashboard ViewState = iota
	ViewSettings
	ViewHelp
	ViewCommand
)

// Model is the root Bubble Tea model that manages view routing and
// relays worker events.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	worker       Worker
	store        Store
	keys         *keys.KeyMap
	dashboard    dashboard.Model
	settingsView settings.Model
	helpView     helpview.Model
	commandView  command.Model
	ready        bool
	message      string
	now          func() time.Time
}

// New creates the root model. The worker is started by the caller or
// with the start key.
func New(w Worker, s Store) Model {
	k := keys.DefaultKeyMap()
	return Model{
		currentView:  ViewDashboard,
		worker:       w,
		store:        s,
		keys:         k,
		dashboard:    dashboard.New(k, 80, 22),
		settingsView: settings.New(s, 80, 22),
		helpView:     helpview.New(k, 80, 22),
		commandView:  command.New(80),
		now:          time.Now,
	}
}

// Init subscribes to worker events and loads the campaign list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForEvent(),
		m.loadCampaigns(),
		tick(),
	)
}

// waitForEvent returns a tea.Cmd that waits for the next worker event.
// The handler re-issues it to keep listening.
func (m Model) waitForEvent() tea.Cmd {
	events := m.worker.Events()
	now := m.now
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{at: now(), event: e}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) loadCampaigns() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		campaigns, err := s.ListCampaigns(context.Background(), nil)
		return campaignsLoadedMsg{campaigns: campaigns, err: err}
	}
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.dashboard.SetSize(w, h)
		m.settingsView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w)
		// Forward to the active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case eventMsg:
		m.dashboard.AddEvent(msg.at, msg.event)
		m.dashboard.SetStatus(m.worker.Status())
		cmds := []tea.Cmd{m.waitForEvent()}
		if _, ok := msg.event.(delivery.EmailSent); ok {
			cmds = append(cmds, m.loadCampaigns())
		}
		return m, tea.Batch(cmds...)

	case tickMsg:
		m.dashboard.SetStatus(m.worker.Status())
		return m, tick()

	case campaignsLoadedMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("loading campaigns: %v", msg.err)
			return m, nil
		}
		m.dashboard.SetCampaigns(msg.campaigns)
		return m, nil

	case startResultMsg:
		if !msg.ok {
			m.message = "worker did not start, see the event log"
		} else {
			m.message = ""
		}
		m.dashboard.SetStatus(m.worker.Status())
		return m, nil

	case settings.SavedMsg:
		m.currentView = ViewDashboard
		m.message = "settings saved"
		m.worker.ScanNow()
		return m, nil

	case settings.ClosedMsg:
		m.currentView = ViewDashboard
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.executeCommand(string(msg))

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.currentView == ViewSettings {
			if key.Matches(msg, m.keys.Back) {
				m.currentView = ViewDashboard
				return m, nil
			}
			break
		}
		if m.currentView == ViewCommand {
			if key.Matches(msg, m.keys.Back) {
				m.currentView = m.previousView
				return m, nil
			}
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, m.quit()

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Back):
			m.currentView = ViewDashboard
			return m, nil

		case key.Matches(msg, m.keys.Command):
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()
		}

		if m.currentView == ViewDashboard {
			switch {
			case key.Matches(msg, m.keys.Start):
				return m.executeCommand("start")
			case key.Matches(msg, m.keys.Pause):
				if m.worker.Status().Paused() {
					return m.executeCommand("resume")
				}
				return m.executeCommand("pause")
			case key.Matches(msg, m.keys.Stop):
				return m.executeCommand("stop")
			case key.Matches(msg, m.keys.Scan):
				return m.executeCommand("scan")
			case key.Matches(msg, m.keys.Settings):
				return m.executeCommand("settings")
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// executeCommand runs a palette command or its key shortcut.
func (m Model) executeCommand(cmd string) (tea.Model, tea.Cmd) {
	w := m.worker
	switch cmd {
	case "start":
		return m, func() tea.Msg { return startResultMsg{ok: w.Start()} }
	case "stop":
		return m, func() tea.Msg {
			w.Stop()
			return tickMsg(time.Now())
		}
	case "pause":
		w.Pause()
	case "resume":
		w.Resume()
	case "scan":
		w.ScanNow()
		m.message = "inbox scan requested"
	case "settings":
		m.previousView = m.currentView
		m.currentView = ViewSettings
		return m, m.settingsView.Init()
	case "help":
		m.previousView = m.currentView
		m.currentView = ViewHelp
	case "quit":
		return m, m.quit()
	}
	m.dashboard.SetStatus(w.Status())
	return m, nil
}

// quit stops the worker off the UI goroutine, then exits.
func (m Model) quit() tea.Cmd {
	w := m.worker
	return func() tea.Msg {
		w.Stop()
		return tea.Quit()
	}
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Outreach", m.headerStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints())
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewSettings:
		return m.settingsView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View() + "\n" + m.dashboard.View()
	default:
		return m.dashboard.View()
	}
}

// headerStatus summarizes the worker for the title bar.
func (m Model) headerStatus() string {
	st := m.worker.Status()
	transport := "transport down"
	if st.TransportAvailable {
		transport = "transport up"
	}
	return fmt.Sprintf("%s | %s | %d pending", st.State, transport, st.Queue.Pending)
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewSettings:
		return "enter next | shift+tab previous | esc cancel"
	default:
		if m.message != "" {
			return m.message
		}
		return "s start | p pause/resume | x stop | r scan | e settings | : command | ? help | q quit"
	}
}
