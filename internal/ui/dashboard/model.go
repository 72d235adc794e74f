package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/keys"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/theme"
)

// maxEvents bounds the event log kept on screen.
const maxEvents = 200

// Entry is one line of the event log.
type Entry struct {
	At   time.Time
	Kind string
	Text string
}

// Model shows worker status, queue counts, campaigns and recent events.
type Model struct {
	keys      *keys.KeyMap
	status    delivery.Status
	events    []Entry
	campaigns table.Model
	log       viewport.Model
	width     int
	height    int
}

// New creates a dashboard view.
func New(k *keys.KeyMap, width, height int) Model {
	t := table.New(
		table.WithColumns(campaignColumns(width)),
		table.WithHeight(5),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(theme.ColorBlue)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	vp := viewport.New(width, 5)
	vp.Style = lipgloss.NewStyle()

	m := Model{keys: k, campaigns: t, log: vp}
	m.SetSize(width, height)
	return m
}

func campaignColumns(width int) []table.Column {
	name := width - 12 - 10 - 8 - 10
	if name < 10 {
		name = 10
	}
	return []table.Column{
		{Title: "Reference", Width: 12},
		{Title: "Name", Width: name},
		{Title: "Status", Width: 10},
		{Title: "Cap", Width: 8},
	}
}

// Describe turns a worker event into a log kind and text.
func Describe(e delivery.Event) (kind, text string) {
	switch e := e.(type) {
	case delivery.EmailSent:
		return "sent", fmt.Sprintf("step %d sent to %s", e.StepNumber, e.Email)
	case delivery.ReplyDetected:
		return "reply", fmt.Sprintf("reply from %s", e.Email)
	case delivery.UnsubscribeDetected:
		return "unsubscribe", fmt.Sprintf("%s unsubscribed", e.Email)
	case delivery.BounceDetected:
		return "bounce", fmt.Sprintf("%s bounced", e.Email)
	case delivery.ErrorEvent:
		return "error", e.Message
	case delivery.StatusChanged:
		return "status", "worker " + e.Status.State.String()
	default:
		return "event", fmt.Sprintf("%T", e)
	}
}

// AddEvent records an event at the top of the log.
func (m *Model) AddEvent(at time.Time, e delivery.Event) {
	kind, text := Describe(e)
	m.events = append([]Entry{{At: at, Kind: kind, Text: text}}, m.events...)
	if len(m.events) > maxEvents {
		m.events = m.events[:maxEvents]
	}
	m.log.SetContent(m.renderEvents())
}

// Events returns the logged entries, newest first.
func (m Model) Events() []Entry {
	return m.events
}

// SetStatus replaces the worker snapshot.
func (m *Model) SetStatus(s delivery.Status) {
	m.status = s
}

// SetCampaigns fills the campaign table.
func (m *Model) SetCampaigns(campaigns []model.Campaign) {
	rows := make([]table.Row, 0, len(campaigns))
	for _, c := range campaigns {
		limit := "-"
		if c.DailyCap > 0 {
			limit = fmt.Sprintf("%d/day", c.DailyCap)
		}
		rows = append(rows, table.Row{c.Reference, c.Name, string(c.Status), limit})
	}
	m.campaigns.SetRows(rows)
}

// Update scrolls the event log.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	m.log, cmd = m.log.Update(msg)
	return m, cmd
}

// View renders the dashboard.
func (m Model) View() string {
	leftW := m.width / 3
	if leftW < 30 {
		leftW = 30
	}
	rightW := m.width - leftW
	if rightW < 0 {
		rightW = 0
	}

	left := lipgloss.JoinVertical(lipgloss.Left,
		theme.PanelStyle.Width(max(leftW-2, 0)).Render(m.renderWorker()),
		theme.PanelStyle.Width(max(leftW-2, 0)).Render(m.renderQueue()),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		theme.PanelStyle.Width(max(rightW-2, 0)).Render(
			theme.PanelTitleStyle.Render("Campaigns")+"\n"+m.campaigns.View()),
		theme.PanelStyle.Width(max(rightW-2, 0)).Render(
			theme.PanelTitleStyle.Render("Events")+"\n"+m.log.View()),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func row(label, value string) string {
	return theme.LabelStyle.Render(label) + value
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("15:04:05")
}

func (m Model) renderWorker() string {
	state := m.status.State.String()
	transport := theme.ErrorStyle.Render("down")
	if m.status.TransportAvailable {
		transport = theme.WorkerStateStyle("running").Render("up")
	}

	lines := []string{
		theme.PanelTitleStyle.Render("Worker"),
		row("State", theme.WorkerStateStyle(state).Render(state)),
		row("Transport", transport),
		row("Last cycle", stamp(m.status.LastCycle)),
		row("Last scan", stamp(m.status.LastScan)),
	}
	if m.status.LastError != "" {
		lines = append(lines, row("Last error", theme.ErrorStyle.Render(m.status.LastError)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderQueue() string {
	q := m.status.Queue
	counts := []struct {
		status model.QueueStatus
		n      int
	}{
		{model.QueuePending, q.Pending},
		{model.QueueSending, q.Sending},
		{model.QueueSent, q.Sent},
		{model.QueueFailed, q.Failed},
		{model.QueueSkipped, q.Skipped},
	}

	lines := []string{theme.PanelTitleStyle.Render("Queue")}
	for _, c := range counts {
		lines = append(lines, row(string(c.status),
			theme.QueueStatusStyle(string(c.status)).Render(fmt.Sprintf("%d", c.n))))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderEvents() string {
	if len(m.events) == 0 {
		return theme.HelpStyle.Render("No events yet")
	}
	lines := make([]string, 0, len(m.events))
	for _, e := range m.events {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			theme.HelpStyle.Render(e.At.Local().Format("15:04:05")),
			theme.EventStyle(e.Kind).Render(fmt.Sprintf("%-11s", e.Kind)),
			e.Text,
		))
	}
	return strings.Join(lines, "\n")
}

// SetSize updates the dashboard dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height

	rightW := width - max(width/3, 30)
	m.campaigns.SetColumns(campaignColumns(max(rightW-4, 0)))
	m.campaigns.SetWidth(max(rightW-4, 0))

	// Two bordered panels on the right: campaigns table, then events.
	m.log.Width = max(rightW-4, 0)
	m.log.Height = max(height-m.campaigns.Height()-10, 3)
	m.log.SetContent(m.renderEvents())
}
