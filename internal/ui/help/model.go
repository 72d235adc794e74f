package help

import (
	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/outreach/internal/keys"
	"github.com/nhle/outreach/internal/theme"
)

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	h.ShowAll = true
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	title := theme.PanelTitleStyle.Render("Keyboard Shortcuts")
	notes := theme.HelpStyle.Render(
		"Commands: start, stop, pause, resume, scan, settings, quit")

	content := lipgloss.JoinVertical(lipgloss.Left, title, m.help.View(m.keys), "", notes)

	return theme.PanelStyle.
		Width(max(m.width-2, 0)).
		Height(max(m.height-2, 0)).
		Render(content)
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
