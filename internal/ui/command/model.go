package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/outreach/internal/theme"
)

// Commands lists what the palette accepts.
var Commands = []string{"start", "stop", "pause", "resume", "scan", "settings", "help", "quit"}

// CommandMsg is emitted when the user executes a command.
type CommandMsg string

// Model is the command palette view.
type Model struct {
	input textinput.Model
	width int
	err   string
}

// New creates a new command palette model.
func New(width int) Model {
	ti := textinput.New()
	ti.Placeholder = strings.Join(Commands, " | ")
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(Commands)
	ti.Width = width - 6

	return Model{input: ti, width: width}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		cmd := strings.ToLower(strings.TrimSpace(m.input.Value()))
		m.input.Reset()
		if cmd == "" {
			return m, nil
		}
		if !known(cmd) {
			m.err = "unknown command: " + cmd
			return m, nil
		}
		m.err = ""
		return m, func() tea.Msg { return CommandMsg(cmd) }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func known(cmd string) bool {
	for _, c := range Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// View renders the command palette.
func (m Model) View() string {
	content := theme.PanelTitleStyle.Render("Command") + "\n" + m.input.View()
	if m.err != "" {
		content += "\n" + theme.ErrorStyle.Render(m.err)
	}
	return theme.PanelStyle.Width(max(m.width-2, 0)).Render(content)
}

// SetSize updates the palette width.
func (m *Model) SetSize(width int) {
	m.width = width
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.err = ""
	return m.input.Focus()
}
