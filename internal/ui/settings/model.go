package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/outreach/internal/delivery"
	"github.com/nhle/outreach/internal/inbox"
	"github.com/nhle/outreach/internal/theme"
)

// MinScanInterval is the shortest scan interval the form accepts.
const MinScanInterval = 10

// Store reads and writes runtime settings.
type Store interface {
	GetSetting(ctx context.Context, key, def string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// SavedMsg signals the settings were written.
type SavedMsg struct{}

// ClosedMsg signals the view should close without saving.
type ClosedMsg struct{}

// loadedMsg carries the current setting values.
type loadedMsg struct {
	values Values
	err    error
}

// savedInternalMsg is sent after the values are persisted.
type savedInternalMsg struct {
	err error
}

// Values are the editable runtime settings. Keyword fields hold one
// phrase per line.
type Values struct {
	ScanIntervalSec    string
	KeywordsEN         string
	KeywordsFR         string
	UnsubscribeFolders string
}

// Model edits the runtime settings with a huh form.
type Model struct {
	store Store
	form  *huh.Form

	// values is shared with the form's bindings, so it must survive
	// copies of Model.
	values *Values

	statusMsg     string
	width, height int
}

// New creates a settings view.
func New(s Store, width, height int) Model {
	return Model{store: s, values: &Values{}, width: width, height: height}
}

// Init loads the current values.
func (m Model) Init() tea.Cmd {
	return m.load()
}

// Update handles messages and drives the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error loading settings: %v", msg.err)
			return m, nil
		}
		*m.values = msg.values
		m.statusMsg = ""
		m.form = m.buildForm()
		return m, m.form.Init()

	case savedInternalMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error saving settings: %v", msg.err)
			return m, nil
		}
		m.form = nil
		return m, func() tea.Msg { return SavedMsg{} }

	case tea.KeyMsg:
		if m.form == nil && msg.String() == "esc" {
			return m, func() tea.Msg { return ClosedMsg{} }
		}
	}

	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.save(*m.values)
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return ClosedMsg{} }
	}
	return m, cmd
}

func (m Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Inbox scan interval (seconds)").
				Description("Empty uses the configured schedule").
				Placeholder("60").
				Value(&m.values.ScanIntervalSec).
				Validate(ValidateInterval),
			huh.NewInput().
				Title("Unsubscribe folders").
				Description("Comma-separated mailbox folders").
				Placeholder("INBOX, Junk").
				Value(&m.values.UnsubscribeFolders),
		),
		huh.NewGroup(
			huh.NewText().
				Title("English unsubscribe keywords").
				Description("One phrase per line").
				Lines(6).
				Value(&m.values.KeywordsEN),
			huh.NewText().
				Title("French unsubscribe keywords").
				Description("One phrase per line").
				Lines(6).
				Value(&m.values.KeywordsFR),
		),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

func (m Model) formWidth() int {
	w := m.width - 6
	if w > 80 {
		w = 80
	}
	if w < 20 {
		w = 20
	}
	return w
}

// ValidateInterval accepts an empty value or a whole number of seconds
// no smaller than MinScanInterval.
func ValidateInterval(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be a whole number of seconds")
	}
	if n < MinScanInterval {
		return fmt.Errorf("must be at least %d seconds", MinScanInterval)
	}
	return nil
}

func (m Model) load() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		v, err := Load(context.Background(), s)
		return loadedMsg{values: v, err: err}
	}
}

func (m Model) save(v Values) tea.Cmd {
	s := m.store
	return func() tea.Msg {
		return savedInternalMsg{err: Save(context.Background(), s, v)}
	}
}

// Load reads the settings, filling keyword lists with the defaults
// when unset.
func Load(ctx context.Context, s Store) (Values, error) {
	var v Values
	var err error

	if v.ScanIntervalSec, err = s.GetSetting(ctx, delivery.SettingScanInterval, ""); err != nil {
		return v, err
	}
	folders, err := s.GetSetting(ctx, inbox.SettingUnsubFolder, "")
	if err != nil {
		return v, err
	}
	v.UnsubscribeFolders = inbox.FormatList(inbox.ParseList(folders))

	lists := []struct {
		key      string
		defaults []string
		target   *string
	}{
		{inbox.SettingKeywordsEN, inbox.DefaultKeywordsEN, &v.KeywordsEN},
		{inbox.SettingKeywordsFR, inbox.DefaultKeywordsFR, &v.KeywordsFR},
	}
	for _, l := range lists {
		raw, err := s.GetSetting(ctx, l.key, "")
		if err != nil {
			return v, err
		}
		list := inbox.ParseList(raw)
		if len(list) == 0 {
			list = l.defaults
		}
		*l.target = strings.Join(list, "\n")
	}
	return v, nil
}

// Save validates and writes the settings.
func Save(ctx context.Context, s Store, v Values) error {
	if err := ValidateInterval(v.ScanIntervalSec); err != nil {
		return fmt.Errorf("scan interval: %w", err)
	}

	writes := []struct{ key, value string }{
		{delivery.SettingScanInterval, strings.TrimSpace(v.ScanIntervalSec)},
		{inbox.SettingUnsubFolder, inbox.FormatList(inbox.ParseList(v.UnsubscribeFolders))},
		{inbox.SettingKeywordsEN, inbox.FormatList(inbox.ParseList(v.KeywordsEN))},
		{inbox.SettingKeywordsFR, inbox.FormatList(inbox.ParseList(v.KeywordsFR))},
	}
	for _, w := range writes {
		if err := s.SetSetting(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("saving %s: %w", w.key, err)
		}
	}
	return nil
}

// View renders the form or the status message.
func (m Model) View() string {
	title := theme.PanelTitleStyle.Render("Settings")
	body := "Loading..."
	if m.form != nil {
		body = m.form.View()
	}
	if m.statusMsg != "" {
		body += "\n" + theme.ErrorStyle.Render(m.statusMsg)
		if m.form == nil {
			body += "\n" + theme.HelpStyle.Render("esc back")
		}
	}
	return theme.PanelStyle.
		Width(max(m.width-2, 0)).
		Render(title + "\n" + body)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}
