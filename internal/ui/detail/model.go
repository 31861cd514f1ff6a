package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// BackMsg signals the parent to navigate back to the inbox.
type BackMsg struct{}

// DeleteMsg asks the parent to delete the open message.
type DeleteMsg struct {
	MessageID string
}

// LoadedMsg carries an opened message, or the error that prevented it.
type LoadedMsg struct {
	Message model.Message
	Content *model.Content
	Err     error
}

// Model is the message view.
type Model struct {
	msg      *model.Message
	content  *model.Content
	err      error
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
	loading  bool
}

// New creates a new message view.
func New(k *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     k,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the message view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		m.loading = false
		m.err = msg.Err
		m.msg = &msg.Message
		m.content = msg.Content
		m.viewport.SetContent(m.renderContent())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return BackMsg{} }

		case key.Matches(msg, m.keys.Delete):
			if m.msg != nil {
				id := m.msg.ID
				return m, func() tea.Msg { return DeleteMsg{MessageID: id} }
			}
			return m, nil
		}
	}

	// Scrolling (j/k, up/down, pgup/pgdn) goes to the viewport.
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the message view.
func (m Model) View() string {
	center := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.loading {
		return center.Render("Opening message...")
	}
	if m.err != nil {
		return center.Foreground(theme.ColorRed).Render("Could not open message:\n" + m.err.Error())
	}
	if m.content == nil {
		return center.Render("No message selected")
	}
	return m.viewport.View()
}

// renderContent builds the header block, body, attachments and links.
func (m Model) renderContent() string {
	c := m.content
	if c == nil {
		return ""
	}

	var sections []string
	sections = append(sections, lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).Render(subjectOr(c.Subject)))
	sections = append(sections, "")

	field := func(label, value string) {
		if value == "" {
			return
		}
		sections = append(sections, fmt.Sprintf("%s %s",
			theme.LabelStyle.Render(fmt.Sprintf("%-6s", label+":")),
			theme.ValueStyle.Render(value)))
	}
	field("From", c.From)
	field("To", strings.Join(c.To, ", "))
	field("Cc", strings.Join(c.Cc, ", "))
	if !c.Date.IsZero() {
		field("Date", c.Date.Local().Format("2006-01-02 15:04"))
	}
	if len(c.Codes) > 0 {
		field("Code", lipgloss.NewStyle().Bold(true).Foreground(theme.ColorGreen).Render(strings.Join(c.Codes, "  ")))
	}

	separator := lipgloss.NewStyle().
		Foreground(theme.ColorSubtle).
		Render(strings.Repeat("─", max(min(m.width-4, 80), 1)))
	sections = append(sections, "", separator, "")

	body := c.Text
	if strings.TrimSpace(body) == "" {
		if c.HTML != "" {
			body = theme.HelpStyle.Render("HTML only message. Use the raw download to view it.")
		} else {
			body = theme.HelpStyle.Render("No text body")
		}
	}
	sections = append(sections, lipgloss.NewStyle().Width(max(m.width-2, 20)).Render(body))

	if len(c.Attachments) > 0 {
		sections = append(sections, "", separator, "")
		sections = append(sections, lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("Attachments (%d)", len(c.Attachments))))
		for _, a := range c.Attachments {
			sections = append(sections, fmt.Sprintf("  📎 %s  %s  %s",
				a.Filename,
				theme.LabelStyle.Render(a.ContentType),
				theme.LabelStyle.Render(humanize.IBytes(uint64(a.Size)))))
		}
	}

	if len(c.Links) > 0 {
		sections = append(sections, "", lipgloss.NewStyle().Bold(true).Render("Links"))
		for _, l := range c.Links {
			sections = append(sections, "  "+lipgloss.NewStyle().Foreground(theme.ColorBlue).Render(l))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetLoading clears the view and shows a loading message.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
	if loading {
		m.content = nil
		m.err = nil
	}
}

// MessageID returns the ID of the message on screen.
func (m Model) MessageID() string {
	if m.msg == nil {
		return ""
	}
	return m.msg.ID
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
	if m.content != nil {
		m.viewport.SetContent(m.renderContent())
	}
}

func subjectOr(s string) string {
	if s == "" {
		return "(no subject)"
	}
	return s
}
