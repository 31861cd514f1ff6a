package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/theme"
)

// Model is the help overlay. It lists key bindings and the command
// palette vocabulary.
type Model struct {
	keys     *keys.KeyMap
	help     help.Model
	commands []string
	width    int
	height   int
}

// New creates a new help view model.
func New(k *keys.KeyMap, commands []string, width, height int) Model {
	h := help.New()
	h.Width = width
	h.ShowAll = true
	return Model{
		keys:     k,
		help:     h,
		commands: commands,
		width:    width,
		height:   height,
	}
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	sections := []string{
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
	}
	if len(m.commands) > 0 {
		sections = append(sections, "",
			titleStyle.Render("Commands"),
			theme.HelpStyle.Render(": "+strings.Join(m.commands, "  ")))
	}

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 10)).
		Height(max(m.height-4, 1)).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
