package messagelist

import (
	"sort"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// SelectedMessageMsg is sent when the user opens a message.
type SelectedMessageMsg struct {
	MessageID string
}

// DeleteMessageMsg asks the parent to delete a message.
type DeleteMessageMsg struct {
	MessageID string
}

// Model is the inbox list view.
type Model struct {
	list       list.Model
	keys       *keys.KeyMap
	messages   []model.Message
	unreadOnly bool
	loaded     bool
	width      int
	height     int
}

// New creates an empty inbox list.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("message", "messages")

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// SetMessages replaces the inbox contents.
func (m *Model) SetMessages(msgs []model.Message) tea.Cmd {
	m.messages = append([]model.Message(nil), msgs...)
	m.loaded = true
	return m.refresh()
}

// Upsert adds a message or replaces the one with the same ID.
func (m *Model) Upsert(msg model.Message) tea.Cmd {
	for i := range m.messages {
		if m.messages[i].ID == msg.ID {
			m.messages[i] = msg
			return m.refresh()
		}
	}
	m.messages = append(m.messages, msg)
	return m.refresh()
}

// Remove drops a message by ID.
func (m *Model) Remove(id string) tea.Cmd {
	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return m.refresh()
		}
	}
	return nil
}

// MarkRead flips the read flag locally.
func (m *Model) MarkRead(id string) tea.Cmd {
	for i := range m.messages {
		if m.messages[i].ID == id && !m.messages[i].Read {
			m.messages[i].Read = true
			return m.refresh()
		}
	}
	return nil
}

// Unread counts unread messages.
func (m Model) Unread() int {
	n := 0
	for _, msg := range m.messages {
		if !msg.Read {
			n++
		}
	}
	return n
}

// UnreadOnly reports whether read messages are hidden.
func (m Model) UnreadOnly() bool { return m.unreadOnly }

// Selected returns the focused message.
func (m Model) Selected() (model.Message, bool) {
	item, ok := m.list.SelectedItem().(MessageItem)
	if !ok {
		return model.Message{}, false
	}
	return item.Message, true
}

// refresh rebuilds list items, newest first, keeping the cursor on the
// same message when it is still visible.
func (m *Model) refresh() tea.Cmd {
	selected, hadSelection := m.Selected()

	sort.SliceStable(m.messages, func(i, j int) bool {
		return m.messages[i].ID > m.messages[j].ID
	})

	items := make([]list.Item, 0, len(m.messages))
	cursor := 0
	for _, msg := range m.messages {
		if m.unreadOnly && msg.Read {
			continue
		}
		if hadSelection && msg.ID == selected.ID {
			cursor = len(items)
		}
		items = append(items, MessageItem{Message: msg})
	}
	cmd := m.list.SetItems(items)
	m.list.Select(cursor)
	return cmd
}

// Update handles messages for the list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(km, m.keys.Select):
			sel, ok := m.Selected()
			if !ok {
				return m, nil
			}
			return m, func() tea.Msg { return SelectedMessageMsg{MessageID: sel.ID} }

		case key.Matches(km, m.keys.Delete):
			sel, ok := m.Selected()
			if !ok {
				return m, nil
			}
			return m, func() tea.Msg { return DeleteMessageMsg{MessageID: sel.ID} }

		case key.Matches(km, m.keys.UnreadOnly):
			m.unreadOnly = !m.unreadOnly
			cmd := m.refresh()
			return m, cmd
		}
	}

	// Navigation keys (j/k, pgup/pgdn) go to the list.
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the inbox.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case !m.loaded:
		return style.Render("Loading inbox...")
	case m.unreadOnly && len(m.messages) > 0:
		return style.Render("No unread messages.\nPress u to show all.")
	default:
		return style.Render("Inbox is empty.\n\nNew mail shows up here as soon as it arrives.")
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
