package messagelist

import (
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// MessageItem wraps a model.Message so it can be used in a bubbles/list.
type MessageItem struct {
	Message model.Message
}

// FilterValue returns the string used for fuzzy filtering.
func (i MessageItem) FilterValue() string { return i.Message.Sender + " " + i.Message.Subject }

// ItemDelegate draws one message per line.
type ItemDelegate struct {
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single inbox row: unread marker, sender, subject,
// attachment mark and age.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	mi, ok := item.(MessageItem)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(mi.Message, index == m.Index(), m.Width()))
}

func (d ItemDelegate) renderLine(msg model.Message, selected bool, width int) string {
	now := time.Now
	if d.now != nil {
		now = d.now
	}

	marker := " "
	if !msg.Read {
		marker = theme.UnreadStyle.Render("●")
	}

	sender := truncate(displaySender(msg.Sender), 24)
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	clip := ""
	if msg.HasAttachments {
		clip = " 📎"
	}
	age := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(msg.ReceivedAt, now()))

	// sender column, subject takes what is left
	room := width - 24 - lipgloss.Width(age) - 10
	if room < 10 {
		room = 10
	}
	line := fmt.Sprintf("%s %-24s %s%s  %s", marker, sender, truncate(subject, room), clip, age)

	if msg.Read {
		line = theme.DimmedStyle.Render(line)
	}
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// displaySender prefers the display name of a From header.
func displaySender(from string) string {
	if from == "" {
		return "(unknown)"
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		if addr.Name != "" {
			return addr.Name
		}
		return addr.Address
	}
	return from
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// relativeTime returns a human-friendly age.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
