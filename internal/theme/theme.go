package theme

import (
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the top bar showing the current address.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// ErrorBarStyle replaces the status bar style while an error is shown.
var ErrorBarStyle = StatusBarStyle.
	Background(ColorRed)

// DetailPanelStyle wraps the help and command panels.
var DetailPanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ListItemStyle is the base style for inbox rows.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the focused inbox row.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle renders read messages.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// UnreadStyle renders the unread marker and unread subjects.
var UnreadStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorGreen)

// LabelStyle and ValueStyle render header fields in the message view.
var (
	LabelStyle = lipgloss.NewStyle().Foreground(ColorGray)
	ValueStyle = lipgloss.NewStyle().Foreground(ColorWhite)
)

// ExpiryStyle colors the remaining lifetime of an address: red under
// five minutes, yellow under an hour.
func ExpiryStyle(remaining time.Duration) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch {
	case remaining <= 5*time.Minute:
		return base.Foreground(ColorRed)
	case remaining <= time.Hour:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGreen)
	}
}

// TierStyle returns a color-coded badge style for an address tier.
func TierStyle(t model.Tier) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch t {
	case model.TierPremium:
		return base.Foreground(ColorMagenta)
	case model.TierBusiness:
		return base.Foreground(ColorBlue)
	default:
		return base.Foreground(ColorGray)
	}
}

// ModeStyle returns the badge style for an encryption mode.
func ModeStyle(m model.EncryptionMode) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	if m == model.ModeSealed {
		return base.Foreground(ColorGreen)
	}
	return base.Foreground(ColorYellow)
}
