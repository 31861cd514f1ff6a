// Package app is the terminal inbox viewer.
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/keys"
	"github.com/nhle/tempmail/internal/theme"
	"github.com/nhle/tempmail/internal/ui"
	"github.com/nhle/tempmail/internal/ui/addressform"
	"github.com/nhle/tempmail/internal/ui/command"
	"github.com/nhle/tempmail/internal/ui/detail"
	helpview "github.com/nhle/tempmail/internal/ui/help"
	"github.com/nhle/tempmail/internal/ui/messagelist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewHelp
	ViewCommand
	ViewNewAddress
)

const defaultExtend = time.Hour

// commands lists the palette vocabulary.
var commands = []string{"refresh", "extend", "new", "unread", "delete-address", "quit"}

// Config wires the viewer.
type Config struct {
	// Backend is the unauthenticated API client.
	Backend Backend
	// Session attaches to an existing address. Nil opens the new
	// address form first.
	Session *Session
	// OnSession is called whenever a session is created or its token
	// changes, so the caller can persist it.
	OnSession func(Session) error
	Now       func() time.Time
}

// Model is the root Bubble Tea model that routes between views.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	root      Backend
	backend   Backend
	session   *Session
	serverKey []byte
	onSession func(Session) error
	now       func() time.Time
	watcher   *watcher

	inboxList   messagelist.Model
	detail      detail.Model
	helpView    helpview.Model
	commandView command.Model
	addressForm addressform.Model

	ready   bool
	expired bool
	flash   string
	err     error
}

// New creates the root model.
func New(cfg Config) Model {
	k := keys.DefaultKeyMap()
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	m := Model{
		currentView: ViewList,
		keys:        k,
		root:        cfg.Backend,
		backend:     cfg.Backend,
		onSession:   cfg.OnSession,
		now:         now,
		watcher:     newWatcher(),
		inboxList:   messagelist.New(k, 80, 22),
		detail:      detail.New(k, 80, 22),
		helpView:    helpview.New(k, commands, 80, 22),
		commandView: command.New(commands, 80, 22),
		addressForm: addressform.New(80, 22),
	}
	if cfg.Session != nil {
		m.attach(cfg.Session)
	} else {
		m.currentView = ViewNewAddress
	}
	return m
}

// attach switches the model to s and scopes the backend to its token.
func (m *Model) attach(s *Session) {
	m.session = s
	m.backend = m.root.WithToken(s.Token)
	m.expired = false
}

// Init loads the server key and either the inbox or the address form.
func (m Model) Init() tea.Cmd {
	if m.session == nil {
		return tea.Batch(m.loadServerKey(), m.loadDomains(), tick())
	}
	return tea.Batch(
		m.loadServerKey(),
		m.loadMessages(),
		m.startWatch(),
		m.waitForEvent(),
		tick(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.inboxList.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		m.addressForm.SetSize(w, h)
		// huh forms need the size to lay out.
		return m.updateActiveView(msg)

	case tickMsg:
		return m, tick()

	case serverKeyMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("server key: %w", msg.err)
			return m, nil
		}
		m.serverKey = msg.key
		return m, nil

	case domainsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		cmd := m.addressForm.Start(msg.domains)
		return m, cmd

	case messagesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			cmd := m.inboxList.SetMessages(nil)
			return m, cmd
		}
		m.err = nil
		cmd := m.inboxList.SetMessages(msg.messages)
		return m, cmd

	case eventMsg:
		cmd := m.applyEvent(msg.event)
		return m, tea.Batch(cmd, m.waitForEvent())

	case watchEndedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, client.ErrUnauthorized) {
				m.expired = true
			}
			m.err = fmt.Errorf("live updates stopped: %w", msg.err)
		}
		return m, nil

	case sessionMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		cmd := m.switchSession(msg.session)
		return m, cmd

	case messageDeletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if m.currentView == ViewDetail && m.detail.MessageID() == msg.id {
			m.currentView = ViewList
		}
		cmd := m.inboxList.Remove(msg.id)
		return m, cmd

	case addressDeletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.watcher.stop()
		m.session = nil
		m.currentView = ViewNewAddress
		m.inboxList.SetMessages(nil)
		return m, m.loadDomains()

	case statusMsg:
		m.flash = string(msg)
		return m, nil

	case messagelist.SelectedMessageMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetLoading(true)
		return m, m.openMessage(msg.MessageID)

	case messagelist.DeleteMessageMsg:
		return m, m.deleteMessage(msg.MessageID)

	case detail.LoadedMsg:
		if msg.Err == nil {
			m.inboxList.MarkRead(msg.Message.ID)
		}
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case detail.DeleteMsg:
		return m, m.deleteMessage(msg.MessageID)

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case addressform.SubmitMsg:
		m.flash = "creating address..."
		return m, m.createAddress(msg.Request)

	case addressform.CancelMsg:
		if m.session == nil {
			return m, tea.Quit
		}
		m.currentView = ViewList
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.watcher.stop()
			return m, tea.Quit
		}
		if m.currentView == ViewNewAddress || m.currentView == ViewCommand {
			break
		}
		m.flash = ""

		switch {
		case key.Matches(msg, m.keys.Quit) && m.currentView == ViewList:
			m.watcher.stop()
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Back) && m.currentView == ViewHelp:
			m.currentView = m.previousView
			return m, nil

		case key.Matches(msg, m.keys.Command):
			m.previousView = m.currentView
			m.currentView = ViewCommand
			cmd := m.commandView.Focus()
			return m, cmd

		case m.currentView != ViewList:
			// the remaining bindings only apply to the inbox list
		case key.Matches(msg, m.keys.Refresh):
			m.err = nil
			return m, m.loadMessages()

		case key.Matches(msg, m.keys.NewAddress):
			m.previousView = m.currentView
			m.currentView = ViewNewAddress
			return m, m.loadDomains()

		case key.Matches(msg, m.keys.Extend):
			return m, m.extend(defaultExtend)
		}
	}

	return m.updateActiveView(msg)
}

// switchSession attaches to s, persists it and restarts loading.
func (m *Model) switchSession(s *Session) tea.Cmd {
	sameAddress := m.session != nil && m.session.Address.ID == s.Address.ID
	m.attach(s)
	if m.onSession != nil {
		if err := m.onSession(*s); err != nil {
			m.err = fmt.Errorf("save session: %w", err)
		}
	}
	m.currentView = ViewList
	if sameAddress {
		m.flash = "expires " + s.Address.ExpiresAt.Local().Format("15:04")
		return m.startWatch()
	}
	m.flash = "created " + s.Address.Email
	m.inboxList.SetMessages(nil)
	return tea.Batch(m.loadMessages(), m.startWatch())
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.inboxList, cmd = m.inboxList.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewNewAddress:
		m.addressForm, cmd = m.addressForm.Update(msg)
	}

	return m, cmd
}

// executeCommand runs a palette command.
func (m *Model) executeCommand(c command.CommandMsg) tea.Cmd {
	if m.session == nil && c.Name != "new" && c.Name != "quit" && c.Name != "q" {
		return func() tea.Msg { return statusMsg("no address yet") }
	}

	switch c.Name {
	case "refresh", "r":
		return m.loadMessages()
	case "extend":
		by := defaultExtend
		if len(c.Args) > 0 {
			d, err := time.ParseDuration(c.Args[0])
			if err != nil || d <= 0 {
				return func() tea.Msg { return statusMsg("extend: invalid duration " + c.Args[0]) }
			}
			by = d
		}
		return m.extend(by)
	case "new":
		m.currentView = ViewNewAddress
		return m.loadDomains()
	case "unread":
		var cmd tea.Cmd
		m.inboxList, cmd = m.inboxList.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("u")})
		return cmd
	case "delete-address":
		return m.deleteAddress()
	case "quit", "q":
		m.watcher.stop()
		return tea.Quit
	default:
		return func() tea.Msg { return statusMsg("unknown command: " + c.Name) }
	}
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title, right := m.header()
	header := m.layout.RenderHeader(title, right)
	errText := ""
	if m.err != nil {
		errText = m.err.Error()
	}
	statusBar := m.layout.RenderStatusBar(m.keyHints(), errText)

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// header returns the address line and the countdown.
func (m Model) header() (string, string) {
	if m.session == nil {
		return "tempmail", ""
	}
	a := m.session.Address
	title := a.Email + " " + string(a.Tier) + " " + string(a.Mode)
	if n := m.inboxList.Unread(); n > 0 {
		title = fmt.Sprintf("%s [%d new]", title, n)
	}
	if m.expired {
		return title, "expired"
	}
	return title, "expires in " + styledRemaining(m.session.Remaining(m.now()))
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.inboxList.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewNewAddress:
		return m.addressForm.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.flash != "" && m.currentView == ViewList {
		return m.flash
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter run | tab complete | esc cancel"
	case ViewDetail:
		return "esc back | d delete | j/k scroll"
	case ViewNewAddress:
		return "enter next | esc cancel"
	default:
		hints := []string{"q quit", "? help", "enter open", "d delete", "r refresh", "e extend", "n new"}
		if m.inboxList.UnreadOnly() {
			hints = append(hints, "u show all")
		}
		return strings.Join(hints, " | ")
	}
}

// formatRemaining renders a countdown such as 1h05m or 42s.
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, mins)
	case mins > 0:
		return fmt.Sprintf("%dm%02ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// styledRemaining colors the countdown by urgency.
func styledRemaining(d time.Duration) string {
	return theme.ExpiryStyle(d).Render(formatRemaining(d))
}
