package app

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/realtime"
)

// eventMsg carries one live inbox event.
type eventMsg struct {
	event realtime.Event
}

// watchEndedMsg is sent when the event stream gives up.
type watchEndedMsg struct {
	err error
}

// tickMsg refreshes the expiry countdown.
type tickMsg time.Time

// watcher owns the event stream goroutine. It lives on the heap so the
// value-typed root model can restart it.
type watcher struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	events chan realtime.Event
}

func newWatcher() *watcher {
	return &watcher{events: make(chan realtime.Event, 64)}
}

func (w *watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// startWatch (re)opens the event stream for the current address. Events
// are queued on the watcher channel and drained by waitForEvent.
func (m Model) startWatch() tea.Cmd {
	w := m.watcher
	w.stop()

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	b, id := m.backend, m.session.Address.ID
	return func() tea.Msg {
		err := b.Watch(ctx, id, func(e realtime.Event) {
			select {
			case w.events <- e:
			case <-ctx.Done():
			}
		})
		if ctx.Err() != nil {
			return nil
		}
		return watchEndedMsg{err: err}
	}
}

// waitForEvent blocks until the next event arrives.
func (m Model) waitForEvent() tea.Cmd {
	events := m.watcher.events
	return func() tea.Msg {
		return eventMsg{event: <-events}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// applyEvent folds a live event into the inbox list.
func (m *Model) applyEvent(e realtime.Event) tea.Cmd {
	if m.session == nil || e.AddressID != "" && e.AddressID != m.session.Address.ID {
		return nil
	}

	switch e.Type {
	case realtime.EventMessageReceived:
		m.flash = "new mail from " + e.Sender
		return m.inboxList.Upsert(model.Message{
			ID:         e.MessageID,
			AddressID:  e.AddressID,
			Sender:     e.Sender,
			Subject:    e.Subject,
			ReceivedAt: e.ReceivedAt,
		})
	case realtime.EventMessageDeleted:
		return m.inboxList.Remove(e.MessageID)
	case realtime.EventAddressExpired:
		m.expired = true
		m.watcher.stop()
	}
	return nil
}
