package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/ui/detail"
)

const requestTimeout = 15 * time.Second

// messagesLoadedMsg carries a fresh inbox listing.
type messagesLoadedMsg struct {
	messages []model.Message
	err      error
}

// serverKeyMsg carries the pinned server signing key.
type serverKeyMsg struct {
	key []byte
	err error
}

// domainsLoadedMsg carries the accepted domains for the address form.
type domainsLoadedMsg struct {
	domains []string
	err     error
}

// sessionMsg is sent when an address was created or extended.
type sessionMsg struct {
	session *Session
	err     error
}

// messageDeletedMsg reports the outcome of a delete.
type messageDeletedMsg struct {
	id  string
	err error
}

// addressDeletedMsg reports the outcome of deleting the whole address.
type addressDeletedMsg struct {
	err error
}

// statusMsg shows a transient note in the status bar.
type statusMsg string

func (m Model) loadMessages() tea.Cmd {
	b, id := m.backend, m.session.Address.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msgs, err := b.ListMessages(ctx, id, client.ListOptions{Limit: 200})
		return messagesLoadedMsg{messages: msgs, err: err}
	}
}

func (m Model) loadServerKey() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		key, err := b.ServerKey(ctx)
		return serverKeyMsg{key: key, err: err}
	}
}

func (m Model) loadDomains() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		domains, err := b.Domains(ctx)
		return domainsLoadedMsg{domains: domains, err: err}
	}
}

// openMessage fetches a message, opens it with the session key when the
// address is sealed and marks it read.
func (m Model) openMessage(messageID string) tea.Cmd {
	b, s, serverKey := m.backend, m.session, m.serverKey
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		view, err := b.GetMessage(ctx, s.Address.ID, messageID)
		if err != nil {
			return detail.LoadedMsg{Message: model.Message{ID: messageID}, Err: err}
		}
		if view.Envelope != nil && serverKey == nil {
			return detail.LoadedMsg{Message: view.Message, Err: fmt.Errorf("%w: server key not loaded", codec.ErrServerKeyMismatch)}
		}
		content, err := client.OpenSealed(view, s.SecretKey, serverKey)
		if err != nil {
			return detail.LoadedMsg{Message: view.Message, Err: err}
		}
		if !view.Message.Read {
			_ = b.MarkRead(ctx, s.Address.ID, messageID, true)
		}
		return detail.LoadedMsg{Message: view.Message, Content: content}
	}
}

func (m Model) deleteMessage(messageID string) tea.Cmd {
	b, id := m.backend, m.session.Address.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return messageDeletedMsg{id: messageID, err: b.DeleteMessage(ctx, id, messageID)}
	}
}

func (m Model) deleteAddress() tea.Cmd {
	b, id := m.backend, m.session.Address.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return addressDeletedMsg{err: b.DeleteAddress(ctx, id)}
	}
}

// extend pushes the expiry out and swaps in the reissued token.
func (m Model) extend(by time.Duration) tea.Cmd {
	b, s := m.backend, *m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := b.ExtendAddress(ctx, s.Address.ID, by)
		if err != nil {
			return sessionMsg{err: err}
		}
		s.Address = resp.Address
		s.Token = resp.Token
		return sessionMsg{session: &s}
	}
}

// createAddress provisions a new address with the unscoped backend.
func (m Model) createAddress(req api.CreateAddressRequest) tea.Cmd {
	b := m.root
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		resp, err := b.CreateAddress(ctx, req)
		if err != nil {
			return sessionMsg{err: err}
		}
		s := &Session{Address: resp.Address, Token: resp.Token}
		if resp.SecretKey != "" {
			if s.SecretKey, err = codec.FromBase64URL(resp.SecretKey); err != nil {
				return sessionMsg{err: err}
			}
		}
		return sessionMsg{session: s}
	}
}
