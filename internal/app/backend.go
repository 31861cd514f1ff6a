package app

import (
	"context"
	"time"

	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/model"
)

// Backend is the API surface the viewer uses.
type Backend interface {
	Domains(ctx context.Context) ([]string, error)
	ServerKey(ctx context.Context) ([]byte, error)
	CreateAddress(ctx context.Context, req api.CreateAddressRequest) (*api.AddressResponse, error)
	GetAddress(ctx context.Context, id string) (*api.AddressView, error)
	ExtendAddress(ctx context.Context, id string, by time.Duration) (*api.AddressResponse, error)
	DeleteAddress(ctx context.Context, id string) error
	ListMessages(ctx context.Context, id string, opts client.ListOptions) ([]model.Message, error)
	GetMessage(ctx context.Context, id, messageID string) (*inbox.MessageView, error)
	MarkRead(ctx context.Context, id, messageID string, read bool) error
	DeleteMessage(ctx context.Context, id, messageID string) error
	Watch(ctx context.Context, id string, handler client.EventHandler) error
	// WithToken returns a Backend authenticated as one address.
	WithToken(token string) Backend
}

// FromClient adapts an API client.
func FromClient(c *client.Client) Backend {
	return clientBackend{c}
}

type clientBackend struct {
	*client.Client
}

func (c clientBackend) WithToken(token string) Backend {
	return clientBackend{c.WithAddressToken(token)}
}

// Session is the address the viewer is attached to.
type Session struct {
	Address api.AddressView
	Token   string
	// SecretKey is only set for sealed addresses.
	SecretKey []byte
}

// Remaining returns the time left before the address expires.
func (s *Session) Remaining(now time.Time) time.Duration {
	return s.Address.ExpiresAt.Sub(now)
}
