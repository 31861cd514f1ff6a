package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/tempmail/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique constraint rejects a write,
	// such as an email that is already provisioned.
	ErrConflict = errors.New("already exists")
)

// AddressFilter controls filtering and pagination for address queries.
type AddressFilter struct {
	Domain *string
	Tier   *model.Tier
	// ActiveAt excludes addresses that expired at or before this time.
	ActiveAt *time.Time
	Limit    int
	Offset   int
}

// MessageFilter controls filtering and pagination for inbox queries.
// Results are newest first.
type MessageFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store defines the persistence interface for addresses, their
// messages, notifications and pull-source cursors.
type Store interface {
	// === Addresses ===

	CreateAddress(ctx context.Context, a model.Address) error
	GetAddress(ctx context.Context, id string) (*model.Address, error)
	GetAddressByEmail(ctx context.Context, email string) (*model.Address, error)
	AddressExists(ctx context.Context, email string) (bool, error)
	ListAddresses(ctx context.Context, filter AddressFilter) ([]model.Address, error)
	ExtendAddress(ctx context.Context, id string, expiresAt time.Time) error
	DeleteAddress(ctx context.Context, id string) error
	ExpiredAddresses(ctx context.Context, now time.Time, limit int) ([]model.Address, error)

	// === Address keys (managed mode) ===

	PutAddressKey(ctx context.Context, addressID string, wrapped []byte) error
	GetAddressKey(ctx context.Context, addressID string) ([]byte, error)

	// === Messages ===

	InsertMessage(ctx context.Context, m model.Message) (bool, error)
	GetMessage(ctx context.Context, addressID, messageID string) (*model.Message, error)
	ListMessages(ctx context.Context, addressID string, filter MessageFilter) ([]model.Message, error)
	MarkRead(ctx context.Context, addressID, messageID string, read bool) error
	DeleteMessage(ctx context.Context, addressID, messageID string) error
	CountMessages(ctx context.Context, addressID string) (int, error)
	OldestMessages(ctx context.Context, addressID string, n int) ([]model.Message, error)
	MessageExists(ctx context.Context, addressID, dedupKey string) (bool, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) error
	GetUnreadNotifications(ctx context.Context, addressID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// === Source cursors ===

	GetSourceState(ctx context.Context, source, mailbox string) (model.SourceState, error)
	PutSourceState(ctx context.Context, st model.SourceState) error

	Close() error
}
