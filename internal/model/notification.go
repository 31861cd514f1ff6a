package model

import "time"

// NotificationKind classifies a notification.
type NotificationKind string

const (
	NotificationMessage NotificationKind = "message"
	NotificationExpiry  NotificationKind = "expiry"
)

// Notification represents an alert surfaced to the owner of an address
// about activity in its inbox.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// AddressID links this notification to the inbox it concerns.
	AddressID string `json:"address_id"`

	// MessageID is set for message notifications.
	MessageID string `json:"message_id,omitempty"`

	Kind NotificationKind `json:"kind"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Read indicates whether the owner has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `json:"created_at"`
}

// SourceState is the resume cursor of a pull source.
type SourceState struct {
	Source      string    `db:"source"`
	Mailbox     string    `db:"mailbox"`
	UIDValidity uint32    `db:"uid_validity"`
	LastUID     uint32    `db:"last_uid"`
	UpdatedAt   time.Time `db:"updated_at"`
}
