// Package realtime fans inbox events out to live subscribers and to
// external brokers.
package realtime

import (
	"time"
)

// EventType names what happened to an inbox.
type EventType string

const (
	EventMessageReceived EventType = "message.received"
	EventMessageDeleted  EventType = "message.deleted"
	EventAddressExpired  EventType = "address.expired"
)

// Event is published for every inbox change. It never carries message
// content, only the listing fields.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	AddressID  string    `json:"address_id"`
	MessageID  string    `json:"message_id,omitempty"`
	Sender     string    `json:"from,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	At         time.Time `json:"at"`

	// Origin identifies the publishing process so a relay can skip
	// events it already delivered locally.
	Origin string `json:"origin,omitempty"`
}
