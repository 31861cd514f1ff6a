package model

import "time"

// Message is a stored inbound email. The content lives only in Payload,
// a sealed envelope; the plaintext columns are the minimum needed to list
// an inbox.
type Message struct {
	// ID is a ULID, so lexical order equals arrival order.
	ID string `json:"id" db:"id"`

	// AddressID is the owning address.
	AddressID string `json:"address_id" db:"address_id"`

	// DedupKey is unique per address and guards against double delivery.
	DedupKey string `json:"-" db:"dedup_key"`

	Sender     string    `json:"from" db:"sender"`
	Subject    string    `json:"subject" db:"subject"`
	ReceivedAt time.Time `json:"received_at" db:"received_at"`

	// Size is the raw RFC 5322 size in bytes.
	Size int64 `json:"size" db:"size"`

	Read bool `json:"read" db:"read"`

	// HasAttachments is set from the parsed MIME tree.
	HasAttachments bool `json:"has_attachments" db:"has_attachments"`

	// Payload is the JSON sealed envelope of the parsed message.
	Payload []byte `json:"-" db:"payload"`

	// RawKey locates the sealed raw message in the blob store.
	RawKey string `json:"-" db:"raw_key"`
}

// Content is the plaintext sealed into a message payload.
type Content struct {
	MessageID   string            `json:"message_id"`
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Subject     string            `json:"subject"`
	Date        time.Time         `json:"date"`
	ReceivedAt  time.Time         `json:"received_at"`
	Text        string            `json:"text"`
	HTML        string            `json:"html,omitempty"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Links       []string          `json:"links,omitempty"`
	// Codes are likely verification codes found in the subject or body.
	Codes []string `json:"codes,omitempty"`
}

// Attachment is a decoded MIME attachment.
type Attachment struct {
	Filename           string `json:"filename"`
	ContentType        string `json:"content_type"`
	Size               int64  `json:"size"`
	ContentID          string `json:"content_id,omitempty"`
	ContentDisposition string `json:"content_disposition,omitempty"`
	Content            []byte `json:"content,omitempty"`
	Checksum           string `json:"checksum"`
}
