// Package source defines where inbound mail comes from.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/tempmail/internal/model"
)

// AuthError indicates that authentication has failed for a source.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ErrMessageTooLarge is returned by a Sink that refused a message for
// its size.
var ErrMessageTooLarge = errors.New("message too large")

// SourceType identifies the kind of inbound mail source.
type SourceType string

const (
	SourceTypeIMAP SourceType = "imap"
	SourceTypeSMTP SourceType = "smtp"
	SourceTypeAPI  SourceType = "api"
)

// RawMessage is one inbound message before parsing.
type RawMessage struct {
	Source SourceType

	// Ref identifies the message at its source, such as an IMAP UID. Ack
	// takes these back.
	Ref string

	// Recipients are envelope recipients (RCPT TO), when the source
	// knows them.
	Recipients []string

	Data       []byte
	ReceivedAt time.Time
}

// FetchResult is one batch from a pull source.
type FetchResult struct {
	Messages []RawMessage

	// Cursor is the position after this batch. It must only be stored
	// once every message of the batch was ingested.
	Cursor model.SourceState

	// HasMore is set when the batch was cut at the batch size.
	HasMore bool
}

// Source is a mailbox the poller pulls from.
type Source interface {
	// Type returns the source type identifier.
	Type() SourceType

	// Name identifies this source instance in stored cursors and status.
	Name() string

	// Mailbox is the mailbox the cursor refers to.
	Mailbox() string

	// ValidateConnection verifies credentials and connectivity.
	// Returns a human-readable status message on success.
	ValidateConnection(ctx context.Context) (string, error)

	// Fetch returns the messages after cursor.
	Fetch(ctx context.Context, cursor model.SourceState) (*FetchResult, error)

	// Ack marks ingested messages as handled at the source.
	Ack(ctx context.Context, refs []string) error

	Close() error
}

// Sink receives raw messages from every source.
type Sink interface {
	Deliver(ctx context.Context, msg RawMessage) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg RawMessage) error

func (f SinkFunc) Deliver(ctx context.Context, msg RawMessage) error {
	return f(ctx, msg)
}
