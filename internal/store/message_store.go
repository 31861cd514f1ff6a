package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/tempmail/internal/model"
)

const messageColumns = `id, address_id, dedup_key, sender, subject, received_at,
	size, read, has_attachments, payload, raw_key`

// InsertMessage stores m unless a message with the same dedup key
// already exists for the address. It reports whether a row was added.
// The (address_id, dedup_key) constraint decides, so concurrent
// deliveries of the same message insert exactly once.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m model.Message) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address_id, dedup_key) DO NOTHING`,
		m.ID, m.AddressID, m.DedupKey, m.Sender, m.Subject, m.ReceivedAt.UTC(),
		m.Size, boolToInt(m.Read), boolToInt(m.HasAttachments), m.Payload, m.RawKey,
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return n > 0, nil
}

// GetMessage retrieves one message of an address.
func (s *SQLiteStore) GetMessage(ctx context.Context, addressID, messageID string) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m,
		"SELECT "+messageColumns+" FROM messages WHERE address_id = ? AND id = ?",
		addressID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	return &m, nil
}

// ListMessages returns the inbox of an address, newest first. Payloads
// are included.
func (s *SQLiteStore) ListMessages(ctx context.Context, addressID string, filter MessageFilter) ([]model.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE address_id = ?"
	args := []interface{}{addressID}

	if filter.UnreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var out []model.Message
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages for %s: %w", addressID, err)
	}
	return out, nil
}

// MarkRead sets the read flag of a message.
func (s *SQLiteStore) MarkRead(ctx context.Context, addressID, messageID string, read bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET read = ? WHERE address_id = ? AND id = ?",
		boolToInt(read), addressID, messageID)
	if err != nil {
		return fmt.Errorf("marking message %s: %w", messageID, err)
	}
	return requireRow(res, "message", messageID)
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, addressID, messageID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE address_id = ? AND id = ?", addressID, messageID)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", messageID, err)
	}
	return requireRow(res, "message", messageID)
}

// CountMessages returns the number of stored messages of an address.
func (s *SQLiteStore) CountMessages(ctx context.Context, addressID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM messages WHERE address_id = ?", addressID)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", addressID, err)
	}
	return n, nil
}

// OldestMessages returns the n oldest messages of an address. Payloads
// are not loaded.
func (s *SQLiteStore) OldestMessages(ctx context.Context, addressID string, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []model.Message
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, address_id, dedup_key, sender, subject, received_at,
			size, read, has_attachments, x'' AS payload, raw_key
		FROM messages WHERE address_id = ? ORDER BY id ASC LIMIT ?`,
		addressID, n)
	if err != nil {
		return nil, fmt.Errorf("querying oldest messages for %s: %w", addressID, err)
	}
	return out, nil
}

// MessageExists reports whether a message with dedupKey is stored for
// the address.
func (s *SQLiteStore) MessageExists(ctx context.Context, addressID, dedupKey string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM messages WHERE address_id = ? AND dedup_key = ?",
		addressID, dedupKey)
	if err != nil {
		return false, fmt.Errorf("checking message for %s: %w", addressID, err)
	}
	return n > 0, nil
}
