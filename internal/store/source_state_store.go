package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhle/tempmail/internal/model"
)

// GetSourceState returns the cursor of a pull source mailbox. A source
// that never completed a poll gets a zero cursor.
func (s *SQLiteStore) GetSourceState(ctx context.Context, source, mailbox string) (model.SourceState, error) {
	var st model.SourceState
	err := s.db.GetContext(ctx, &st, `
		SELECT source, mailbox, uid_validity, last_uid, updated_at
		FROM source_state WHERE source = ? AND mailbox = ?`, source, mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceState{Source: source, Mailbox: mailbox}, nil
	}
	if err != nil {
		return model.SourceState{}, fmt.Errorf("getting state of %s/%s: %w", source, mailbox, err)
	}
	return st, nil
}

// PutSourceState upserts a pull source cursor.
func (s *SQLiteStore) PutSourceState(ctx context.Context, st model.SourceState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_state (source, mailbox, uid_validity, last_uid, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, mailbox) DO UPDATE SET
			uid_validity = excluded.uid_validity,
			last_uid = excluded.last_uid,
			updated_at = excluded.updated_at`,
		st.Source, st.Mailbox, st.UIDValidity, st.LastUID, st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("storing state of %s/%s: %w", st.Source, st.Mailbox, err)
	}
	return nil
}
