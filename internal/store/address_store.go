package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/tempmail/internal/model"
)

const addressColumns = `
	a.id, a.local_part, a.domain, a.tier, a.mode, a.public_key,
	a.created_at, a.expires_at,
	(SELECT COUNT(*) FROM messages m WHERE m.address_id = a.id) AS message_count`

// CreateAddress inserts a new address. A taken email yields ErrConflict.
func (s *SQLiteStore) CreateAddress(ctx context.Context, a model.Address) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO addresses (
			id, local_part, domain, email, tier, mode, public_key, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.LocalPart, a.Domain, a.Email(), string(a.Tier), string(a.Mode),
		a.PublicKey, a.CreatedAt.UTC(), a.ExpiresAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating address %s: %w", a.Email(), ErrConflict)
		}
		return fmt.Errorf("creating address %s: %w", a.Email(), err)
	}
	return nil
}

// GetAddress retrieves an address by ID.
func (s *SQLiteStore) GetAddress(ctx context.Context, id string) (*model.Address, error) {
	var a model.Address
	err := s.db.GetContext(ctx, &a,
		"SELECT"+addressColumns+" FROM addresses a WHERE a.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting address %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting address %s: %w", id, err)
	}
	return &a, nil
}

// GetAddressByEmail retrieves an address by its full email, case-insensitively.
func (s *SQLiteStore) GetAddressByEmail(ctx context.Context, email string) (*model.Address, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var a model.Address
	err := s.db.GetContext(ctx, &a,
		"SELECT"+addressColumns+" FROM addresses a WHERE a.email = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting address %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting address %s: %w", email, err)
	}
	return &a, nil
}

// AddressExists reports whether email is provisioned, expired or not.
func (s *SQLiteStore) AddressExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM addresses WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return false, fmt.Errorf("checking address %s: %w", email, err)
	}
	return n > 0, nil
}

// ListAddresses retrieves addresses matching filter, newest first.
func (s *SQLiteStore) ListAddresses(ctx context.Context, filter AddressFilter) ([]model.Address, error) {
	var conditions []string
	var args []interface{}

	if filter.Domain != nil {
		conditions = append(conditions, "a.domain = ?")
		args = append(args, strings.ToLower(*filter.Domain))
	}
	if filter.Tier != nil {
		conditions = append(conditions, "a.tier = ?")
		args = append(args, string(*filter.Tier))
	}
	if filter.ActiveAt != nil {
		conditions = append(conditions, "a.expires_at > ?")
		args = append(args, filter.ActiveAt.UTC())
	}

	query := "SELECT" + addressColumns + " FROM addresses a"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY a.created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var out []model.Address
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("querying addresses: %w", err)
	}
	return out, nil
}

// ExtendAddress sets a new expiry.
func (s *SQLiteStore) ExtendAddress(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE addresses SET expires_at = ? WHERE id = ?", expiresAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("extending address %s: %w", id, err)
	}
	return requireRow(res, "address", id)
}

// DeleteAddress removes an address; its messages, notifications and
// wrapped key go with it.
func (s *SQLiteStore) DeleteAddress(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM addresses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting address %s: %w", id, err)
	}
	return requireRow(res, "address", id)
}

// ExpiredAddresses returns up to limit addresses whose expiry is at or
// before now, oldest expiry first.
func (s *SQLiteStore) ExpiredAddresses(ctx context.Context, now time.Time, limit int) ([]model.Address, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Address
	err := s.db.SelectContext(ctx, &out,
		"SELECT"+addressColumns+" FROM addresses a WHERE a.expires_at <= ? ORDER BY a.expires_at LIMIT ?",
		now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired addresses: %w", err)
	}
	return out, nil
}

// PutAddressKey stores the wrapped secret key of a managed address.
func (s *SQLiteStore) PutAddressKey(ctx context.Context, addressID string, wrapped []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO address_keys (address_id, wrapped, created_at) VALUES (?, ?, ?)
		ON CONFLICT(address_id) DO UPDATE SET wrapped = excluded.wrapped`,
		addressID, wrapped, s.now().UTC())
	if err != nil {
		return fmt.Errorf("storing key for address %s: %w", addressID, err)
	}
	return nil
}

// GetAddressKey returns the wrapped secret key of a managed address.
func (s *SQLiteStore) GetAddressKey(ctx context.Context, addressID string) ([]byte, error) {
	var wrapped []byte
	err := s.db.GetContext(ctx, &wrapped,
		"SELECT wrapped FROM address_keys WHERE address_id = ?", addressID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting key for address %s: %w", addressID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting key for address %s: %w", addressID, err)
	}
	return wrapped, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
