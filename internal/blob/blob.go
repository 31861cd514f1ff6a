// Package blob stores sealed raw messages outside the database.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/tempmail/internal/model"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Key returns the object key of a message's sealed raw form.
func Key(addressID, messageID string) string {
	return addressID + "/" + messageID + ".eml.sealed"
}

// AddressPrefix returns the prefix shared by every object of an address.
func AddressPrefix(addressID string) string {
	return addressID + "/"
}

// New builds the backend selected by cfg.Blob.
func New(ctx context.Context, cfg model.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Blob) {
	case "", "fs":
		return NewFSStore(cfg.BlobDir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob)
	}
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}
