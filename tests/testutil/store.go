package testutil

import (
	"testing"
	"time"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestAddress returns an address on temp.test that expires in one hour.
func NewTestAddress(id, local string) model.Address {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Address{
		ID:        id,
		LocalPart: local,
		Domain:    "temp.test",
		Tier:      model.TierFree,
		Mode:      model.ModeManaged,
		PublicKey: []byte("pk-" + id),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}
