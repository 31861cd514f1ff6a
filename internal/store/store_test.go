package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
	"github.com/nhle/tempmail/tests/testutil"
)

func newMessage(id, addressID, dedup string) model.Message {
	return model.Message{
		ID:         id,
		AddressID:  addressID,
		DedupKey:   dedup,
		Sender:     "sender@example.com",
		Subject:    "subject " + id,
		ReceivedAt: time.Now().UTC(),
		Size:       42,
		Payload:    []byte(`{"v":1}`),
		RawKey:     addressID + "/" + id + ".eml.sealed",
	}
}

func TestMigrations(t *testing.T) {
	s := testutil.NewTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestAddress_CRUD(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	a := testutil.NewTestAddress("a1", "alice")
	require.NoError(t, s.CreateAddress(ctx, a))

	got, err := s.GetAddress(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "alice@temp.test", got.Email())
	assert.Equal(t, model.TierFree, got.Tier)
	assert.Equal(t, model.ModeManaged, got.Mode)
	assert.Equal(t, a.PublicKey, got.PublicKey)
	assert.True(t, a.ExpiresAt.Equal(got.ExpiresAt))

	byEmail, err := s.GetAddressByEmail(ctx, " ALICE@temp.test ")
	require.NoError(t, err)
	assert.Equal(t, "a1", byEmail.ID)

	exists, err := s.AddressExists(ctx, "alice@temp.test")
	require.NoError(t, err)
	assert.True(t, exists)

	err = s.CreateAddress(ctx, testutil.NewTestAddress("a2", "alice"))
	assert.ErrorIs(t, err, store.ErrConflict)

	newExpiry := a.ExpiresAt.Add(time.Hour)
	require.NoError(t, s.ExtendAddress(ctx, "a1", newExpiry))
	got, err = s.GetAddress(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, newExpiry.Equal(got.ExpiresAt))

	require.NoError(t, s.DeleteAddress(ctx, "a1"))
	_, err = s.GetAddress(ctx, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteAddress(ctx, "a1"), store.ErrNotFound)
	assert.ErrorIs(t, s.ExtendAddress(ctx, "a1", newExpiry), store.ErrNotFound)
}

func TestListAndExpiredAddresses(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	live := testutil.NewTestAddress("live", "live")
	dead := testutil.NewTestAddress("dead", "dead")
	dead.ExpiresAt = now.Add(-time.Minute)
	edge := testutil.NewTestAddress("edge", "edge")
	edge.ExpiresAt = now
	premium := testutil.NewTestAddress("prem", "prem")
	premium.Tier = model.TierPremium

	for _, a := range []model.Address{live, dead, edge, premium} {
		require.NoError(t, s.CreateAddress(ctx, a))
	}

	expired, err := s.ExpiredAddresses(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "dead", expired[0].ID)
	assert.Equal(t, "edge", expired[1].ID)

	active, err := s.ListAddresses(ctx, store.AddressFilter{ActiveAt: &now})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	tier := model.TierPremium
	prem, err := s.ListAddresses(ctx, store.AddressFilter{Tier: &tier})
	require.NoError(t, err)
	require.Len(t, prem, 1)
	assert.Equal(t, "prem", prem[0].ID)

	limited, err := s.ListAddresses(ctx, store.AddressFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAddressKeys(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a1", "alice")))

	_, err := s.GetAddressKey(ctx, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutAddressKey(ctx, "a1", []byte("wrapped-1")))
	require.NoError(t, s.PutAddressKey(ctx, "a1", []byte("wrapped-2")))

	got, err := s.GetAddressKey(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped-2"), got)

	require.NoError(t, s.DeleteAddress(ctx, "a1"))
	_, err = s.GetAddressKey(ctx, "a1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInsertMessage_Dedup(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a1", "alice")))
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a2", "bob")))

	inserted, err := s.InsertMessage(ctx, newMessage("m1", "a1", "k1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertMessage(ctx, newMessage("m2", "a1", "k1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	// Same dedup key under another address is a different message.
	inserted, err = s.InsertMessage(ctx, newMessage("m3", "a2", "k1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	exists, err := s.MessageExists(ctx, "a1", "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := s.CountMessages(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertMessage_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a1", "alice")))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.InsertMessage(ctx, newMessage(fmt.Sprintf("m%d", i), "a1", "same"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
}

func TestInsertMessage_UnknownAddress(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.InsertMessage(context.Background(), newMessage("m1", "missing", "k"))
	assert.Error(t, err)
}

func TestMessages_ListReadDelete(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a1", "alice")))

	for _, id := range []string{"01A", "01B", "01C"} {
		_, err := s.InsertMessage(ctx, newMessage(id, "a1", "k"+id))
		require.NoError(t, err)
	}

	list, err := s.ListMessages(ctx, "a1", store.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "01C", list[0].ID)
	assert.Equal(t, []byte(`{"v":1}`), list[0].Payload)

	require.NoError(t, s.MarkRead(ctx, "a1", "01C", true))
	unread, err := s.ListMessages(ctx, "a1", store.MessageFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	got, err := s.GetMessage(ctx, "a1", "01C")
	require.NoError(t, err)
	assert.True(t, got.Read)

	oldest, err := s.OldestMessages(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "01A", oldest[0].ID)
	assert.Equal(t, "a1/01A.eml.sealed", oldest[0].RawKey)

	page, err := s.ListMessages(ctx, "a1", store.MessageFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "01B", page[0].ID)

	require.NoError(t, s.DeleteMessage(ctx, "a1", "01A"))
	assert.ErrorIs(t, s.DeleteMessage(ctx, "a1", "01A"), store.ErrNotFound)
	assert.ErrorIs(t, s.MarkRead(ctx, "a1", "01A", true), store.ErrNotFound)

	_, err = s.GetMessage(ctx, "other", "01B")
	assert.ErrorIs(t, err, store.ErrNotFound)

	addr, err := s.GetAddress(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, addr.MessageCount)
}

func TestDeleteAddress_CascadesMessages(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a1", "alice")))
	_, err := s.InsertMessage(ctx, newMessage("m1", "a1", "k"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteAddress(ctx, "a1"))

	n, err := s.CountMessages(ctx, "a1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	require.NoError(t, s.CreateAddress(ctx, testutil.NewTestAddress("a1", "alice")))

	require.NoError(t, s.CreateNotification(ctx, model.Notification{
		ID: "n1", AddressID: "a1", MessageID: "m1",
		Kind: model.NotificationMessage, Message: "New mail",
	}))
	require.NoError(t, s.CreateNotification(ctx, model.Notification{
		AddressID: "a1", Kind: model.NotificationExpiry, Message: "Expiring",
	}))

	unread, err := s.GetUnreadNotifications(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	require.NoError(t, s.MarkNotificationRead(ctx, "n1"))
	unread, err = s.GetUnreadNotifications(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, model.NotificationExpiry, unread[0].Kind)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "nope"), store.ErrNotFound)
}

func TestSourceState(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	st, err := s.GetSourceState(ctx, "imap", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.LastUID)
	assert.Equal(t, "INBOX", st.Mailbox)

	require.NoError(t, s.PutSourceState(ctx, model.SourceState{
		Source: "imap", Mailbox: "INBOX", UIDValidity: 7, LastUID: 100,
	}))
	require.NoError(t, s.PutSourceState(ctx, model.SourceState{
		Source: "imap", Mailbox: "INBOX", UIDValidity: 7, LastUID: 120,
	}))

	st, err = s.GetSourceState(ctx, "imap", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), st.UIDValidity)
	assert.Equal(t, uint32(120), st.LastUID)
	assert.False(t, st.UpdatedAt.IsZero())
}
