package inbox

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/auth"
	"github.com/nhle/tempmail/internal/blob"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/ingest"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/realtime"
	"github.com/nhle/tempmail/internal/source"
	"github.com/nhle/tempmail/internal/store"
	"github.com/nhle/tempmail/tests/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, e realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []realtime.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc      *Service
	pipeline *ingest.Pipeline
	store    *store.SQLiteStore
	blobs    *blob.FSStore
	signer   *codec.Signer
	tokens   *auth.Issuer
	events   *recorder
}

func newFixture(t *testing.T, masterKey []byte) *fixture {
	t.Helper()
	signer, err := codec.NewSigner()
	require.NoError(t, err)
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewIssuer([]byte("test-secret"))
	require.NoError(t, err)

	domains := address.NewGenerator([]string{"temp.test"}, address.StyleRandom)
	policy := func(model.Tier) model.TierPolicy {
		return model.TierPolicy{TTL: time.Hour, MaxTTL: 3 * time.Hour, InboxCapacity: 10, MaxMessageBytes: 1 << 20}
	}

	f := &fixture{
		store:  testutil.NewTestStore(t),
		blobs:  blobs,
		signer: signer,
		tokens: tokens,
		events: &recorder{},
	}
	f.svc = New(Config{
		Store:     f.store,
		Blobs:     blobs,
		Signer:    signer,
		MasterKey: masterKey,
		Domains:   domains,
		Policy:    policy,
		Tokens:    tokens,
		Publisher: f.events,
		Logger:    zaptest.NewLogger(t),
	})
	f.pipeline = ingest.New(ingest.Config{
		Store:   f.store,
		Blobs:   blobs,
		Signer:  signer,
		Domains: domains,
		Policy:  policy,
	})
	return f
}

func masterKey(t *testing.T) []byte {
	t.Helper()
	k, err := codec.NewMasterKey()
	require.NoError(t, err)
	return k
}

func (f *fixture) deliver(t *testing.T, to string) string {
	t.Helper()
	raw := "From: Sender <s@example.org>\r\nTo: " + to + "\r\nSubject: Code 1234\r\n" +
		"Message-ID: <code-1234@example.org>\r\n\r\nyour code is 1234 https://example.org/v\r\n"
	res, err := f.pipeline.Ingest(context.Background(), source.RawMessage{
		Source:     source.SourceTypeAPI,
		Data:       []byte(raw),
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Len(t, res.MessageIDs, 1)
	return res.MessageIDs[0]
}

func TestCreate_Managed(t *testing.T) {
	f := newFixture(t, masterKey(t))
	ctx := context.Background()

	created, err := f.svc.Create(ctx, CreateRequest{})
	require.NoError(t, err)
	a := created.Address

	assert.Equal(t, model.TierFree, a.Tier)
	assert.Equal(t, model.ModeManaged, a.Mode)
	assert.Equal(t, "temp.test", a.Domain)
	assert.Nil(t, created.SecretKey)
	assert.WithinDuration(t, time.Now().Add(time.Hour), a.ExpiresAt, time.Minute)

	claims, err := f.tokens.Parse(created.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, claims.AddressID)

	wrapped, err := f.store.GetAddressKey(ctx, a.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, wrapped)

	msgID := f.deliver(t, a.Email())

	view, err := f.svc.GetMessage(ctx, a.ID, msgID)
	require.NoError(t, err)
	require.NotNil(t, view.Content)
	assert.Nil(t, view.Envelope)
	assert.Equal(t, "Code 1234", view.Content.Subject)
	assert.Contains(t, view.Content.Text, "your code is 1234")
	assert.Equal(t, []string{"https://example.org/v"}, view.Content.Links)

	raw, sealed, err := f.svc.RawMessage(ctx, a.ID, msgID)
	require.NoError(t, err)
	assert.False(t, sealed)
	assert.Contains(t, string(raw), "Subject: Code 1234")
}

func TestCreate_SealedGeneratedKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, CreateRequest{Mode: model.ModeSealed})
	require.NoError(t, err)
	require.NotEmpty(t, created.SecretKey)

	_, err = f.store.GetAddressKey(ctx, created.Address.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "sealed secret keys are never stored")

	a := created.Address
	msgID := f.deliver(t, a.Email())

	view, err := f.svc.GetMessage(ctx, a.ID, msgID)
	require.NoError(t, err)
	assert.Nil(t, view.Content)
	require.NotNil(t, view.Envelope)

	kp, err := codec.KeypairFromSecretKey(created.SecretKey)
	require.NoError(t, err)
	plain, err := codec.OpenFor(view.Envelope, kp, f.signer.PublicKey(), codec.AAD(a.ID, msgID))
	require.NoError(t, err)
	var content model.Content
	require.NoError(t, json.Unmarshal(plain, &content))
	assert.Equal(t, "Code 1234", content.Subject)

	raw, sealed, err := f.svc.RawMessage(ctx, a.ID, msgID)
	require.NoError(t, err)
	assert.True(t, sealed)
	env, err := codec.ParseEnvelope(raw)
	require.NoError(t, err)
	eml, err := codec.OpenFor(env, kp, f.signer.PublicKey(), codec.RawAAD(a.ID, msgID))
	require.NoError(t, err)
	assert.Contains(t, string(eml), "your code is 1234")
}

func TestCreate_SealedClientKey(t *testing.T) {
	f := newFixture(t, nil)
	kp, err := codec.GenerateKeypair()
	require.NoError(t, err)

	created, err := f.svc.Create(context.Background(), CreateRequest{Mode: model.ModeSealed, PublicKey: kp.PublicKey})
	require.NoError(t, err)
	assert.Nil(t, created.SecretKey)
	assert.Equal(t, kp.PublicKey, created.Address.PublicKey)
}

func TestCreate_Errors(t *testing.T) {
	f := newFixture(t, masterKey(t))
	noMaster := newFixture(t, nil)
	kp, err := codec.GenerateKeypair()
	require.NoError(t, err)

	tests := []struct {
		name string
		svc  *Service
		req  CreateRequest
		want error
	}{
		{name: "tier", svc: f.svc, req: CreateRequest{Tier: "gold"}, want: ErrInvalidTier},
		{name: "mode", svc: f.svc, req: CreateRequest{Mode: "open"}, want: ErrInvalidMode},
		{name: "negative ttl", svc: f.svc, req: CreateRequest{TTL: -time.Second}, want: ErrInvalidTTL},
		{name: "managed with key", svc: f.svc, req: CreateRequest{PublicKey: kp.PublicKey}, want: ErrPublicKeyNotAllowed},
		{name: "managed without master", svc: noMaster.svc, req: CreateRequest{}, want: ErrManagedUnavailable},
		{name: "bad public key", svc: f.svc, req: CreateRequest{Mode: model.ModeSealed, PublicKey: []byte("x")}, want: codec.ErrInvalidPublicKeySize},
		{name: "domain", svc: f.svc, req: CreateRequest{Domain: "evil.test"}, want: address.ErrDomainNotAccepted},
		{name: "custom on free", svc: f.svc, req: CreateRequest{LocalPart: "alice"}, want: address.ErrCustomNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_CustomTaken(t *testing.T) {
	f := newFixture(t, masterKey(t))
	req := CreateRequest{LocalPart: "alice", Tier: model.TierPremium}

	created, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "alice@temp.test", created.Address.Email())

	_, err = f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, address.ErrExhausted)
}

func TestExtend(t *testing.T) {
	f := newFixture(t, masterKey(t))
	ctx := context.Background()
	created, err := f.svc.Create(ctx, CreateRequest{})
	require.NoError(t, err)

	a, token, err := f.svc.Extend(ctx, created.Address.ID, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, created.Address.ExpiresAt.Add(time.Hour), a.ExpiresAt, time.Second)

	claims, err := f.tokens.Parse(token)
	require.NoError(t, err)
	assert.WithinDuration(t, a.ExpiresAt, claims.ExpiresAt.Time, time.Second)

	a, _, err = f.svc.Extend(ctx, created.Address.ID, 24*time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, created.Address.CreatedAt.Add(3*time.Hour), a.ExpiresAt, time.Second)

	_, _, err = f.svc.Extend(ctx, created.Address.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, _, err = f.svc.Extend(ctx, "missing", time.Hour)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMessageLifecycle(t *testing.T) {
	f := newFixture(t, masterKey(t))
	ctx := context.Background()
	created, err := f.svc.Create(ctx, CreateRequest{})
	require.NoError(t, err)
	a := created.Address

	msgID := f.deliver(t, a.Email())

	list, err := f.svc.ListMessages(ctx, a.ID, store.MessageFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.svc.MarkRead(ctx, a.ID, msgID, true))
	list, err = f.svc.ListMessages(ctx, a.ID, store.MessageFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)

	ns, err := f.svc.Notifications(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
	ns, err = f.svc.Notifications(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, ns)

	require.NoError(t, f.svc.DeleteMessage(ctx, a.ID, msgID))
	_, err = f.svc.GetMessage(ctx, a.ID, msgID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.blobs.Get(ctx, blob.Key(a.ID, msgID))
	assert.ErrorIs(t, err, blob.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, a.ID, msgID), store.ErrNotFound)
	assert.Contains(t, f.events.types(), realtime.EventMessageDeleted)

	_, err = f.svc.ListMessages(ctx, "missing", store.MessageFilter{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, masterKey(t))
	ctx := context.Background()
	created, err := f.svc.Create(ctx, CreateRequest{})
	require.NoError(t, err)
	a := created.Address
	msgID := f.deliver(t, a.Email())

	require.NoError(t, f.svc.Delete(ctx, a.ID))

	_, err = f.svc.Get(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.blobs.Get(ctx, blob.Key(a.ID, msgID))
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.Contains(t, f.events.types(), realtime.EventAddressExpired)

	assert.ErrorIs(t, f.svc.Delete(ctx, a.ID), store.ErrNotFound)
}

func TestServerKeyAndDomains(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, f.signer.PublicKey(), f.svc.ServerKey())
	assert.Equal(t, []string{"temp.test"}, f.svc.Domains())
}
