package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/auth"
	"github.com/nhle/tempmail/internal/blob"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/ingest"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/ratelimit"
	"github.com/nhle/tempmail/internal/realtime"
	isync "github.com/nhle/tempmail/internal/sync"
	"github.com/nhle/tempmail/tests/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSources struct {
	triggered []string
}

func (f *fakeSources) Statuses() []isync.SyncStatus {
	return []isync.SyncStatus{{Source: "imap:catch@mail.test", State: isync.SyncIdle, Ingested: 3}}
}

func (f *fakeSources) Trigger(name string) bool {
	if name != "imap:catch@mail.test" {
		return false
	}
	f.triggered = append(f.triggered, name)
	return true
}

type testServer struct {
	srv     *Server
	handler http.Handler
	hub     *realtime.Hub
	signer  *codec.Signer
	sources *fakeSources
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	st := testutil.NewTestStore(t)
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	signer, err := codec.NewSigner()
	require.NoError(t, err)
	master, err := codec.NewMasterKey()
	require.NoError(t, err)
	tokens, err := auth.NewIssuer([]byte("api-test"))
	require.NoError(t, err)

	hub := realtime.NewHub(8)
	bridge := realtime.NewBridge(hub, "test", zaptest.NewLogger(t))
	domains := address.NewGenerator([]string{"temp.test"}, address.StyleRandom)
	policy := func(model.Tier) model.TierPolicy {
		return model.TierPolicy{TTL: time.Hour, MaxTTL: 2 * time.Hour, InboxCapacity: 5, MaxMessageBytes: 1 << 20}
	}

	svc := inbox.New(inbox.Config{
		Store: st, Blobs: blobs, Signer: signer, MasterKey: master,
		Domains: domains, Policy: policy, Tokens: tokens, Publisher: bridge,
	})
	pipeline := ingest.New(ingest.Config{
		Store: st, Blobs: blobs, Signer: signer, Publisher: bridge,
		Domains: domains, Policy: policy,
	})

	sources := &fakeSources{}
	srv := NewServer(Config{
		Inbox:      svc,
		Tokens:     tokens,
		Hub:        hub,
		Sources:    sources,
		Injector:   pipeline,
		Limiter:    limiter,
		AdminToken: "admin-secret",
		Heartbeat:  50 * time.Millisecond,
		Debug:      true,
		Logger:     zaptest.NewLogger(t),
	})
	return &testServer{srv: srv, handler: srv.Handler(), hub: hub, signer: signer, sources: sources}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) create(t *testing.T, req CreateAddressRequest) AddressResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/addresses", "", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[AddressResponse](t, w)
}

func (ts *testServer) inject(t *testing.T, to, subject string) string {
	t.Helper()
	raw := "From: s@example.org\r\nTo: " + to + "\r\nSubject: " + subject + "\r\n\r\nhello\r\n"
	w := ts.do(t, http.MethodPost, "/api/admin/messages", "admin-secret", raw)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[struct {
		MessageIDs []string `json:"message_ids"`
	}](t, w)
	require.Len(t, res.MessageIDs, 1)
	return res.MessageIDs[0]
}

func TestHealthAndMetadata(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metrics", "", nil).Code)

	w := ts.do(t, http.MethodGet, "/api/domains", "", nil)
	assert.JSONEq(t, `{"domains":["temp.test"]}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/server-key", "", nil)
	key := decode[map[string]string](t, w)
	assert.Equal(t, "ML-DSA-65", key["algorithm"])
	assert.Equal(t, codec.ToBase64URL(ts.signer.PublicKey()), key["public_key"])
}

func TestCreateAddress(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.create(t, CreateAddressRequest{TTLSeconds: 600})
	assert.NotEmpty(t, resp.Token)
	assert.Empty(t, resp.SecretKey)
	assert.True(t, strings.HasSuffix(resp.Address.Email, "@temp.test"))
	assert.Equal(t, model.ModeManaged, resp.Address.Mode)
	assert.InDelta(t, 600, resp.Address.TTLSeconds, 5)

	// Empty body uses defaults.
	w := ts.do(t, http.MethodPost, "/api/addresses", "", nil)
	assert.Equal(t, http.StatusCreated, w.Code)

	sealed := ts.create(t, CreateAddressRequest{Mode: model.ModeSealed})
	assert.NotEmpty(t, sealed.SecretKey)
}

func TestCreateAddress_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
		code int
		want string
	}{
		{name: "bad json", body: "{", code: http.StatusBadRequest, want: "bad_request"},
		{name: "domain", body: CreateAddressRequest{Domain: "evil.test"}, code: http.StatusBadRequest, want: "domain_not_accepted"},
		{name: "custom on free", body: CreateAddressRequest{LocalPart: "alice"}, code: http.StatusForbidden, want: "custom_not_allowed"},
		{name: "reserved", body: CreateAddressRequest{LocalPart: "postmaster", Tier: model.TierPremium}, code: http.StatusBadRequest, want: "reserved_local_part"},
		{name: "tier", body: CreateAddressRequest{Tier: "gold"}, code: http.StatusBadRequest, want: "invalid_tier"},
		{name: "bad key", body: CreateAddressRequest{Mode: model.ModeSealed, PublicKey: "AAAA"}, code: http.StatusBadRequest, want: "invalid_public_key"},
		{name: "key not base64", body: CreateAddressRequest{Mode: model.ModeSealed, PublicKey: "!!"}, code: http.StatusBadRequest, want: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/addresses", "", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Equal(t, tt.want, decode[errorResponse](t, w).Code)
		})
	}

	ts.create(t, CreateAddressRequest{LocalPart: "bob", Tier: model.TierPremium})
	w := ts.do(t, http.MethodPost, "/api/addresses", "", CreateAddressRequest{LocalPart: "bob", Tier: model.TierPremium})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateAddress_RateLimited(t *testing.T) {
	limiter := ratelimit.NewMemory(ratelimit.Config{PerMinute: 1, Burst: 1})
	t.Cleanup(limiter.Stop)
	ts := newTestServer(t, limiter)

	assert.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/addresses", "", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/api/addresses", "", nil).Code)
}

func TestAddressRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, CreateAddressRequest{})
	other := ts.create(t, CreateAddressRequest{})
	base := "/api/addresses/" + a.Address.ID

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, base, "", nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, base, other.Token, nil).Code)

	w := ts.do(t, http.MethodGet, base, a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Address AddressView `json:"address"`
	}](t, w)
	assert.Equal(t, a.Address.Email, got.Address.Email)

	w = ts.do(t, http.MethodPost, base+"/extend", a.Token, ExtendRequest{Seconds: 1800})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ext := decode[AddressResponse](t, w)
	assert.True(t, ext.Address.ExpiresAt.After(a.Address.ExpiresAt))
	assert.NotEmpty(t, ext.Token)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, base+"/extend", a.Token, map[string]int{"seconds": 0}).Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, base, a.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, base, a.Token, nil).Code)
}

func TestMessageRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, CreateAddressRequest{})
	base := "/api/addresses/" + a.Address.ID
	msgID := ts.inject(t, a.Address.Email, "Welcome")

	w := ts.do(t, http.MethodGet, base+"/messages?unread=true", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Messages []model.Message `json:"messages"`
	}](t, w)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "Welcome", list.Messages[0].Subject)

	w = ts.do(t, http.MethodGet, base+"/messages/"+msgID, a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[inbox.MessageView](t, w)
	require.NotNil(t, view.Content)
	assert.Contains(t, view.Content.Text, "hello")

	w = ts.do(t, http.MethodGet, base+"/messages/"+msgID+"/raw", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "message/rfc822", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Subject: Welcome")

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPatch, base+"/messages/"+msgID, a.Token, map[string]bool{"read": true}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPatch, base+"/messages/"+msgID, a.Token, map[string]string{}).Code)

	w = ts.do(t, http.MethodGet, base+"/messages?unread=true", a.Token, nil)
	assert.JSONEq(t, `{"messages":[],"limit":50,"offset":0}`, w.Body.String())

	w = ts.do(t, http.MethodGet, base+"/notifications", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Welcome")

	for _, q := range []string{"limit=0", "limit=x", "offset=-1", "unread=maybe"} {
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, base+"/messages?"+q, a.Token, nil).Code, q)
	}

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, base+"/messages/"+msgID, a.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, base+"/messages/"+msgID, a.Token, nil).Code)
}

func TestSealedMessageRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, CreateAddressRequest{Mode: model.ModeSealed})
	base := "/api/addresses/" + a.Address.ID
	msgID := ts.inject(t, a.Address.Email, "Secret")

	w := ts.do(t, http.MethodGet, base+"/messages/"+msgID, a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[inbox.MessageView](t, w)
	assert.Nil(t, view.Content)
	require.NotNil(t, view.Envelope)

	sk, err := codec.FromBase64URL(a.SecretKey)
	require.NoError(t, err)
	kp, err := codec.KeypairFromSecretKey(sk)
	require.NoError(t, err)
	plain, err := codec.OpenFor(view.Envelope, kp, ts.signer.PublicKey(), codec.AAD(a.Address.ID, msgID))
	require.NoError(t, err)
	assert.Contains(t, string(plain), "Secret")

	w = ts.do(t, http.MethodGet, base+"/messages/"+msgID+"/raw", a.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/admin/sources", "", nil).Code)

	w := ts.do(t, http.MethodGet, "/api/admin/sources", "admin-secret", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/admin/sources/imap:catch@mail.test/sync", "admin-secret", nil).Code)
	assert.Equal(t, []string{"imap:catch@mail.test"}, ts.sources.triggered)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/admin/sources/nope/sync", "admin-secret", nil).Code)

	// Unknown recipient is accepted but stores nothing.
	w = ts.do(t, http.MethodPost, "/api/admin/messages?rcpt=ghost@temp.test", "admin-secret", "Subject: x\r\n\r\nbody")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"matched":0`)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/admin/messages", "admin-secret", "").Code)
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, CreateAddressRequest{})

	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/addresses/"+a.Address.ID+"/events?token="+a.Token, nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	// Subscription is registered before the first write.
	require.Eventually(t, func() bool { return ts.hub.Subscribers(a.Address.ID) == 1 }, time.Second, 5*time.Millisecond)
	ts.inject(t, a.Address.Email, "Live")

	var sawHeartbeat, sawEvent bool
	for !sawEvent {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, ": heartbeat"):
			sawHeartbeat = true
		case strings.HasPrefix(line, "event:"):
			assert.Equal(t, "event:message.received\n", line)
		case strings.HasPrefix(line, "data:"):
			var e realtime.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &e))
			assert.Equal(t, "Live", e.Subject)
			sawEvent = true
		}
	}

	for !sawHeartbeat {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		sawHeartbeat = strings.HasPrefix(line, ": heartbeat")
	}
}

func TestShutdown_EndsEventStreams(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.srv.heartbeat = time.Hour
	a := ts.create(t, CreateAddressRequest{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- ts.srv.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/api/addresses/" + a.Address.ID + "/events?token=" + a.Token)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, ts.srv.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, <-served)

	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Zero(t, ts.hub.Subscribers(a.Address.ID))
}
