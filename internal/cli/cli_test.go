package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/model"
)

type memSecrets map[string]string

func (m memSecrets) Get(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("getting credential %q: %w", key, credential.ErrNotFound)
	}
	return v, nil
}

func (m memSecrets) Set(key, value string) error {
	m[key] = value
	return nil
}

func (m memSecrets) Delete(key string) error {
	if _, ok := m[key]; !ok {
		return fmt.Errorf("deleting credential %q: %w", key, credential.ErrNotFound)
	}
	delete(m, key)
	return nil
}

const (
	testEmail = "abc123@tempmail.local"
	testID    = "addr-1"
	testToken = "tok-1"
)

func writeConfig(t *testing.T, mutate func(*model.AppConfig)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := model.DefaultAppConfig()
	cfg.Storage.DBPath = filepath.Join(dir, "data", "tempmail.db")
	cfg.Storage.BlobDir = filepath.Join(dir, "data", "blobs")
	cfg.Crypto.SigningKeyFile = filepath.Join(dir, "data", "signing.key")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, model.SaveConfig(path, cfg))
	return path
}

func withSession(cfg *model.AppConfig) {
	cfg.Client.Address = testEmail
	cfg.Client.AddressID = testID
}

func run(t *testing.T, configPath string, secrets SecretStore, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{ConfigPath: configPath, OutputWriter: buf, Secrets: secrets})
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	return buf.String(), err
}

func testView() api.AddressView {
	return api.AddressView{
		ID:        testID,
		Email:     testEmail,
		Tier:      model.TierFree,
		Mode:      model.ModeManaged,
		CreatedAt: time.Now().Add(-time.Minute),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func writeBody(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

// authorized fails the request unless it carries the test token.
func authorized(t *testing.T, w http.ResponseWriter, r *http.Request) bool {
	t.Helper()
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		writeBody(t, w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "code": "unauthorized"})
		return false
	}
	return true
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(Config{})

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "address", "inbox", "watch", "sweep", "selftest", "keys"} {
		assert.Contains(t, names, want)
	}
}

func TestAddressNew_Managed(t *testing.T) {
	var got api.CreateAddressRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/addresses", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeBody(t, w, http.StatusCreated, api.AddressResponse{Address: testView(), Token: testToken})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := writeConfig(t, nil)
	secrets := memSecrets{}

	out, err := run(t, path, secrets, "address", "new", "--server", srv.URL, "--tier", "premium", "--ttl", "2h")
	require.NoError(t, err)

	assert.Equal(t, model.TierPremium, got.Tier)
	assert.Equal(t, model.ModeManaged, got.Mode)
	assert.Equal(t, int64(7200), got.TTLSeconds)
	assert.Empty(t, got.PublicKey)

	assert.Contains(t, out, testEmail)
	assert.Equal(t, testToken, secrets[credential.AddressTokenKey(testEmail)])
	assert.NotContains(t, secrets, credential.AddressSecretKey(testEmail))

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, testEmail, cfg.Client.Address)
	assert.Equal(t, testID, cfg.Client.AddressID)
}

func TestAddressNew_SealedKeepsSecretLocal(t *testing.T) {
	var got api.CreateAddressRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/addresses", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		view := testView()
		view.Mode = model.ModeSealed
		writeBody(t, w, http.StatusCreated, api.AddressResponse{Address: view, Token: testToken})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := writeConfig(t, nil)
	secrets := memSecrets{}

	_, err := run(t, path, secrets, "address", "new", "--server", srv.URL, "--mode", "sealed")
	require.NoError(t, err)
	require.NotEmpty(t, got.PublicKey)

	enc := secrets[credential.AddressSecretKey(testEmail)]
	require.NotEmpty(t, enc)
	sk, err := codec.FromBase64URL(enc)
	require.NoError(t, err)
	kp, err := codec.KeypairFromSecretKey(sk)
	require.NoError(t, err)
	assert.Equal(t, got.PublicKey, kp.PublicKeyB64())
}

func TestInboxList_NoAddress(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := run(t, path, memSecrets{}, "inbox", "list")
	assert.ErrorIs(t, err, errNoAddress)
}

func TestInboxList(t *testing.T) {
	var query string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/addresses/{id}", func(w http.ResponseWriter, r *http.Request) {
		if authorized(t, w, r) {
			writeBody(t, w, http.StatusOK, map[string]any{"address": testView()})
		}
	})
	mux.HandleFunc("GET /api/addresses/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(t, w, r) {
			return
		}
		query = r.URL.RawQuery
		writeBody(t, w, http.StatusOK, map[string]any{"messages": []model.Message{{
			ID:         "01HZMSG",
			AddressID:  testID,
			Sender:     "alice@example.com",
			Subject:    "Your code is 424242",
			ReceivedAt: time.Now().Add(-5 * time.Minute),
		}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := writeConfig(t, withSession)
	secrets := memSecrets{credential.AddressTokenKey(testEmail): testToken}

	out, err := run(t, path, secrets, "inbox", "list", "--server", srv.URL, "--unread", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, query, "unread=true")
	assert.Contains(t, query, "limit=10")
	assert.Contains(t, out, "01HZMSG")
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "Your code is 424242")
	assert.Contains(t, out, "5m")
}

func TestInboxRead_MarksRead(t *testing.T) {
	patched := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/addresses/{id}", func(w http.ResponseWriter, r *http.Request) {
		if authorized(t, w, r) {
			writeBody(t, w, http.StatusOK, map[string]any{"address": testView()})
		}
	})
	mux.HandleFunc("GET /api/addresses/{id}/messages/{mid}", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(t, w, r) {
			return
		}
		writeBody(t, w, http.StatusOK, inbox.MessageView{
			Message: model.Message{ID: r.PathValue("mid"), AddressID: testID, Subject: "Welcome"},
			Content: &model.Content{
				From:    "team@example.com",
				To:      []string{testEmail},
				Subject: "Welcome",
				Text:    "Click to confirm.\n",
				Links:   []string{"https://example.com/confirm"},
				Codes:   []string{"424242"},
			},
		})
	})
	mux.HandleFunc("PATCH /api/addresses/{id}/messages/{mid}", func(w http.ResponseWriter, r *http.Request) {
		if authorized(t, w, r) {
			patched++
			w.WriteHeader(http.StatusNoContent)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := writeConfig(t, withSession)
	secrets := memSecrets{credential.AddressTokenKey(testEmail): testToken}

	out, err := run(t, path, secrets, "inbox", "read", "01HZMSG", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, patched)
	assert.Contains(t, out, "Subject: Welcome")
	assert.Contains(t, out, "Code:    424242")
	assert.Contains(t, out, "Click to confirm.")
	assert.Contains(t, out, "https://example.com/confirm")

	_, err = run(t, path, secrets, "inbox", "read", "01HZMSG", "--server", srv.URL, "--keep-unread")
	require.NoError(t, err)
	assert.Equal(t, 1, patched)
}

func TestAddressDelete_ClearsSession(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			deleted := 0
			mux := http.NewServeMux()
			mux.HandleFunc("DELETE /api/addresses/{id}", func(w http.ResponseWriter, r *http.Request) {
				if !authorized(t, w, r) {
					return
				}
				deleted++
				if status == http.StatusNotFound {
					writeBody(t, w, status, map[string]string{"error": "address not found", "code": "not_found"})
					return
				}
				w.WriteHeader(status)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			path := writeConfig(t, withSession)
			secrets := memSecrets{credential.AddressTokenKey(testEmail): testToken}

			out, err := run(t, path, secrets, "address", "delete", "--server", srv.URL)
			require.NoError(t, err)
			assert.Equal(t, 1, deleted)
			assert.Contains(t, out, "deleted "+testEmail)
			assert.Empty(t, secrets)

			cfg, err := model.LoadConfig(path)
			require.NoError(t, err)
			assert.Empty(t, cfg.Client.Address)
			assert.Empty(t, cfg.Client.AddressID)
		})
	}
}

func TestKeysInit(t *testing.T) {
	path := writeConfig(t, nil)
	secrets := memSecrets{}

	out, err := run(t, path, secrets, "keys", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "created signing key")
	assert.Contains(t, out, "server public key:")

	mk, err := codec.FromBase64URL(secrets[defaultMasterKeyRef])
	require.NoError(t, err)
	assert.Len(t, mk, codec.MasterKeySize)
	jwtSecret := secrets[defaultJWTSecretRef]
	assert.NotEmpty(t, jwtSecret)

	cfg, err := model.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultMasterKeyRef, cfg.Crypto.MasterKeyRef)
	assert.Equal(t, defaultJWTSecretRef, cfg.Auth.JWTSecretRef)
	_, err = os.Stat(cfg.Crypto.SigningKeyFile)
	require.NoError(t, err)

	out, err = run(t, path, secrets, "keys", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "using signing key")
	assert.Contains(t, out, "kept existing master key")
	assert.Equal(t, jwtSecret, secrets[defaultJWTSecretRef])

	_, err = run(t, path, secrets, "keys", "init", "--rotate")
	require.NoError(t, err)
	assert.NotEqual(t, jwtSecret, secrets[defaultJWTSecretRef])
}

func TestServe_RequiresJWTSecret(t *testing.T) {
	path := writeConfig(t, nil)

	_, err := run(t, path, memSecrets{}, "serve")
	assert.ErrorIs(t, err, errJWTSecretMissing)
}

func TestSweep_EmptyStore(t *testing.T) {
	path := writeConfig(t, nil)

	out, err := run(t, path, memSecrets{}, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired addresses")
}

func TestMasterKey(t *testing.T) {
	good, err := codec.NewMasterKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		crypto  model.CryptoConfig
		secrets memSecrets
		wantLen int
		wantErr bool
	}{
		{name: "unset", wantLen: 0},
		{name: "literal", crypto: model.CryptoConfig{MasterKey: codec.ToBase64URL(good)}, wantLen: codec.MasterKeySize},
		{name: "keyring", crypto: model.CryptoConfig{MasterKeyRef: "mk"}, secrets: memSecrets{"mk": codec.ToBase64URL(good)}, wantLen: codec.MasterKeySize},
		{name: "wrong size", crypto: model.CryptoConfig{MasterKey: codec.ToBase64URL([]byte("short"))}, wantErr: true},
		{name: "missing ref", crypto: model.CryptoConfig{MasterKeyRef: "nope"}, secrets: memSecrets{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultAppConfig()
			cfg.Crypto = tt.crypto
			rt := &runtimeState{cfg: cfg, secrets: tt.secrets}
			key, err := rt.masterKey()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, tt.wantLen)
		})
	}
}

func TestRemainingAndAge(t *testing.T) {
	assert.Equal(t, "expired", remaining(-time.Second))
	assert.Equal(t, "42s left", remaining(42*time.Second))
	assert.Equal(t, "5m03s left", remaining(5*time.Minute+3*time.Second))
	assert.Equal(t, "2h05m left", remaining(2*time.Hour+5*time.Minute))

	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "now", age(now.Add(-10*time.Second), now))
	assert.Equal(t, "7m", age(now.Add(-7*time.Minute), now))
	assert.Equal(t, "3h", age(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d", age(now.Add(-50*time.Hour), now))
}
