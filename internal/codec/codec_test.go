package codec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner()
	require.NoError(t, err)
	return s
}

func newTestKeypair(t *testing.T) *Keypair {
	t.Helper()
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func TestSealOpen_RoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	kp := newTestKeypair(t)
	aad := AAD("addr-1", "msg-1")

	env, err := signer.Seal([]byte("hello inbox"), kp.PublicKey, aad)
	require.NoError(t, err)

	assert.Equal(t, Version, env.V)
	assert.Equal(t, Suite, env.Algs)
	assert.Equal(t, signer.PublicKeyB64(), env.ServerSigPk)

	got, err := Open(env, kp, signer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "hello inbox", string(got))

	got, err = OpenFor(env, kp, nil, aad)
	require.NoError(t, err)
	assert.Equal(t, "hello inbox", string(got))
}

func TestSeal_FreshRandomness(t *testing.T) {
	signer := newTestSigner(t)
	kp := newTestKeypair(t)

	a, err := signer.Seal([]byte("same"), kp.PublicKey, nil)
	require.NoError(t, err)
	b, err := signer.Seal([]byte("same"), kp.PublicKey, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.CtKem, b.CtKem)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestOpen_WrongKeypair(t *testing.T) {
	signer := newTestSigner(t)
	env, err := signer.Seal([]byte("secret"), newTestKeypair(t).PublicKey, nil)
	require.NoError(t, err)

	_, err = Open(env, newTestKeypair(t), nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_TamperedFieldsFailSignature(t *testing.T) {
	signer := newTestSigner(t)
	kp := newTestKeypair(t)

	flip := func(s string) string {
		b, err := FromBase64URL(s)
		require.NoError(t, err)
		b[len(b)-1] ^= 0x01
		return ToBase64URL(b)
	}

	tests := []struct {
		name   string
		mutate func(e *Envelope)
	}{
		{"ciphertext", func(e *Envelope) { e.Ciphertext = flip(e.Ciphertext) }},
		{"nonce", func(e *Envelope) { e.Nonce = flip(e.Nonce) }},
		{"aad", func(e *Envelope) { e.AAD = flip(e.AAD) }},
		{"ct_kem", func(e *Envelope) { e.CtKem = flip(e.CtKem) }},
		{"sig", func(e *Envelope) { e.Sig = flip(e.Sig) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := signer.Seal([]byte("payload"), kp.PublicKey, []byte("aad"))
			require.NoError(t, err)
			tt.mutate(env)

			_, err = Open(env, kp, nil)
			assert.ErrorIs(t, err, ErrSignatureVerificationFailed)
		})
	}
}

func TestOpen_ResignedByOtherServer(t *testing.T) {
	kp := newTestKeypair(t)
	honest := newTestSigner(t)
	other := newTestSigner(t)

	env, err := other.Seal([]byte("x"), kp.PublicKey, nil)
	require.NoError(t, err)

	// Valid on its own, rejected once the honest key is pinned.
	require.NoError(t, Verify(env, nil))
	_, err = Open(env, kp, honest.PublicKey())
	assert.ErrorIs(t, err, ErrServerKeyMismatch)
}

func TestOpen_InvalidEnvelopes(t *testing.T) {
	signer := newTestSigner(t)
	kp := newTestKeypair(t)

	env, err := signer.Seal([]byte("x"), kp.PublicKey, nil)
	require.NoError(t, err)

	bad := *env
	bad.V = 2
	_, err = Open(&bad, kp, nil)
	assert.ErrorIs(t, err, ErrInvalidAlgorithm)

	bad = *env
	bad.Algs.KEM = "X25519"
	_, err = Open(&bad, kp, nil)
	assert.ErrorIs(t, err, ErrInvalidAlgorithm)

	bad = *env
	bad.CtKem = ToBase64URL([]byte("short"))
	_, err = Open(&bad, kp, nil)
	assert.ErrorIs(t, err, ErrInvalidCiphertextSize)

	bad = *env
	bad.Nonce = "!!!"
	_, err = Open(&bad, kp, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = Open(nil, kp, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestOpenFor_AADMismatch(t *testing.T) {
	signer := newTestSigner(t)
	kp := newTestKeypair(t)

	env, err := signer.Seal([]byte("x"), kp.PublicKey, AAD("a", "m1"))
	require.NoError(t, err)

	_, err = OpenFor(env, kp, nil, AAD("a", "m2"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEnvelope_JSON(t *testing.T) {
	signer := newTestSigner(t)
	kp := newTestKeypair(t)

	env, err := signer.Seal([]byte("json"), kp.PublicKey, nil)
	require.NoError(t, err)

	data, err := env.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"server_sig_pk"`)

	parsed, err := ParseEnvelope(data)
	require.NoError(t, err)
	got, err := Open(parsed, kp, nil)
	require.NoError(t, err)
	assert.Equal(t, "json", string(got))

	_, err = ParseEnvelope([]byte("{"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestKeypairFromSecretKey(t *testing.T) {
	kp := newTestKeypair(t)

	rebuilt, err := KeypairFromSecretKey(kp.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, rebuilt.PublicKey)

	_, err = KeypairFromSecretKey([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidSecretKeySize)
}

func TestValidatePublicKey(t *testing.T) {
	assert.NoError(t, ValidatePublicKey(newTestKeypair(t).PublicKey))
	assert.ErrorIs(t, ValidatePublicKey([]byte{1, 2, 3}), ErrInvalidPublicKeySize)
}

func TestWrapSecret(t *testing.T) {
	master, err := NewMasterKey()
	require.NoError(t, err)
	kp := newTestKeypair(t)

	wrapped, err := WrapSecret(master, "addr-1", kp.SecretKey)
	require.NoError(t, err)
	assert.NotContains(t, string(wrapped), string(kp.SecretKey[:16]))

	got, err := UnwrapSecret(master, "addr-1", wrapped)
	require.NoError(t, err)
	assert.Equal(t, kp.SecretKey, got)

	_, err = UnwrapSecret(master, "addr-2", wrapped)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	other, err := NewMasterKey()
	require.NoError(t, err)
	_, err = UnwrapSecret(other, "addr-1", wrapped)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = WrapSecret([]byte("short"), "addr-1", kp.SecretKey)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = UnwrapSecret(master, "addr-1", []byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestLoadOrCreateSigner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "server.key")

	first, created, err := LoadOrCreateSigner(path)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, created, err := LoadOrCreateSigner(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublicKey(), second.PublicKey())

	require.NoError(t, os.WriteFile(path, []byte("not base64 !!"), 0o600))
	_, _, err = LoadOrCreateSigner(path)
	assert.Error(t, err)
}

func TestDecodeBase64_AcceptsVariants(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01}
	for _, s := range []string{"-_8B", "+/8B"} {
		got, err := DecodeBase64(s)
		require.NoError(t, err, s)
		assert.Equal(t, raw, got)
	}
}
