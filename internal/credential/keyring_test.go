package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	prev := opener
	opener = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { opener = prev })
}

func TestSetGetDelete(t *testing.T) {
	useArrayKeyring(t)

	require.NoError(t, Set("imap-password", "hunter2"))

	v, err := Get("imap-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	require.NoError(t, Delete("imap-password"))

	_, err = Get("imap-password")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve(t *testing.T) {
	useArrayKeyring(t)
	require.NoError(t, Set("jwt", "from-ring"))

	tests := []struct {
		name    string
		literal string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "literal wins", literal: "inline", ref: "jwt", want: "inline"},
		{name: "keyring ref", ref: "jwt", want: "from-ring"},
		{name: "both empty", want: ""},
		{name: "missing ref", ref: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(Keyring{}, tt.literal, tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyNames(t *testing.T) {
	assert.Equal(t, "address:a@b.c", AddressSecretKey("a@b.c"))
	assert.Equal(t, "token:a@b.c", AddressTokenKey("a@b.c"))
}
