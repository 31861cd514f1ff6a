package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "tempmail"

// ErrNotFound is returned when a keyring entry does not exist.
var ErrNotFound = errors.New("credential not found")

// opener is swapped in tests.
var opener = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/tempmail/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("tempmail-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := opener()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := opener()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Store reads and writes named secrets.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keyring is the Store backed by the system keyring.
type Keyring struct{}

func (Keyring) Get(key string) (string, error) { return Get(key) }
func (Keyring) Set(key, value string) error    { return Set(key, value) }
func (Keyring) Delete(key string) error        { return Delete(key) }

// Resolve returns literal when it is set, otherwise the value stored
// under ref in s. Both empty yields "" without touching s.
func Resolve(s Store, literal, ref string) (string, error) {
	if literal != "" {
		return literal, nil
	}
	if ref == "" {
		return "", nil
	}
	return s.Get(ref)
}

// AddressSecretKey is the keyring entry holding the sealed-mode secret
// key of an address created from this machine.
func AddressSecretKey(email string) string {
	return "address:" + email
}

// AddressTokenKey is the keyring entry holding the access token of an address.
func AddressTokenKey(email string) string {
	return "token:" + email
}
