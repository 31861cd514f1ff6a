package codec

import (
	"fmt"
)

// WrapSecret encrypts an address secret key under the master key. The
// result is nonce || ciphertext. The wrapping key is bound to addressID.
func WrapSecret(masterKey []byte, addressID string, secret []byte) ([]byte, error) {
	key, err := wrapKey(masterKey, addressID)
	if err != nil {
		return nil, err
	}
	nonce, ct, err := encryptAESGCM(key, secret, []byte(addressID))
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// UnwrapSecret reverses WrapSecret.
func UnwrapSecret(masterKey []byte, addressID string, wrapped []byte) ([]byte, error) {
	if len(wrapped) < AESNonceSize+AESTagSize {
		return nil, fmt.Errorf("%w: wrapped key too short", ErrInvalidPayload)
	}
	key, err := wrapKey(masterKey, addressID)
	if err != nil {
		return nil, err
	}
	return decryptAESGCM(key, wrapped[:AESNonceSize], []byte(addressID), wrapped[AESNonceSize:])
}

func wrapKey(masterKey []byte, addressID string) ([]byte, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key is %d bytes, want %d", ErrInvalidKeySize, len(masterKey), MasterKeySize)
	}
	return DeriveKey(masterKey, nil, []byte(KeyWrapContext+addressID), AESKeySize)
}

// NewMasterKey returns a random master key.
func NewMasterKey() ([]byte, error) {
	k := make([]byte, MasterKeySize)
	if _, err := randReader().Read(k); err != nil {
		return nil, fmt.Errorf("reading master key: %w", err)
	}
	return k, nil
}
