package codec

import "errors"

var (
	// ErrInvalidSecretKeySize is returned when the secret key size is invalid.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidPublicKeySize is returned when the public key size is invalid.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidCiphertextSize is returned when the KEM ciphertext size is invalid.
	ErrInvalidCiphertextSize = errors.New("invalid ciphertext size")

	// ErrSignatureVerificationFailed is returned when signature verification fails.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrServerKeyMismatch is returned when the envelope's server key
	// differs from the pinned one.
	ErrServerKeyMismatch = errors.New("server public key mismatch")

	// ErrDecryptionFailed is returned when AEAD opening fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when an AES or master key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidPayload is returned for malformed envelopes.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidAlgorithm is returned for an unsupported algorithm suite or version.
	ErrInvalidAlgorithm = errors.New("invalid algorithm")
)
