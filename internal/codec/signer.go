package codec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

// Signer holds the server ML-DSA-65 key that signs every envelope.
type Signer struct {
	pub  *mldsa65.PublicKey
	priv *mldsa65.PrivateKey
	seed [mldsa65.SeedSize]byte
}

// NewSigner generates a fresh signing key.
func NewSigner() (*Signer, error) {
	var seed [mldsa65.SeedSize]byte
	if _, err := io.ReadFull(randReader(), seed[:]); err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return SignerFromSeed(seed[:])
}

// SignerFromSeed derives the signing key deterministically from seed.
func SignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != mldsa65.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes, want %d", ErrInvalidKeySize, len(seed), mldsa65.SeedSize)
	}
	s := &Signer{}
	copy(s.seed[:], seed)
	s.pub, s.priv = mldsa65.NewKeyFromSeed(&s.seed)
	return s, nil
}

// LoadOrCreateSigner reads the seed stored at path, creating the file
// with a new key when it does not exist.
func LoadOrCreateSigner(path string) (*Signer, bool, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := DecodeBase64(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, false, fmt.Errorf("decoding signing key %s: %w", path, err)
		}
		s, err := SignerFromSeed(seed)
		return s, false, err
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("reading signing key: %w", err)
	}

	s, err := NewSigner()
	if err != nil {
		return nil, false, err
	}
	if err := s.Save(path); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Save writes the seed to path with owner-only permissions.
func (s *Signer) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(ToBase64URL(s.seed[:])+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing signing key: %w", err)
	}
	return nil
}

// PublicKey returns the packed ML-DSA-65 public key.
func (s *Signer) PublicKey() []byte {
	b, _ := s.pub.MarshalBinary()
	return b
}

// PublicKeyB64 returns the base64url public key clients pin.
func (s *Signer) PublicKeyB64() string {
	return ToBase64URL(s.PublicKey())
}

func (s *Signer) sign(msg []byte) ([]byte, error) {
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(s.priv, msg, nil, false, sig); err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	return sig, nil
}

func verify(serverSigPk, msg, sig []byte) error {
	var pub mldsa65.PublicKey
	if err := pub.UnmarshalBinary(serverSigPk); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerificationFailed, err)
	}
	if !mldsa65.Verify(&pub, msg, nil, sig) {
		return ErrSignatureVerificationFailed
	}
	return nil
}
