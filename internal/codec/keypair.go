package codec

import (
	"fmt"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

// Keypair is an ML-KEM-768 key pair in packed form.
type Keypair struct {
	PublicKey []byte
	SecretKey []byte
}

// GenerateKeypair creates a fresh ML-KEM-768 key pair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := mlkem768.GenerateKeyPair(randReader())
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}

	kp := &Keypair{
		PublicKey: make([]byte, MLKEMPublicKeySize),
		SecretKey: make([]byte, MLKEMSecretKeySize),
	}
	pub.Pack(kp.PublicKey)
	priv.Pack(kp.SecretKey)
	return kp, nil
}

// KeypairFromSecretKey rebuilds a key pair from a packed secret key.
// The public key is embedded in the secret key.
func KeypairFromSecretKey(secretKey []byte) (*Keypair, error) {
	if len(secretKey) != MLKEMSecretKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidSecretKeySize, len(secretKey), MLKEMSecretKeySize)
	}

	var priv mlkem768.PrivateKey
	if err := priv.Unpack(secretKey); err != nil {
		return nil, fmt.Errorf("unpacking secret key: %w", err)
	}

	kp := &Keypair{
		PublicKey: make([]byte, MLKEMPublicKeySize),
		SecretKey: make([]byte, MLKEMSecretKeySize),
	}
	copy(kp.SecretKey, secretKey)
	copy(kp.PublicKey, secretKey[publicKeyOffset:publicKeyOffset+MLKEMPublicKeySize])
	return kp, nil
}

// ValidatePublicKey checks that b unpacks as an ML-KEM-768 public key.
func ValidatePublicKey(b []byte) error {
	if len(b) != MLKEMPublicKeySize {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidPublicKeySize, len(b), MLKEMPublicKeySize)
	}
	if _, err := mlkem768.Scheme().UnmarshalBinaryPublicKey(b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKeySize, err)
	}
	return nil
}

// PublicKeyB64 returns the base64url public key.
func (k *Keypair) PublicKeyB64() string {
	return ToBase64URL(k.PublicKey)
}

func (k *Keypair) decapsulate(ctKem []byte) ([]byte, error) {
	if len(k.SecretKey) != MLKEMSecretKeySize {
		return nil, ErrInvalidSecretKeySize
	}
	if len(ctKem) != MLKEMCiphertextSize {
		return nil, ErrInvalidCiphertextSize
	}

	var priv mlkem768.PrivateKey
	if err := priv.Unpack(k.SecretKey); err != nil {
		return nil, fmt.Errorf("unpacking secret key: %w", err)
	}

	ss := make([]byte, MLKEMSharedKeySize)
	priv.DecapsulateTo(ss, ctKem)
	return ss, nil
}

func encapsulate(publicKey []byte) (ctKem, sharedSecret []byte, err error) {
	if len(publicKey) != MLKEMPublicKeySize {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidPublicKeySize, len(publicKey), MLKEMPublicKeySize)
	}

	scheme := mlkem768.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("unpacking public key: %w", err)
	}

	ctKem, sharedSecret, err = scheme.Encapsulate(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("encapsulating: %w", err)
	}
	return ctKem, sharedSecret, nil
}
