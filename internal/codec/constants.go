package codec

import (
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
)

const (
	// Version is the envelope format version.
	Version = 1

	// HKDFContext separates message keys from any other derivation.
	HKDFContext = "tempmail:email:v1"

	// KeyWrapContext separates key-wrapping keys.
	KeyWrapContext = "tempmail:keywrap:v1"

	AlgKEM  = "ML-KEM-768"
	AlgSig  = "ML-DSA-65"
	AlgAEAD = "AES-256-GCM"
	AlgKDF  = "HKDF-SHA-512"

	MLKEMPublicKeySize  = mlkem768.PublicKeySize
	MLKEMSecretKeySize  = mlkem768.PrivateKeySize
	MLKEMCiphertextSize = mlkem768.CiphertextSize
	MLKEMSharedKeySize  = mlkem768.SharedKeySize

	// publicKeyOffset is where circl embeds the public key inside a
	// packed ML-KEM-768 secret key.
	publicKeyOffset = 1152

	MLDSAPublicKeySize = mldsa65.PublicKeySize
	MLDSASignatureSize = mldsa65.SignatureSize
	MLDSASeedSize      = mldsa65.SeedSize

	AESKeySize   = 32
	AESNonceSize = 12
	AESTagSize   = 16

	// MasterKeySize is the required length of the managed-mode master key.
	MasterKeySize = 32
)

// Suite is the only algorithm suite this package produces or accepts.
var Suite = AlgorithmSuite{KEM: AlgKEM, Sig: AlgSig, AEAD: AlgAEAD, KDF: AlgKDF}
