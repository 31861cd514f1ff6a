package codec

import (
	"encoding/json"
	"fmt"
)

// AlgorithmSuite names the primitives an envelope was built with.
type AlgorithmSuite struct {
	KEM  string `json:"kem"`
	Sig  string `json:"sig"`
	AEAD string `json:"aead"`
	KDF  string `json:"kdf"`
}

func (a AlgorithmSuite) String() string {
	return a.KEM + ":" + a.Sig + ":" + a.AEAD + ":" + a.KDF
}

// Envelope is the stored and transmitted form of a sealed message.
// Binary fields are base64url without padding.
type Envelope struct {
	V           int            `json:"v"`
	Algs        AlgorithmSuite `json:"algs"`
	CtKem       string         `json:"ct_kem"`
	Nonce       string         `json:"nonce"`
	AAD         string         `json:"aad"`
	Ciphertext  string         `json:"ciphertext"`
	Sig         string         `json:"sig"`
	ServerSigPk string         `json:"server_sig_pk"`
}

// rawEnvelope is an Envelope with its fields decoded.
type rawEnvelope struct {
	v           int
	algs        AlgorithmSuite
	ctKem       []byte
	nonce       []byte
	aad         []byte
	ciphertext  []byte
	sig         []byte
	serverSigPk []byte
}

func (r *rawEnvelope) encode() *Envelope {
	return &Envelope{
		V:           r.v,
		Algs:        r.algs,
		CtKem:       ToBase64URL(r.ctKem),
		Nonce:       ToBase64URL(r.nonce),
		AAD:         ToBase64URL(r.aad),
		Ciphertext:  ToBase64URL(r.ciphertext),
		Sig:         ToBase64URL(r.sig),
		ServerSigPk: ToBase64URL(r.serverSigPk),
	}
}

func (e *Envelope) decode() (*rawEnvelope, error) {
	if e == nil {
		return nil, ErrInvalidPayload
	}
	if e.V != Version || e.Algs != Suite {
		return nil, fmt.Errorf("%w: v=%d algs=%s", ErrInvalidAlgorithm, e.V, e.Algs)
	}

	r := &rawEnvelope{v: e.V, algs: e.Algs}
	fields := []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"ct_kem", e.CtKem, &r.ctKem},
		{"nonce", e.Nonce, &r.nonce},
		{"aad", e.AAD, &r.aad},
		{"ciphertext", e.Ciphertext, &r.ciphertext},
		{"sig", e.Sig, &r.sig},
		{"server_sig_pk", e.ServerSigPk, &r.serverSigPk},
	}
	for _, f := range fields {
		b, err := FromBase64URL(f.src)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, f.name, err)
		}
		*f.dst = b
	}

	if len(r.ctKem) != MLKEMCiphertextSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidCiphertextSize, len(r.ctKem), MLKEMCiphertextSize)
	}
	if len(r.nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(r.nonce), AESNonceSize)
	}
	if len(r.ciphertext) < AESTagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrInvalidPayload)
	}
	if len(r.serverSigPk) != MLDSAPublicKeySize {
		return nil, fmt.Errorf("%w: server key size %d", ErrInvalidPayload, len(r.serverSigPk))
	}
	return r, nil
}

// transcript is the byte string covered by the server signature:
// v || suite || context || ct_kem || nonce || aad || ciphertext || server_sig_pk.
func (r *rawEnvelope) transcript() []byte {
	suite := r.algs.String()
	n := 1 + len(suite) + len(HKDFContext) + len(r.ctKem) + len(r.nonce) +
		len(r.aad) + len(r.ciphertext) + len(r.serverSigPk)

	t := make([]byte, 0, n)
	t = append(t, byte(r.v))
	t = append(t, suite...)
	t = append(t, HKDFContext...)
	for _, part := range [][]byte{r.ctKem, r.nonce, r.aad, r.ciphertext, r.serverSigPk} {
		t = append(t, part...)
	}
	return t
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes JSON produced by Marshal.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &e, nil
}

// AAD is the additional data that binds a message ciphertext to its row.
func AAD(addressID, messageID string) []byte {
	return []byte("tempmail:" + addressID + ":" + messageID)
}

// RawAAD binds the sealed raw form of a message, kept in the blob store.
func RawAAD(addressID, messageID string) []byte {
	return []byte("tempmail:" + addressID + ":" + messageID + ":raw")
}
