package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// Seal encrypts plaintext to recipientPublicKey and signs the result.
func (s *Signer) Seal(plaintext, recipientPublicKey, aad []byte) (*Envelope, error) {
	ctKem, shared, err := encapsulate(recipientPublicKey)
	if err != nil {
		return nil, err
	}

	key, err := messageKey(shared, aad, ctKem)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext, err := encryptAESGCM(key, plaintext, aad)
	if err != nil {
		return nil, err
	}

	r := &rawEnvelope{
		v:           Version,
		algs:        Suite,
		ctKem:       ctKem,
		nonce:       nonce,
		aad:         append([]byte(nil), aad...),
		ciphertext:  ciphertext,
		serverSigPk: s.PublicKey(),
	}
	if r.sig, err = s.sign(r.transcript()); err != nil {
		return nil, err
	}
	return r.encode(), nil
}

// Verify checks the envelope signature, and that it was made by pinned
// when pinned is non-empty.
func Verify(env *Envelope, pinned []byte) error {
	r, err := env.decode()
	if err != nil {
		return err
	}
	return r.verify(pinned)
}

func (r *rawEnvelope) verify(pinned []byte) error {
	if len(pinned) > 0 && !bytes.Equal(pinned, r.serverSigPk) {
		return ErrServerKeyMismatch
	}
	return verify(r.serverSigPk, r.transcript(), r.sig)
}

// Open verifies env and only then decrypts it with kp.
func Open(env *Envelope, kp *Keypair, pinned []byte) ([]byte, error) {
	if kp == nil {
		return nil, errors.New("nil keypair")
	}
	r, err := env.decode()
	if err != nil {
		return nil, err
	}
	if err := r.verify(pinned); err != nil {
		return nil, err
	}

	shared, err := kp.decapsulate(r.ctKem)
	if err != nil {
		return nil, err
	}
	key, err := messageKey(shared, r.aad, r.ctKem)
	if err != nil {
		return nil, err
	}
	return decryptAESGCM(key, r.nonce, r.aad, r.ciphertext)
}

// OpenFor is Open with an extra check that the envelope carries the
// expected AAD, so a payload cannot be replayed under another row.
func OpenFor(env *Envelope, kp *Keypair, pinned, wantAAD []byte) ([]byte, error) {
	got, err := FromBase64URL(env.AAD)
	if err != nil {
		return nil, fmt.Errorf("%w: decode aad: %v", ErrInvalidPayload, err)
	}
	if !bytes.Equal(got, wantAAD) {
		return nil, fmt.Errorf("%w: aad mismatch", ErrInvalidPayload)
	}
	return Open(env, kp, pinned)
}
