// Package codec seals inbound messages to an address public key and
// opens them again.
//
// Every stored message is an Envelope: ML-KEM-768 encapsulation to the
// address key, HKDF-SHA-512 key derivation, AES-256-GCM encryption, and
// an ML-DSA-65 server signature over the whole transcript. Managed
// addresses keep their secret key on the server, wrapped under the
// master key (see WrapSecret); sealed addresses never disclose it.
package codec
