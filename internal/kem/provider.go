// Package kem wraps a lattice-based key encapsulation mechanism behind a
// capability-checked Provider interface. The production backend is
// ML-KEM-768; a clearly labeled simulated backend exists for environments
// without the native scheme and is refused outright when strict post-quantum
// mode is requested.
package kem

import "fmt"

// ML-KEM-768 byte sizes. The simulated backend mirrors them so callers and
// storage never depend on which backend produced the material.
const (
	PublicKeySize    = 1184
	PrivateKeySize   = 2400
	CiphertextSize   = 1088
	SharedSecretSize = 32
)

// Backend names accepted by NewProvider.
const (
	BackendMLKEM     = "mlkem768"
	BackendSimulated = "simulated"
)

// Provider is the key encapsulation contract. Both parties computing
// decapsulate/encapsulate from matching key material yield bit-identical
// shared secrets. All operations fail closed on malformed input; none ever
// substitutes a weaker algorithm.
type Provider interface {
	// GenerateKeyPair returns a fresh (public, private) key pair.
	GenerateKeyPair() (pub, priv []byte, err error)

	// Encapsulate produces a ciphertext and shared secret for the peer's
	// public key.
	Encapsulate(peerPub []byte) (ciphertext, sharedSecret []byte, err error)

	// Decapsulate recovers the shared secret from a ciphertext using the
	// private key.
	Decapsulate(priv, ciphertext []byte) (sharedSecret []byte, err error)

	// Name identifies the backend for logging and status reporting.
	Name() string
}

// NewProvider selects a backend by name. With strictPQ set, only the native
// ML-KEM backend is honored; asking for the simulated one is a construction
// error, never a silent downgrade.
func NewProvider(backend string, strictPQ bool) (Provider, error) {
	switch backend {
	case BackendMLKEM, "":
		return NewMLKEMProvider(), nil
	case BackendSimulated:
		if strictPQ {
			return nil, ErrSimulatedNotPermitted
		}
		return NewSimulatedProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
