package kem

import (
	"errors"
	"fmt"
)

// ErrCrypto is the root of all KEM failures. Every malformed-input error
// wraps it so callers can match the whole class with errors.Is.
var ErrCrypto = errors.New("crypto failure")

var (
	// ErrInvalidPublicKeySize is returned when the public key size is invalid.
	ErrInvalidPublicKeySize = fmt.Errorf("%w: invalid public key size", ErrCrypto)

	// ErrInvalidPrivateKeySize is returned when the private key size is invalid.
	ErrInvalidPrivateKeySize = fmt.Errorf("%w: invalid private key size", ErrCrypto)

	// ErrInvalidCiphertextSize is returned when the ciphertext size is invalid.
	ErrInvalidCiphertextSize = fmt.Errorf("%w: invalid ciphertext size", ErrCrypto)

	// ErrInvalidKeyMaterial is returned when key bytes are correctly sized
	// but structurally invalid for the scheme.
	ErrInvalidKeyMaterial = fmt.Errorf("%w: invalid key material", ErrCrypto)

	// ErrSimulatedNotPermitted is returned at construction time when the
	// simulated backend is requested while strict post-quantum mode is on.
	// There is no runtime fallback path; this is a startup-fatal condition.
	ErrSimulatedNotPermitted = errors.New("simulated KEM backend not permitted in strict post-quantum mode")

	// ErrUnknownBackend is returned for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown KEM backend")
)
