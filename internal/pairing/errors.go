package pairing

import (
	"errors"
	"fmt"
)

var (
	// ErrPairingFailed covers expired sessions, consumed sessions and wrong
	// verification codes alike. The caller is deliberately given no way to
	// tell which one happened.
	ErrPairingFailed = errors.New("pairing failed")

	// ErrPairNotFound is returned when the named pair does not exist.
	ErrPairNotFound = errors.New("pair not found")

	// ErrPairRevoked is returned for any operation attempted on a revoked
	// pair. Revocation is terminal; trust must be re-established via a new
	// pairing.
	ErrPairRevoked = errors.New("pair has been revoked")

	// ErrDeviceMismatch is returned when the device is not one of the
	// pair's two members.
	ErrDeviceMismatch = errors.New("device is not part of this pair")

	// ErrKeyMaterialUnavailable is returned advisorily when a rotation
	// finds no cached shared secret. The only recovery is a fresh pairing.
	ErrKeyMaterialUnavailable = errors.New("shared secret unavailable; re-pair to rotate")

	// ErrAnomalyNotFound is returned when resolving a nonexistent or
	// already resolved anomaly.
	ErrAnomalyNotFound = errors.New("anomaly not found or already resolved")
)

// ValidationError reports bad input or ownership at request time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
