package pairing

import (
	"time"

	"github.com/google/uuid"
)

// InitiateResult is returned by InitiatePairing. The verification code is
// handed to the caller exactly once; only its salted hash is stored.
type InitiateResult struct {
	SessionID        uuid.UUID `json:"session_id"`
	VerificationCode string    `json:"verification_code"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// CompleteResult is returned by CompletePairing. The ciphertext is for the
// peer device to decapsulate locally; the server never persists it.
type CompleteResult struct {
	PairID     uuid.UUID `json:"pair_id"`
	Status     string    `json:"status"`
	Generation uint64    `json:"generation"`
	Ciphertext []byte    `json:"-"`
}

// SyncResult is the advisory outcome of sync and rotate. Ordinary failures
// are carried in Err/ErrorMessage instead of being raised; clients are
// expected to inspect, retry or poll.
type SyncResult struct {
	Success       bool      `json:"success"`
	NewGeneration uint64    `json:"new_generation"`
	EntropyStatus string    `json:"entropy_status,omitempty"`
	SyncTimestamp time.Time `json:"sync_timestamp"`
	Err           error     `json:"-"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// PairStatus is the externally visible state of a pair.
type PairStatus struct {
	PairID            uuid.UUID  `json:"pair_id"`
	Status            string     `json:"status"`
	CurrentGeneration uint64     `json:"current_generation"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	EntropyHealth     string     `json:"entropy_health"`
	EntropyScore      float64    `json:"entropy_score"`
}

// PairList is the result of ListPairs.
type PairList struct {
	Pairs      []PairStatus `json:"pairs"`
	TotalCount int          `json:"total_count"`
	MaxAllowed int          `json:"max_allowed"`
}

// RevocationResult is returned by RevokeInstantly.
type RevocationResult struct {
	Success         bool        `json:"success"`
	RevokedAt       time.Time   `json:"revoked_at"`
	Reason          string      `json:"reason"`
	AffectedDevices []uuid.UUID `json:"affected_devices"`
}

// AuditEntry is one audit trail row as returned by AuditTrail.
type AuditEntry struct {
	ID                uuid.UUID `json:"id"`
	EventType         string    `json:"event_type"`
	InitiatedByDevice uuid.UUID `json:"initiated_by_device"`
	Success           bool      `json:"success"`
	Details           string    `json:"details,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// EntropyTrendPoint is one historical measurement as returned by
// EntropyHistory.
type EntropyTrendPoint struct {
	DeviceID   uuid.UUID `json:"device_id"`
	Entropy    float64   `json:"entropy"`
	IsWarning  bool      `json:"is_warning"`
	IsCritical bool      `json:"is_critical"`
	MeasuredAt time.Time `json:"measured_at"`
}

// Submission is a device's self-reported measurement of its local pool
// sample, sent along with sync and rotate requests. The histogram is
// byte-value counts only and exposes no raw material.
type Submission struct {
	Entropy   float64  `json:"entropy"`
	Histogram []uint64 `json:"histogram"`
}
