package model

import (
	"time"

	"github.com/google/uuid"
)

// Pair status values. A pair is created active at pairing completion and
// only ever moves forward: active -> revoked. There is no un-revoke.
const (
	PairStatusActive  = "active"
	PairStatusRevoked = "revoked"
)

// Sync event types recorded in the append-only audit trail.
const (
	EventPairingComplete = "pairing_complete"
	EventSync            = "sync"
	EventRotate          = "rotate"
	EventRevoke          = "revoke"
)

// Anomaly severities and types produced by the entropy monitor.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	AnomalyEntropyDegradation = "entropy_degradation"
	AnomalyDivergenceSpike    = "divergence_spike"
)

// Device represents a device belonging to a user
type Device struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	DeviceName     string
	IdentityKeyPub []byte
	CreatedAt      time.Time
	LastSeenAt     *time.Time
}

// PairingSession is an ephemeral handshake in progress. Only the salted hash
// of the 6-digit verification code is stored; the code itself is returned
// once to the caller and never persisted or logged.
type PairingSession struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	DeviceAID     uuid.UUID
	DeviceBID     uuid.UUID
	CodeHash      []byte
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
}

// EntangledPair is the durable trust relationship between two devices.
// Generation is monotonically non-decreasing and never resets.
type EntangledPair struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	DeviceAID          uuid.UUID
	DeviceBID          uuid.UUID
	Status             string
	Generation         uint64
	PairingCompletedAt time.Time
	RevokedAt          *time.Time
	RevocationReason   *string
	CreatedAt          time.Time
}

// HasDevice reports whether the given device is one of the pair's two members.
func (p EntangledPair) HasDevice(deviceID uuid.UUID) bool {
	return p.DeviceAID == deviceID || p.DeviceBID == deviceID
}

// RandomnessPool is the externally visible record of the current generation's
// shared randomness pool: fingerprint and entropy only, never the seed itself.
// Each rotation replaces the row; previous generations are discarded.
type RandomnessPool struct {
	PairID          uuid.UUID
	Generation      uint64
	Fingerprint     string
	Entropy         float64
	LastRefreshedAt time.Time
}

// SyncEvent is one append-only audit trail entry, written for every
// state-changing or state-querying pair operation, including failed ones.
type SyncEvent struct {
	ID                uuid.UUID
	PairID            uuid.UUID
	EventType         string
	InitiatedByDevice uuid.UUID
	Success           bool
	Details           string
	CreatedAt         time.Time
}

// EntropyMeasurement is a historical entropy sample for one device of a pair.
// The histogram (256 bins of byte-value counts) exposes no raw pool material
// and is what the divergence check compares across the two devices.
type EntropyMeasurement struct {
	ID         uuid.UUID
	PairID     uuid.UUID
	DeviceID   uuid.UUID
	Entropy    float64
	Histogram  []uint64
	IsWarning  bool
	IsCritical bool
	MeasuredAt time.Time
}

// AnomalyEvent is a detected divergence between the two devices' pools.
// Resolution is an explicit operator action.
type AnomalyEvent struct {
	ID           uuid.UUID
	PairID       uuid.UUID
	DeviceID     *uuid.UUID
	AnomalyType  string
	Severity     string
	KLDivergence float64
	Resolved     bool
	ResolvedAt   *time.Time
	CreatedAt    time.Time
}
