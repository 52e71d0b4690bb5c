// Package pairing coordinates the entangled key lifecycle: pairing sessions,
// pair state transitions, pool rotation and synchronization, divergence
// checks and the audit trail. Error handling is two-tier: sync and rotate
// are advisory and report ordinary failures inside SyncResult, while
// pairing completion and revocation are one-shot security transitions that
// fail loudly.
package pairing

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entanglekey/server/internal/entropy"
	"github.com/entanglekey/server/internal/kem"
	"github.com/entanglekey/server/internal/model"
	"github.com/entanglekey/server/internal/pool"
	"github.com/entanglekey/server/internal/repo"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// MaxPairsPerUser caps active pairs per user.
	MaxPairsPerUser int
	// SessionTTL is the pairing session expiry window.
	SessionTTL time.Duration
	// MaxCodeAttempts consumes the session after too many wrong codes.
	MaxCodeAttempts int
	// CodeSalt salts the stored verification code hashes.
	CodeSalt string
	// SampleSize is how much pool material is expanded for entropy checks.
	SampleSize int
}

// DefaultConfig returns the standard operating configuration.
func DefaultConfig() Config {
	return Config{
		MaxPairsPerUser: 5,
		SessionTTL:      10 * time.Minute,
		MaxCodeAttempts: 5,
		SampleSize:      pool.DefaultSampleSize,
	}
}

// Stores bundles the repositories the orchestrator depends on.
type Stores struct {
	Devices   repo.DeviceRepo
	Sessions  repo.SessionRepo
	Pairs     repo.PairRepo
	Pools     repo.PoolRepo
	Events    repo.EventRepo
	Entropy   repo.EntropyRepo
	Anomalies repo.AnomalyRepo
}

// Orchestrator is the stateful coordinator for device pairs. All
// dependencies are injected; it holds no global state. Shared secrets live
// only in the injected SecretCache.
type Orchestrator struct {
	cfg     Config
	kem     kem.Provider
	monitor *entropy.Monitor
	secrets *pool.SecretCache
	stores  Stores
	locks   *pairLocks
	log     *zap.Logger
}

// NewOrchestrator wires up a pairing orchestrator.
func NewOrchestrator(cfg Config, provider kem.Provider, monitor *entropy.Monitor, secrets *pool.SecretCache, stores Stores, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = pool.DefaultSampleSize
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 5
	}
	return &Orchestrator{
		cfg:     cfg,
		kem:     provider,
		monitor: monitor,
		secrets: secrets,
		stores:  stores,
		locks:   newPairLocks(),
		log:     log,
	}
}

// InitiatePairing starts a handshake between two devices owned by the user.
// It returns the one-time 6-digit verification code for out-of-band display;
// only the code's salted hash is stored.
func (o *Orchestrator) InitiatePairing(ctx context.Context, userID, deviceAID, deviceBID uuid.UUID) (InitiateResult, error) {
	if deviceAID == deviceBID {
		return InitiateResult{}, validationErr("device_b_id", "must differ from device_a_id")
	}

	for _, id := range []uuid.UUID{deviceAID, deviceBID} {
		device, err := o.stores.Devices.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return InitiateResult{}, validationErr("device_id", "unknown device")
			}
			return InitiateResult{}, fmt.Errorf("look up device: %w", err)
		}
		if device.UserID != userID {
			return InitiateResult{}, validationErr("device_id", "device not owned by requesting user")
		}
	}

	now := time.Now().UTC()

	// Lazy reap: sessions that expired without completion are inert.
	if _, err := o.stores.Sessions.DeleteExpired(ctx, now); err != nil {
		o.log.Warn("expired session reap failed", zap.Error(err))
	}

	exists, err := o.stores.Pairs.ActiveExistsForDevices(ctx, deviceAID, deviceBID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("check existing pair: %w", err)
	}
	if exists {
		return InitiateResult{}, validationErr("device_id", "devices are already actively paired")
	}

	active, err := o.stores.Pairs.CountActiveForUser(ctx, userID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("count active pairs: %w", err)
	}
	if active >= o.cfg.MaxPairsPerUser {
		return InitiateResult{}, validationErr("user_id", fmt.Sprintf("active pair limit of %d reached", o.cfg.MaxPairsPerUser))
	}

	code, err := generateVerificationCode()
	if err != nil {
		return InitiateResult{}, fmt.Errorf("generate verification code: %w", err)
	}

	session := model.PairingSession{
		ID:        uuid.New(),
		UserID:    userID,
		DeviceAID: deviceAID,
		DeviceBID: deviceBID,
		ExpiresAt: now.Add(o.cfg.SessionTTL),
		CreatedAt: now,
	}
	session.CodeHash = hashCode(session.ID, code, o.cfg.CodeSalt)

	if err := o.stores.Sessions.Create(ctx, session); err != nil {
		return InitiateResult{}, fmt.Errorf("create pairing session: %w", err)
	}

	o.log.Info("pairing initiated",
		zap.String("session_id", session.ID.String()),
		zap.String("device_a", deviceAID.String()),
		zap.String("device_b", deviceBID.String()),
	)

	return InitiateResult{
		SessionID:        session.ID,
		VerificationCode: code,
		ExpiresAt:        session.ExpiresAt,
	}, nil
}

// CompletePairing consumes a session, encapsulates against the peer public
// key and establishes the pair at generation 0. Wrong code, expired session
// and consumed session all fail with the same ErrPairingFailed; there is no
// oracle distinguishing them.
func (o *Orchestrator) CompletePairing(ctx context.Context, sessionID uuid.UUID, code string, deviceBPublicKey []byte) (CompleteResult, error) {
	now := time.Now().UTC()

	session, err := o.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CompleteResult{}, ErrPairingFailed
		}
		return CompleteResult{}, fmt.Errorf("load pairing session: %w", err)
	}

	if session.ConsumedAt != nil || now.After(session.ExpiresAt) {
		return CompleteResult{}, ErrPairingFailed
	}

	attempts, err := o.stores.Sessions.IncrementAttempt(ctx, sessionID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("record attempt: %w", err)
	}
	if attempts > o.cfg.MaxCodeAttempts {
		_ = o.stores.Sessions.MarkConsumed(ctx, sessionID)
		return CompleteResult{}, ErrPairingFailed
	}

	provided := hashCode(sessionID, code, o.cfg.CodeSalt)
	if subtle.ConstantTimeCompare(provided, session.CodeHash) != 1 {
		return CompleteResult{}, ErrPairingFailed
	}

	// Single use: consume before the pair is created so a concurrent second
	// submission of the same code fails here.
	if err := o.stores.Sessions.MarkConsumed(ctx, sessionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return CompleteResult{}, ErrPairingFailed
		}
		return CompleteResult{}, fmt.Errorf("consume session: %w", err)
	}

	exists, err := o.stores.Pairs.ActiveExistsForDevices(ctx, session.DeviceAID, session.DeviceBID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("check existing pair: %w", err)
	}
	if exists {
		return CompleteResult{}, validationErr("device_id", "devices are already actively paired")
	}

	ciphertext, sharedSecret, err := o.kem.Encapsulate(deviceBPublicKey)
	if err != nil {
		return CompleteResult{}, err
	}
	defer pool.Zeroize(sharedSecret)

	pairID := uuid.New()
	poolRec, sample, err := o.derivePoolRecord(sharedSecret, pairID, 0, now)
	if err != nil {
		return CompleteResult{}, err
	}

	pair := model.EntangledPair{
		ID:                 pairID,
		UserID:             session.UserID,
		DeviceAID:          session.DeviceAID,
		DeviceBID:          session.DeviceBID,
		Status:             model.PairStatusActive,
		Generation:         0,
		PairingCompletedAt: now,
		CreatedAt:          now,
	}
	if err := o.stores.Pairs.Create(ctx, pair); err != nil {
		return CompleteResult{}, fmt.Errorf("create pair: %w", err)
	}
	if err := o.stores.Pools.Upsert(ctx, poolRec); err != nil {
		return CompleteResult{}, fmt.Errorf("store pool record: %w", err)
	}

	// Cache only once the pair is durable; a failed insert must not leave
	// a secret behind for a pair that does not exist.
	o.secrets.Put(pairID.String(), sharedSecret)

	// Both devices start from bit-identical generation-0 material.
	hist := entropy.Histogram(sample)
	o.recordMeasurement(ctx, pairID, session.DeviceAID, poolRec.Entropy, hist, now)
	o.recordMeasurement(ctx, pairID, session.DeviceBID, poolRec.Entropy, hist, now)
	pool.Zeroize(sample)

	o.appendEvent(ctx, pairID, model.EventPairingComplete, session.DeviceBID, true, "generation 0 established")

	o.log.Info("pairing complete",
		zap.String("pair_id", pairID.String()),
		zap.String("pool_fingerprint", poolRec.Fingerprint),
		zap.String("kem_backend", o.kem.Name()),
	)

	return CompleteResult{
		PairID:     pairID,
		Status:     model.PairStatusActive,
		Generation: 0,
		Ciphertext: ciphertext,
	}, nil
}

// SynchronizeKeys checks the requesting device against the pair's current
// pool and records an entropy measurement. It is advisory and idempotent:
// ordinary failures come back inside the result, and a sync event is logged
// regardless of outcome.
func (o *Orchestrator) SynchronizeKeys(ctx context.Context, pairID, deviceID uuid.UUID, submitted *Submission) (SyncResult, error) {
	now := time.Now().UTC()

	pair, res, err := o.checkPairForDevice(ctx, pairID, deviceID, now)
	if err != nil {
		return SyncResult{}, err
	}
	if res != nil {
		if !errors.Is(res.Err, ErrPairNotFound) {
			o.appendEvent(ctx, pairID, model.EventSync, deviceID, false, res.ErrorMessage)
		}
		return *res, nil
	}

	poolRec, err := o.stores.Pools.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			res := advisoryFailure(now, errors.New("pool material not yet derived"))
			o.appendEvent(ctx, pairID, model.EventSync, deviceID, false, res.ErrorMessage)
			return res, nil
		}
		return SyncResult{}, fmt.Errorf("load pool record: %w", err)
	}

	ent, hist := o.measurementFor(pair, poolRec, submitted)
	o.recordMeasurement(ctx, pairID, deviceID, ent, hist, now)
	o.appendEvent(ctx, pairID, model.EventSync, deviceID, true, fmt.Sprintf("generation %d", poolRec.Generation))

	return SyncResult{
		Success:       true,
		NewGeneration: poolRec.Generation,
		EntropyStatus: o.monitor.ClassifyEntropy(ent),
		SyncTimestamp: now,
	}, nil
}

// RotateKeys advances the pair to the next generation, re-deriving pool
// material from the original shared secret. Rotations on the same pair are
// serialized; the two devices never observe a torn combination of generation
// and pool material.
func (o *Orchestrator) RotateKeys(ctx context.Context, pairID, deviceID uuid.UUID) (SyncResult, error) {
	release := o.locks.acquire(pairID)
	defer release()

	now := time.Now().UTC()

	_, res, err := o.checkPairForDevice(ctx, pairID, deviceID, now)
	if err != nil {
		return SyncResult{}, err
	}
	if res != nil {
		if !errors.Is(res.Err, ErrPairNotFound) {
			o.appendEvent(ctx, pairID, model.EventRotate, deviceID, false, res.ErrorMessage)
		}
		return *res, nil
	}

	sharedSecret, ok := o.secrets.Get(pairID.String())
	if !ok {
		res := advisoryFailure(now, ErrKeyMaterialUnavailable)
		o.appendEvent(ctx, pairID, model.EventRotate, deviceID, false, res.ErrorMessage)
		return res, nil
	}
	defer pool.Zeroize(sharedSecret)

	newGen, err := o.stores.Pairs.IncrementGeneration(ctx, pairID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost a race with a revocation.
			res := advisoryFailure(now, ErrPairRevoked)
			o.appendEvent(ctx, pairID, model.EventRotate, deviceID, false, res.ErrorMessage)
			return res, nil
		}
		return SyncResult{}, fmt.Errorf("increment generation: %w", err)
	}

	poolRec, sample, err := o.derivePoolRecord(sharedSecret, pairID, newGen, now)
	if err != nil {
		return SyncResult{}, err
	}
	if err := o.stores.Pools.Upsert(ctx, poolRec); err != nil {
		return SyncResult{}, fmt.Errorf("store pool record: %w", err)
	}

	o.recordMeasurement(ctx, pairID, deviceID, poolRec.Entropy, entropy.Histogram(sample), now)
	pool.Zeroize(sample)

	o.appendEvent(ctx, pairID, model.EventRotate, deviceID, true, fmt.Sprintf("generation %d", newGen))
	o.log.Info("keys rotated",
		zap.String("pair_id", pairID.String()),
		zap.Uint64("generation", newGen),
		zap.String("pool_fingerprint", poolRec.Fingerprint),
	)

	return SyncResult{
		Success:       true,
		NewGeneration: newGen,
		EntropyStatus: o.monitor.ClassifyEntropy(poolRec.Entropy),
		SyncTimestamp: now,
	}, nil
}

// GetPairStatus returns the externally visible state of a pair.
func (o *Orchestrator) GetPairStatus(ctx context.Context, pairID uuid.UUID) (PairStatus, error) {
	pair, err := o.stores.Pairs.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return PairStatus{}, ErrPairNotFound
		}
		return PairStatus{}, fmt.Errorf("load pair: %w", err)
	}
	return o.statusFor(ctx, pair)
}

// ListPairs returns the status of every pair belonging to the user.
func (o *Orchestrator) ListPairs(ctx context.Context, userID uuid.UUID) (PairList, error) {
	pairs, err := o.stores.Pairs.ListByUser(ctx, userID)
	if err != nil {
		return PairList{}, fmt.Errorf("list pairs: %w", err)
	}

	list := PairList{
		Pairs:      make([]PairStatus, 0, len(pairs)),
		TotalCount: len(pairs),
		MaxAllowed: o.cfg.MaxPairsPerUser,
	}
	for _, pair := range pairs {
		status, err := o.statusFor(ctx, pair)
		if err != nil {
			return PairList{}, err
		}
		list.Pairs = append(list.Pairs, status)
	}
	return list, nil
}

// DetectEavesdropping compares the two devices' most recent pool samples and
// returns a structured report. Finding an anomaly is a normal successful
// outcome; the call errors only if the pair does not exist.
func (o *Orchestrator) DetectEavesdropping(ctx context.Context, pairID uuid.UUID) (entropy.AnomalyReport, error) {
	pair, err := o.stores.Pairs.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return entropy.AnomalyReport{}, ErrPairNotFound
		}
		return entropy.AnomalyReport{}, fmt.Errorf("load pair: %w", err)
	}

	entA, histA := o.latestMeasurement(ctx, pair, pair.DeviceAID)
	entB, histB := o.latestMeasurement(ctx, pair, pair.DeviceBID)

	var kl float64
	if histA != nil && histB != nil {
		kl = entropy.KLDivergence(histA, histB)
	}

	report := o.monitor.Assess(entA, entB, kl)
	if report.HasAnomaly {
		suspect := suspectDevice(pair, entA, entB)
		anomaly := model.AnomalyEvent{
			ID:           uuid.New(),
			PairID:       pairID,
			DeviceID:     suspect,
			AnomalyType:  report.AnomalyType,
			Severity:     report.Severity,
			KLDivergence: report.KLDivergence,
			CreatedAt:    time.Now().UTC(),
		}
		if err := o.stores.Anomalies.Create(ctx, anomaly); err != nil {
			o.log.Warn("persist anomaly failed", zap.Error(err))
		}
		o.log.Warn("divergence anomaly detected",
			zap.String("pair_id", pairID.String()),
			zap.String("anomaly_type", report.AnomalyType),
			zap.String("severity", report.Severity),
			zap.Float64("kl_divergence", report.KLDivergence),
		)
	}
	return report, nil
}

// RevokeInstantly is an irreversible, fatal-on-misuse transition: it raises
// if the pair does not exist or is already revoked. Afterwards every sync
// and rotate on the pair fails with ErrPairRevoked, forever.
func (o *Orchestrator) RevokeInstantly(ctx context.Context, pairID, compromisedDeviceID uuid.UUID, reason string) (RevocationResult, error) {
	release := o.locks.acquire(pairID)
	defer release()

	pair, err := o.stores.Pairs.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RevocationResult{}, ErrPairNotFound
		}
		return RevocationResult{}, fmt.Errorf("load pair: %w", err)
	}
	if pair.Status == model.PairStatusRevoked {
		return RevocationResult{}, ErrPairRevoked
	}
	if compromisedDeviceID != uuid.Nil && !pair.HasDevice(compromisedDeviceID) {
		return RevocationResult{}, ErrDeviceMismatch
	}

	now := time.Now().UTC()
	if err := o.stores.Pairs.Revoke(ctx, pairID, reason, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RevocationResult{}, ErrPairRevoked
		}
		return RevocationResult{}, fmt.Errorf("revoke pair: %w", err)
	}

	// The cached secret is the only copy; dropping it makes future
	// derivations impossible even inside this process.
	o.secrets.Delete(pairID.String())

	o.appendEvent(ctx, pairID, model.EventRevoke, compromisedDeviceID, true, reason)
	o.log.Info("pair revoked",
		zap.String("pair_id", pairID.String()),
		zap.String("reason", reason),
	)

	return RevocationResult{
		Success:         true,
		RevokedAt:       now,
		Reason:          reason,
		AffectedDevices: []uuid.UUID{pair.DeviceAID, pair.DeviceBID},
	}, nil
}

// ResolveAnomaly marks an anomaly resolved. Operator action only.
func (o *Orchestrator) ResolveAnomaly(ctx context.Context, anomalyID uuid.UUID) error {
	if err := o.stores.Anomalies.Resolve(ctx, anomalyID, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAnomalyNotFound
		}
		return fmt.Errorf("resolve anomaly: %w", err)
	}
	return nil
}

// AuditTrail returns the most recent audit trail entries for a pair, newest
// first.
func (o *Orchestrator) AuditTrail(ctx context.Context, pairID uuid.UUID, limit int) ([]AuditEntry, error) {
	if _, err := o.stores.Pairs.Get(ctx, pairID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPairNotFound
		}
		return nil, fmt.Errorf("load pair: %w", err)
	}

	events, err := o.stores.Events.ListByPair(ctx, pairID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	entries := make([]AuditEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, AuditEntry{
			ID:                e.ID,
			EventType:         e.EventType,
			InitiatedByDevice: e.InitiatedByDevice,
			Success:           e.Success,
			Details:           e.Details,
			CreatedAt:         e.CreatedAt,
		})
	}
	return entries, nil
}

// EntropyHistory returns recent entropy measurements for trend analysis,
// newest first. Only scores and health flags are exposed; histograms stay
// server-side.
func (o *Orchestrator) EntropyHistory(ctx context.Context, pairID uuid.UUID, limit int) ([]EntropyTrendPoint, error) {
	if _, err := o.stores.Pairs.Get(ctx, pairID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPairNotFound
		}
		return nil, fmt.Errorf("load pair: %w", err)
	}

	measurements, err := o.stores.Entropy.ListRecent(ctx, pairID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entropy measurements: %w", err)
	}

	points := make([]EntropyTrendPoint, 0, len(measurements))
	for _, m := range measurements {
		points = append(points, EntropyTrendPoint{
			DeviceID:   m.DeviceID,
			Entropy:    m.Entropy,
			IsWarning:  m.IsWarning,
			IsCritical: m.IsCritical,
			MeasuredAt: m.MeasuredAt,
		})
	}
	return points, nil
}

// OpenAnomalies lists unresolved anomalies for a pair.
func (o *Orchestrator) OpenAnomalies(ctx context.Context, pairID uuid.UUID) ([]model.AnomalyEvent, error) {
	anomalies, err := o.stores.Anomalies.ListOpen(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return anomalies, nil
}

// checkPairForDevice runs the shared advisory preconditions. A nil result
// with nil error means the pair is active and the device belongs to it.
func (o *Orchestrator) checkPairForDevice(ctx context.Context, pairID, deviceID uuid.UUID, now time.Time) (model.EntangledPair, *SyncResult, error) {
	pair, err := o.stores.Pairs.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			res := advisoryFailure(now, ErrPairNotFound)
			return model.EntangledPair{}, &res, nil
		}
		return model.EntangledPair{}, nil, fmt.Errorf("load pair: %w", err)
	}

	switch {
	case pair.Status == model.PairStatusRevoked:
		res := advisoryFailure(now, ErrPairRevoked)
		return pair, &res, nil
	case pair.Status != model.PairStatusActive:
		res := advisoryFailure(now, fmt.Errorf("pair is %s, not active", pair.Status))
		return pair, &res, nil
	case !pair.HasDevice(deviceID):
		res := advisoryFailure(now, ErrDeviceMismatch)
		return pair, &res, nil
	}
	return pair, nil, nil
}

func (o *Orchestrator) statusFor(ctx context.Context, pair model.EntangledPair) (PairStatus, error) {
	status := PairStatus{
		PairID:            pair.ID,
		Status:            pair.Status,
		CurrentGeneration: pair.Generation,
		EntropyHealth:     entropy.HealthHealthy,
	}

	if poolRec, err := o.stores.Pools.Get(ctx, pair.ID); err == nil {
		status.CurrentGeneration = poolRec.Generation
		status.EntropyScore = poolRec.Entropy
		status.EntropyHealth = o.monitor.ClassifyEntropy(poolRec.Entropy)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return PairStatus{}, fmt.Errorf("load pool record: %w", err)
	}

	lastSync, err := o.stores.Events.LastTimestamp(ctx, pair.ID, []string{model.EventSync, model.EventRotate, model.EventPairingComplete})
	if err != nil {
		return PairStatus{}, err
	}
	status.LastSyncAt = lastSync
	return status, nil
}

// derivePoolRecord derives one generation's pool, measures it, and returns
// the persistable record plus the sample. The pool itself is destroyed
// before returning; the caller zeroizes the sample when done.
func (o *Orchestrator) derivePoolRecord(sharedSecret []byte, pairID uuid.UUID, generation uint64, now time.Time) (model.RandomnessPool, []byte, error) {
	p, err := pool.Derive(sharedSecret, pairID, generation)
	if err != nil {
		return model.RandomnessPool{}, nil, fmt.Errorf("derive pool: %w", err)
	}
	defer p.Destroy()

	sample, err := p.Sample(o.cfg.SampleSize)
	if err != nil {
		return model.RandomnessPool{}, nil, fmt.Errorf("sample pool: %w", err)
	}

	return model.RandomnessPool{
		PairID:          pairID,
		Generation:      generation,
		Fingerprint:     p.Fingerprint(),
		Entropy:         entropy.ShannonEntropy(sample),
		LastRefreshedAt: now,
	}, sample, nil
}

// measurementFor picks the entropy source for a sync: the device's own
// submission when present, the server-side derivation when the secret is
// still cached, and the stored pool entropy as a last resort.
func (o *Orchestrator) measurementFor(pair model.EntangledPair, poolRec model.RandomnessPool, submitted *Submission) (float64, []uint64) {
	if submitted != nil && len(submitted.Histogram) > 0 {
		return submitted.Entropy, submitted.Histogram
	}

	if sharedSecret, ok := o.secrets.Get(pair.ID.String()); ok {
		defer pool.Zeroize(sharedSecret)
		if rec, sample, err := o.derivePoolRecord(sharedSecret, pair.ID, poolRec.Generation, poolRec.LastRefreshedAt); err == nil {
			hist := entropy.Histogram(sample)
			pool.Zeroize(sample)
			return rec.Entropy, hist
		}
	}
	return poolRec.Entropy, nil
}

func (o *Orchestrator) latestMeasurement(ctx context.Context, pair model.EntangledPair, deviceID uuid.UUID) (float64, []uint64) {
	m, err := o.stores.Entropy.LatestForDevice(ctx, pair.ID, deviceID)
	if err == nil {
		return m.Entropy, m.Histogram
	}

	// No submission yet: fall back to the server-side derivation.
	if sharedSecret, ok := o.secrets.Get(pair.ID.String()); ok {
		defer pool.Zeroize(sharedSecret)
		if rec, sample, err := o.derivePoolRecord(sharedSecret, pair.ID, pair.Generation, time.Now().UTC()); err == nil {
			hist := entropy.Histogram(sample)
			pool.Zeroize(sample)
			return rec.Entropy, hist
		}
	}

	if poolRec, err := o.stores.Pools.Get(ctx, pair.ID); err == nil {
		return poolRec.Entropy, nil
	}
	return 0, nil
}

func (o *Orchestrator) recordMeasurement(ctx context.Context, pairID, deviceID uuid.UUID, ent float64, hist []uint64, at time.Time) {
	health := o.monitor.ClassifyEntropy(ent)
	m := model.EntropyMeasurement{
		ID:         uuid.New(),
		PairID:     pairID,
		DeviceID:   deviceID,
		Entropy:    ent,
		Histogram:  hist,
		IsWarning:  health == entropy.HealthWarning,
		IsCritical: health == entropy.HealthCritical,
		MeasuredAt: at,
	}
	if err := o.stores.Entropy.Record(ctx, m); err != nil {
		o.log.Warn("record entropy measurement failed", zap.Error(err))
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, pairID uuid.UUID, eventType string, deviceID uuid.UUID, success bool, details string) {
	e := model.SyncEvent{
		ID:                uuid.New(),
		PairID:            pairID,
		EventType:         eventType,
		InitiatedByDevice: deviceID,
		Success:           success,
		Details:           details,
		CreatedAt:         time.Now().UTC(),
	}
	if err := o.stores.Events.Append(ctx, e); err != nil {
		o.log.Warn("append audit event failed", zap.Error(err))
	}
}

func advisoryFailure(at time.Time, err error) SyncResult {
	return SyncResult{
		Success:       false,
		SyncTimestamp: at,
		Err:           err,
		ErrorMessage:  err.Error(),
	}
}

func suspectDevice(pair model.EntangledPair, entA, entB float64) *uuid.UUID {
	if entA == entB {
		return nil
	}
	id := pair.DeviceAID
	if entB < entA {
		id = pair.DeviceBID
	}
	return &id
}

// generateVerificationCode returns a uniformly random 6-digit code.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// hashCode returns SHA-256(session:code:salt); only this hash is stored.
func hashCode(sessionID uuid.UUID, code, salt string) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", sessionID, code, salt)))
	return sum[:]
}
