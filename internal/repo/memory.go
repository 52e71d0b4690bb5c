package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// In-memory repository implementations for development mode and tests. They
// honor the same contracts as the Postgres implementations, including
// ErrNotFound semantics, so the orchestrator cannot tell them apart.

// MemorySessionRepo is an in-memory SessionRepo.
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.PairingSession
}

// NewMemorySessionRepo creates an empty in-memory session store.
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[uuid.UUID]model.PairingSession)}
}

func (r *MemorySessionRepo) Create(_ context.Context, s model.PairingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemorySessionRepo) Get(_ context.Context, id uuid.UUID) (model.PairingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.PairingSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemorySessionRepo) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, ErrNotFound
	}
	now := time.Now().UTC()
	s.AttemptCount++
	s.LastAttemptAt = &now
	r.sessions[id] = s
	return s.AttemptCount, nil
}

func (r *MemorySessionRepo) MarkConsumed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.ConsumedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	s.ConsumedAt = &now
	r.sessions[id] = s
	return nil
}

func (r *MemorySessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryPairRepo is an in-memory PairRepo.
type MemoryPairRepo struct {
	mu    sync.Mutex
	pairs map[uuid.UUID]model.EntangledPair
}

// NewMemoryPairRepo creates an empty in-memory pair store.
func NewMemoryPairRepo() *MemoryPairRepo {
	return &MemoryPairRepo{pairs: make(map[uuid.UUID]model.EntangledPair)}
}

func (r *MemoryPairRepo) Create(_ context.Context, p model.EntangledPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[p.ID] = p
	return nil
}

func (r *MemoryPairRepo) Get(_ context.Context, id uuid.UUID) (model.EntangledPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[id]
	if !ok {
		return model.EntangledPair{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryPairRepo) CountActiveForUser(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, p := range r.pairs {
		if p.UserID == userID && p.Status == model.PairStatusActive {
			count++
		}
	}
	return count, nil
}

func (r *MemoryPairRepo) ActiveExistsForDevices(_ context.Context, deviceA, deviceB uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pairs {
		if p.Status != model.PairStatusActive {
			continue
		}
		if (p.DeviceAID == deviceA && p.DeviceBID == deviceB) ||
			(p.DeviceAID == deviceB && p.DeviceBID == deviceA) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryPairRepo) IncrementGeneration(_ context.Context, id uuid.UUID) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[id]
	if !ok || p.Status != model.PairStatusActive {
		return 0, ErrNotFound
	}
	p.Generation++
	r.pairs[id] = p
	return p.Generation, nil
}

func (r *MemoryPairRepo) Revoke(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[id]
	if !ok || p.Status != model.PairStatusActive {
		return ErrNotFound
	}
	p.Status = model.PairStatusRevoked
	p.RevokedAt = &at
	p.RevocationReason = &reason
	r.pairs[id] = p
	return nil
}

func (r *MemoryPairRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.EntangledPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EntangledPair
	for _, p := range r.pairs {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MemoryPoolRepo is an in-memory PoolRepo.
type MemoryPoolRepo struct {
	mu    sync.Mutex
	pools map[uuid.UUID]model.RandomnessPool
}

// NewMemoryPoolRepo creates an empty in-memory pool store.
func NewMemoryPoolRepo() *MemoryPoolRepo {
	return &MemoryPoolRepo{pools: make(map[uuid.UUID]model.RandomnessPool)}
}

func (r *MemoryPoolRepo) Upsert(_ context.Context, p model.RandomnessPool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[p.PairID] = p
	return nil
}

func (r *MemoryPoolRepo) Get(_ context.Context, pairID uuid.UUID) (model.RandomnessPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pairID]
	if !ok {
		return model.RandomnessPool{}, ErrNotFound
	}
	return p, nil
}

// MemoryEventRepo is an in-memory EventRepo.
type MemoryEventRepo struct {
	mu     sync.Mutex
	events []model.SyncEvent
}

// NewMemoryEventRepo creates an empty in-memory event store.
func NewMemoryEventRepo() *MemoryEventRepo {
	return &MemoryEventRepo{}
}

func (r *MemoryEventRepo) Append(_ context.Context, e model.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryEventRepo) ListByPair(_ context.Context, pairID uuid.UUID, limit int) ([]model.SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SyncEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].PairID == pairID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

func (r *MemoryEventRepo) LastTimestamp(_ context.Context, pairID uuid.UUID, eventTypes []string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.PairID != pairID || !e.Success {
			continue
		}
		for _, t := range eventTypes {
			if e.EventType == t {
				ts := e.CreatedAt
				return &ts, nil
			}
		}
	}
	return nil, nil
}

// MemoryEntropyRepo is an in-memory EntropyRepo.
type MemoryEntropyRepo struct {
	mu           sync.Mutex
	measurements []model.EntropyMeasurement
}

// NewMemoryEntropyRepo creates an empty in-memory entropy store.
func NewMemoryEntropyRepo() *MemoryEntropyRepo {
	return &MemoryEntropyRepo{}
}

func (r *MemoryEntropyRepo) Record(_ context.Context, m model.EntropyMeasurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measurements = append(r.measurements, m)
	return nil
}

func (r *MemoryEntropyRepo) LatestForDevice(_ context.Context, pairID, deviceID uuid.UUID) (model.EntropyMeasurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.measurements) - 1; i >= 0; i-- {
		m := r.measurements[i]
		if m.PairID == pairID && m.DeviceID == deviceID {
			return m, nil
		}
	}
	return model.EntropyMeasurement{}, ErrNotFound
}

func (r *MemoryEntropyRepo) ListRecent(_ context.Context, pairID uuid.UUID, limit int) ([]model.EntropyMeasurement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EntropyMeasurement
	for i := len(r.measurements) - 1; i >= 0 && len(out) < limit; i-- {
		if r.measurements[i].PairID == pairID {
			out = append(out, r.measurements[i])
		}
	}
	return out, nil
}

// MemoryAnomalyRepo is an in-memory AnomalyRepo.
type MemoryAnomalyRepo struct {
	mu        sync.Mutex
	anomalies map[uuid.UUID]model.AnomalyEvent
	order     []uuid.UUID
}

// NewMemoryAnomalyRepo creates an empty in-memory anomaly store.
func NewMemoryAnomalyRepo() *MemoryAnomalyRepo {
	return &MemoryAnomalyRepo{anomalies: make(map[uuid.UUID]model.AnomalyEvent)}
}

func (r *MemoryAnomalyRepo) Create(_ context.Context, a model.AnomalyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies[a.ID] = a
	r.order = append(r.order, a.ID)
	return nil
}

func (r *MemoryAnomalyRepo) Resolve(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.anomalies[id]
	if !ok || a.Resolved {
		return ErrNotFound
	}
	a.Resolved = true
	a.ResolvedAt = &at
	r.anomalies[id] = a
	return nil
}

func (r *MemoryAnomalyRepo) ListOpen(_ context.Context, pairID uuid.UUID) ([]model.AnomalyEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.AnomalyEvent
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.anomalies[r.order[i]]
		if a.PairID == pairID && !a.Resolved {
			out = append(out, a)
		}
	}
	return out, nil
}

// MemoryDeviceRepo is an in-memory DeviceRepo.
type MemoryDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]model.Device
}

// NewMemoryDeviceRepo creates an empty in-memory device store.
func NewMemoryDeviceRepo() *MemoryDeviceRepo {
	return &MemoryDeviceRepo{devices: make(map[uuid.UUID]model.Device)}
}

func (r *MemoryDeviceRepo) Get(_ context.Context, id uuid.UUID) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}

func (r *MemoryDeviceRepo) Create(_ context.Context, d model.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d
	return nil
}
