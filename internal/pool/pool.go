// Package pool derives generation-indexed shared randomness pools from a KEM
// shared secret. Each generation is derived from the original shared secret
// with a generation-scoped info string, never chained from the previous
// generation, so compromise of one generation's material derives nothing
// about any other.
package pool

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	// SeedSize is the pool seed length in bytes.
	SeedSize = 64

	// DefaultSampleSize is how much material Sample expands for entropy
	// analysis. Large enough that two honest samples of the same seed show
	// near-zero divergence against the configured KL thresholds.
	DefaultSampleSize = 64 * 1024
)

// Pool holds one generation's seed transiently in memory. The seed is never
// serialized; callers see only the fingerprint and expanded samples. Destroy
// must be called once derivation use is done.
type Pool struct {
	pairID     uuid.UUID
	generation uint64
	seed       []byte
}

// Derive computes the pool seed for (pairID, generation) from the original
// KEM shared secret: HKDF-SHA-512 with info "pair:<id>:gen:<g>".
func Derive(sharedSecret []byte, pairID uuid.UUID, generation uint64) (*Pool, error) {
	if len(sharedSecret) == 0 {
		return nil, fmt.Errorf("derive pool: empty shared secret")
	}

	info := fmt.Sprintf("pair:%s:gen:%d", pairID, generation)
	r := hkdf.New(sha512.New, sharedSecret, nil, []byte(info))

	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive pool seed: %w", err)
	}

	return &Pool{pairID: pairID, generation: generation, seed: seed}, nil
}

// Generation returns the pool's generation index.
func (p *Pool) Generation() uint64 { return p.generation }

// Fingerprint returns the hex SHA-256 of the seed, the only form of the pool
// that is ever persisted, logged, or returned to callers.
func (p *Pool) Fingerprint() string {
	sum := sha256.Sum256(p.seed)
	return hex.EncodeToString(sum[:])
}

// hkdfMaxOutput is the HKDF output ceiling for SHA-512 (255 blocks).
const hkdfMaxOutput = 255 * sha512.Size

// Sample expands n bytes of pool material for entropy analysis. Expansion
// runs in counter-scoped HKDF blocks because a single HKDF invocation caps
// out at 255 hash blocks. Both devices of a healthy pair produce
// bit-identical samples for the same generation.
func (p *Pool) Sample(n int) ([]byte, error) {
	out := make([]byte, n)
	buf := out
	for block := 0; len(buf) > 0; block++ {
		info := fmt.Sprintf("pool:sample:v1:%d", block)
		r := hkdf.New(sha512.New, p.seed, nil, []byte(info))
		chunk := len(buf)
		if chunk > hkdfMaxOutput {
			chunk = hkdfMaxOutput
		}
		if _, err := io.ReadFull(r, buf[:chunk]); err != nil {
			return nil, fmt.Errorf("expand pool sample: %w", err)
		}
		buf = buf[chunk:]
	}
	return out, nil
}

// Destroy zeroizes the seed. The pool is unusable afterwards.
func (p *Pool) Destroy() {
	Zeroize(p.seed)
	p.seed = nil
}

// Zeroize overwrites b in place. Best-effort key hygiene for transient
// secrets that must not outlive their derivation use.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
