package pool

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	ss := make([]byte, 32)
	_, err := rand.Read(ss)
	require.NoError(t, err)
	return ss
}

func TestDeriveIsDeterministic(t *testing.T) {
	ss := randomSecret(t)
	pairID := uuid.New()

	p1, err := Derive(ss, pairID, 0)
	require.NoError(t, err)
	p2, err := Derive(ss, pairID, 0)
	require.NoError(t, err)

	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint(),
		"same secret, pair and generation must derive the same pool")

	s1, err := p1.Sample(1024)
	require.NoError(t, err)
	s2, err := p2.Sample(1024)
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "samples of the same pool must be bit-identical")
}

func TestDeriveGenerationsAreIndependent(t *testing.T) {
	ss := randomSecret(t)
	pairID := uuid.New()

	seen := make(map[string]uint64)
	for g := uint64(0); g < 5; g++ {
		p, err := Derive(ss, pairID, g)
		require.NoError(t, err)
		fp := p.Fingerprint()
		prev, dup := seen[fp]
		require.False(t, dup, "generation %d repeats generation %d fingerprint", g, prev)
		seen[fp] = g
	}
}

func TestDeriveScopedToPair(t *testing.T) {
	ss := randomSecret(t)

	p1, err := Derive(ss, uuid.New(), 0)
	require.NoError(t, err)
	p2, err := Derive(ss, uuid.New(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, p1.Fingerprint(), p2.Fingerprint())
}

func TestDeriveRejectsEmptySecret(t *testing.T) {
	_, err := Derive(nil, uuid.New(), 0)
	assert.Error(t, err)
}

func TestDestroyZeroizesSeed(t *testing.T) {
	p, err := Derive(randomSecret(t), uuid.New(), 0)
	require.NoError(t, err)

	seed := p.seed
	p.Destroy()
	assert.Nil(t, p.seed)
	for i, b := range seed {
		require.Zero(t, b, "seed byte %d not zeroized", i)
	}
}

func TestSecretCachePutGetDelete(t *testing.T) {
	c := NewSecretCache(4, 0)
	secret := []byte{1, 2, 3, 4}

	c.Put("pair-1", secret)
	got, ok := c.Get("pair-1")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	// Returned copy is independent of the cached one.
	got[0] = 99
	again, ok := c.Get("pair-1")
	require.True(t, ok)
	assert.Equal(t, byte(1), again[0])

	c.Delete("pair-1")
	_, ok = c.Get("pair-1")
	assert.False(t, ok)
}

func TestSecretCacheCapacityEvictsOldest(t *testing.T) {
	c := NewSecretCache(2, 0)
	c.Put("a", []byte{1})
	c.Put("b", []byte{2})
	c.Put("c", []byte{3})

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry must be evicted at capacity")
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestSecretCacheTTL(t *testing.T) {
	c := NewSecretCache(4, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("a", []byte{1})
	_, ok := c.Get("a")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry must not be returned")
	assert.Equal(t, 0, c.Len())
}
