package entropy

import (
	"crypto/rand"
	"testing"

	"github.com/entanglekey/server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// skewedBytes returns n bytes where 90% are a single value and the rest are
// uniform, modeling a corrupted or tampered pool.
func skewedBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := randomBytes(t, n)
	for i := 0; i < n*9/10; i++ {
		b[i] = 0x41
	}
	return b
}

func TestShannonEntropyRandom(t *testing.T) {
	e := ShannonEntropy(randomBytes(t, 100_000))
	assert.Greater(t, e, 7.9, "100k random bytes must be close to 8 bits/byte")
	assert.LessOrEqual(t, e, 8.0)
}

func TestShannonEntropyConstant(t *testing.T) {
	assert.Equal(t, 0.0, ShannonEntropy(make([]byte, 10_000)))
	assert.Equal(t, 0.0, ShannonEntropy(nil))
}

func TestShannonEntropyTwoValues(t *testing.T) {
	b := make([]byte, 10_000)
	for i := range b {
		if i%2 == 0 {
			b[i] = 0xff
		}
	}
	assert.InDelta(t, 1.0, ShannonEntropy(b), 0.001, "two equiprobable values carry 1 bit/byte")
}

func TestKLDivergenceIdentical(t *testing.T) {
	h := Histogram(randomBytes(t, 100_000))
	assert.Equal(t, 0.0, KLDivergence(h, h))
}

func TestKLDivergenceSameDistribution(t *testing.T) {
	p := Histogram(randomBytes(t, 100_000))
	q := Histogram(randomBytes(t, 100_000))

	kl := KLDivergence(p, q)
	assert.Less(t, kl, DefaultThresholds().KLLow,
		"two samples of the same distribution must stay below the anomaly threshold")
}

func TestKLDivergenceSkewed(t *testing.T) {
	p := Histogram(randomBytes(t, 100_000))
	q := Histogram(skewedBytes(t, 100_000))

	kl := KLDivergence(p, q)
	assert.Greater(t, kl, DefaultThresholds().KLHigh,
		"uniform vs mostly-single-value must exceed the high threshold")
}

func TestKLDivergenceEmptyBins(t *testing.T) {
	p := make([]uint64, Bins)
	q := make([]uint64, Bins)
	p[0] = 100
	q[255] = 100

	kl := KLDivergence(p, q)
	assert.False(t, kl != kl, "smoothing must prevent NaN") // NaN check
	assert.Greater(t, kl, 0.0)
}

func TestClassifyEntropy(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	assert.Equal(t, HealthHealthy, m.ClassifyEntropy(7.99))
	assert.Equal(t, HealthHealthy, m.ClassifyEntropy(7.5))
	assert.Equal(t, HealthWarning, m.ClassifyEntropy(7.0))
	assert.Equal(t, HealthCritical, m.ClassifyEntropy(6.49))
	assert.Equal(t, HealthCritical, m.ClassifyEntropy(0))
}

func TestAssessHealthy(t *testing.T) {
	m := NewMonitor(DefaultThresholds())
	report := m.Assess(7.99, 7.98, 0.001)

	assert.False(t, report.HasAnomaly)
	assert.Empty(t, report.AnomalyType)
	assert.Equal(t, "no action required", report.Recommendation)
}

func TestAssessDivergenceSpike(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	low := m.Assess(7.9, 7.9, 0.03)
	assert.True(t, low.HasAnomaly)
	assert.Equal(t, model.AnomalyDivergenceSpike, low.AnomalyType)
	assert.Equal(t, model.SeverityLow, low.Severity)

	mid := m.Assess(7.9, 7.9, 0.08)
	assert.Equal(t, model.SeverityMedium, mid.Severity)

	high := m.Assess(7.9, 7.9, 0.5)
	assert.Equal(t, model.SeverityHigh, high.Severity)
	assert.Contains(t, high.Recommendation, "revoke")

	critical := m.Assess(7.9, 5.0, 0.5)
	assert.Equal(t, model.SeverityCritical, critical.Severity)
}

func TestAssessEntropyDegradation(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	warn := m.Assess(7.9, 7.0, 0.001)
	assert.True(t, warn.HasAnomaly)
	assert.Equal(t, model.AnomalyEntropyDegradation, warn.AnomalyType)
	assert.Equal(t, model.SeverityLow, warn.Severity)

	crit := m.Assess(7.9, 6.0, 0.001)
	assert.Equal(t, model.SeverityCritical, crit.Severity)
	assert.Contains(t, crit.Recommendation, "revoke")
}

func TestAssessEndToEndWithSamples(t *testing.T) {
	m := NewMonitor(DefaultThresholds())

	a := randomBytes(t, 100_000)
	b := skewedBytes(t, 100_000)

	report := m.Assess(ShannonEntropy(a), ShannonEntropy(b), KLDivergence(Histogram(a), Histogram(b)))
	assert.True(t, report.HasAnomaly)
	assert.Equal(t, model.AnomalyDivergenceSpike, report.AnomalyType)
}
