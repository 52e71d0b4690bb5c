package entropy

import (
	"math"

	"github.com/entanglekey/server/internal/model"
)

// Entropy health classifications.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Thresholds configures the monitor.
type Thresholds struct {
	// EntropyWarning is the bits-per-byte floor below which a pool sample
	// is classified warning.
	EntropyWarning float64
	// EntropyCritical is the floor below which it is classified critical.
	EntropyCritical float64
	// KLLow is the divergence above which an anomaly is reported.
	KLLow float64
	// KLHigh is the divergence above which the anomaly is high/critical.
	KLHigh float64
}

// DefaultThresholds returns the standard operating thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EntropyWarning:  7.5,
		EntropyCritical: 6.5,
		KLLow:           0.02,
		KLHigh:          0.1,
	}
}

// AnomalyReport is the structured result of an eavesdropping check. Finding
// an anomaly is a normal, successful outcome, not an error.
type AnomalyReport struct {
	HasAnomaly     bool    `json:"has_anomaly"`
	AnomalyType    string  `json:"anomaly_type,omitempty"`
	Severity       string  `json:"severity,omitempty"`
	KLDivergence   float64 `json:"kl_divergence"`
	EntropyA       float64 `json:"entropy_a"`
	EntropyB       float64 `json:"entropy_b"`
	Recommendation string  `json:"recommendation"`
}

// Monitor classifies entropy measurements and assesses divergence between
// the two devices of a pair.
type Monitor struct {
	t Thresholds
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(t Thresholds) *Monitor {
	return &Monitor{t: t}
}

// ClassifyEntropy maps a bits-per-byte value to a health classification.
func (m *Monitor) ClassifyEntropy(e float64) string {
	switch {
	case e < m.t.EntropyCritical:
		return HealthCritical
	case e < m.t.EntropyWarning:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// Assess combines both devices' entropies and their mutual divergence into a
// report. Divergence dominates: a KL spike means the devices no longer hold
// the same material, which the derivation scheme makes impossible without
// tampering or corruption.
func (m *Monitor) Assess(entropyA, entropyB, kl float64) AnomalyReport {
	report := AnomalyReport{
		KLDivergence:   kl,
		EntropyA:       entropyA,
		EntropyB:       entropyB,
		Recommendation: "no action required",
	}

	minEntropy := math.Min(entropyA, entropyB)

	switch {
	case kl >= m.t.KLLow:
		report.HasAnomaly = true
		report.AnomalyType = model.AnomalyDivergenceSpike
		report.Severity = m.divergenceSeverity(kl, minEntropy)
	case minEntropy < m.t.EntropyWarning:
		report.HasAnomaly = true
		report.AnomalyType = model.AnomalyEntropyDegradation
		if minEntropy < m.t.EntropyCritical {
			report.Severity = model.SeverityCritical
		} else {
			report.Severity = model.SeverityLow
		}
	}

	switch report.Severity {
	case model.SeverityLow, model.SeverityMedium:
		report.Recommendation = "rotate entangled keys and re-measure"
	case model.SeverityHigh, model.SeverityCritical:
		report.Recommendation = "revoke the pair immediately and re-establish trust"
	}
	return report
}

func (m *Monitor) divergenceSeverity(kl, minEntropy float64) string {
	if kl > m.t.KLHigh {
		if minEntropy < m.t.EntropyCritical {
			return model.SeverityCritical
		}
		return model.SeverityHigh
	}
	if kl >= (m.t.KLLow+m.t.KLHigh)/2 {
		return model.SeverityMedium
	}
	return model.SeverityLow
}
