// Package entropy measures the statistical health of shared randomness pools
// and detects divergence between the two devices of a pair. Because a healthy
// pair independently derives bit-identical pool material, the two devices'
// byte distributions should show near-zero KL divergence; a genuine rise is
// evidence the devices have actually diverged, not noise from comparing two
// random sources.
package entropy

import "math"

// Bins is the number of histogram bins, one per byte value.
const Bins = 256

// smoothing is the additive (Laplace) constant applied to every bin before
// normalizing, so empty bins never divide by zero.
const smoothing = 1e-6

// Histogram counts byte values in data into 256 bins.
func Histogram(data []byte) []uint64 {
	h := make([]uint64, Bins)
	for _, b := range data {
		h[b]++
	}
	return h
}

// ShannonEntropy returns the entropy of data in bits per byte: 0.0 for
// constant input, approaching 8.0 for uniformly random input of sufficient
// length.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	h := Histogram(data)
	total := float64(len(data))

	var e float64
	for _, count := range h {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		e -= p * math.Log2(p)
	}
	return e
}

// KLDivergence computes D(p || q) in bits over two byte-value histograms,
// with additive smoothing on both distributions. Identical histograms yield
// exactly zero.
func KLDivergence(p, q []uint64) float64 {
	pp := normalize(p)
	qq := normalize(q)

	var d float64
	for i := 0; i < Bins; i++ {
		d += pp[i] * math.Log2(pp[i]/qq[i])
	}
	if d < 0 {
		// Smoothing can leave a tiny negative residue.
		return 0
	}
	return d
}

func normalize(h []uint64) []float64 {
	var total float64
	for i := 0; i < Bins && i < len(h); i++ {
		total += float64(h[i])
	}
	denom := total + Bins*smoothing

	out := make([]float64, Bins)
	for i := 0; i < Bins; i++ {
		var c float64
		if i < len(h) {
			c = float64(h[i])
		}
		out[i] = (c + smoothing) / denom
	}
	return out
}
