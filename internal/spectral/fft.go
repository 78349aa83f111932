// Package spectral extracts FFT-derived timing features from
// inter-request interval series, shared by the spectral detector (C3)
// and the clustering service's cross-correlation boost (C9).
//
// No FFT library appears anywhere in the retrieval pack (bigfft is
// big-integer multiplication, not complex-signal FFT), so this package
// is built on the standard library's math/cmplx — documented in
// DESIGN.md as a deliberate stdlib exception.
package spectral

import (
	"math"
	"math/cmplx"
)

// MinIntervals is the minimum number of inter-request intervals needed
// before spectral features are considered meaningful (spec §3).
const MinIntervals = 8

// Features holds the spectral feature set from spec §3.
type Features struct {
	DominantFrequency  float64 `json:"dominant_frequency"`
	SpectralEntropy    float64 `json:"spectral_entropy"`
	HarmonicRatio      float64 `json:"harmonic_ratio"`
	SpectralCentroid   float64 `json:"spectral_centroid"`
	PeakToAvgRatio     float64 `json:"peak_to_avg_ratio"`
	HasSufficientData  bool    `json:"has_sufficient_data"`
}

// Neutral returns the neutral feature set returned when there isn't
// enough data to extract a meaningful signal.
func Neutral() Features {
	return Features{
		DominantFrequency: 0.5,
		SpectralEntropy:   0.5,
		HarmonicRatio:     0.5,
		SpectralCentroid:  0.5,
		PeakToAvgRatio:    0.5,
		HasSufficientData: false,
	}
}

// nextPow2 rounds n up to the next power of two, with a floor of 1.
func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	if p == 0 {
		p = 1
	}
	return p
}

// dft computes the discrete Fourier transform of real-valued input x at
// its given length (callers zero-pad to the next power of two before
// calling). It is a direct O(n^2)
// implementation (interval series in this system are small — well under
// a few hundred samples per signature window — so the simplicity of a
// direct DFT is preferred over a recursive radix-2 FFT).
func dft(x []float64) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := 0; k < n; k++ {
		var sum complex128
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += complex(x[t], 0) * cmplx.Exp(complex(0, angle))
		}
		out[k] = sum
	}
	return out
}

// Extract computes spectral features over a series of inter-request
// intervals (seconds). Fewer than MinIntervals samples yields the
// neutral feature set with HasSufficientData=false (spec §3, §8
// boundary behavior).
func Extract(intervals []float64) Features {
	if len(intervals) < MinIntervals {
		return Neutral()
	}

	n := nextPow2(len(intervals))
	padded := make([]float64, n)
	copy(padded, intervals)

	spectrum := dft(padded)
	half := n / 2
	mags := make([]float64, half)
	var total, maxMag float64
	maxIdx := 0
	for i := 0; i < half; i++ {
		m := cmplx.Abs(spectrum[i])
		mags[i] = m
		total += m
		if m > maxMag {
			maxMag = m
			maxIdx = i
		}
	}
	if total == 0 || half == 0 {
		return Neutral()
	}

	dominantFreq := float64(maxIdx) / float64(half)

	// Shannon entropy of the normalized power spectrum, scaled to [0,1].
	var entropy float64
	for _, m := range mags {
		if m <= 0 {
			continue
		}
		p := m / total
		entropy -= p * log2(p)
	}
	maxEntropy := log2(float64(half))
	normEntropy := 0.0
	if maxEntropy > 0 {
		normEntropy = entropy / maxEntropy
	}

	// Harmonic ratio: energy at integer multiples of the dominant bin
	// vs. total energy.
	var harmonicEnergy float64
	if maxIdx > 0 {
		for h := maxIdx; h < half; h += maxIdx {
			harmonicEnergy += mags[h]
		}
	} else {
		harmonicEnergy = mags[0]
	}
	harmonicRatio := clamp01(harmonicEnergy / total)

	// Spectral centroid: energy-weighted mean frequency, normalized.
	var weighted float64
	for i, m := range mags {
		weighted += float64(i) * m
	}
	centroid := clamp01((weighted / total) / float64(half))

	avgMag := total / float64(half)
	peakToAvg := 0.0
	if avgMag > 0 {
		peakToAvg = clamp01(maxMag / avgMag / float64(half))
	}

	return Features{
		DominantFrequency: clamp01(dominantFreq),
		SpectralEntropy:   clamp01(normEntropy),
		HarmonicRatio:     harmonicRatio,
		SpectralCentroid:  centroid,
		PeakToAvgRatio:    peakToAvg,
		HasSufficientData: true,
	}
}

// CrossCorrelation computes the normalized cross-correlation between
// two interval series via FFT(zero-padded) -> multiply by conjugate ->
// inverse FFT -> max magnitude, normalized by the product of norms
// (spec §4.9 step 4).
func CrossCorrelation(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := nextPow2(len(a) + len(b))
	pa := make([]float64, n)
	pb := make([]float64, n)
	copy(pa, a)
	copy(pb, b)

	fa := dft(pa)
	fb := dft(pb)
	prod := make([]complex128, n)
	for i := range prod {
		prod[i] = fa[i] * cmplx.Conj(fb[i])
	}
	inv := idft(prod)

	var maxMag float64
	for _, c := range inv {
		if m := cmplx.Abs(c); m > maxMag {
			maxMag = m
		}
	}

	normA := l2Norm(a)
	normB := l2Norm(b)
	denom := normA * normB
	if denom == 0 {
		return 0
	}
	return clamp01(maxMag / denom)
}

func idft(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for t := 0; t < n; t++ {
		var sum complex128
		for k := 0; k < n; k++ {
			angle := 2 * math.Pi * float64(k) * float64(t) / float64(n)
			sum += x[k] * cmplx.Exp(complex(0, angle))
		}
		out[t] = sum / complex(float64(n), 0)
	}
	return out
}

func l2Norm(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func log2(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log2(x)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
