package detect

import (
	"context"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
	"github.com/scottgal/stylobot-sub004/internal/spectral"
)

// IntervalSource supplies the raw inter-request interval series for a
// signature, as tracked by the signature coordinator (C7).
type IntervalSource interface {
	Intervals(sig string) []float64
}

// SpectralDetector contributes FFT-derived timing features over a
// signature's inter-request intervals (spec §4.3 "Spectral"). It triggers
// only once the blackboard already has a signature key (written by the
// behavioral detector in an earlier stage).
func SpectralDetector(src IntervalSource) Detector {
	return Func{
		DetectorName:  "spectral",
		DetectorStage: 2,
		DetectorTrig: func(bb *blackboard.Blackboard) bool {
			_, ok := bb.GetString("signature.key")
			return ok
		},
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			sig, _ := bb.GetString("signature.key")
			intervals := src.Intervals(sig)

			features := spectral.Neutral()
			if len(intervals) >= spectral.MinIntervals {
				features = spectral.Extract(intervals)
			}

			bb.Set("spectral.has_sufficient_data", blackboard.BoolValue(features.HasSufficientData))
			bb.Set("spectral.dominant_frequency", blackboard.FloatValue(features.DominantFrequency))
			bb.Set("spectral.harmonic_ratio", blackboard.FloatValue(features.HarmonicRatio))

			if !features.HasSufficientData {
				return contribute("spectral", 0.3, 0.2, 0.1, "insufficient interval samples")
			}

			evidence := 0.0
			var reasons []string
			// A strong, low-order harmonic peak with low spectral entropy
			// indicates a periodic, machine-driven request cadence.
			if features.HarmonicRatio > 0.7 && features.SpectralEntropy < 0.4 {
				evidence = 0.8
				reasons = append(reasons, "strong periodic timing signature")
			} else if features.PeakToAvgRatio > 0.6 {
				evidence = 0.5
				reasons = append(reasons, "concentrated spectral peak")
			} else {
				evidence = 0.15
				reasons = append(reasons, "broadband, human-like timing spectrum")
			}

			return contribute("spectral", evidence, 1.0, 0.65, reasons...)
		},
	}
}
