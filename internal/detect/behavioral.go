package detect

import (
	"context"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
	"github.com/scottgal/stylobot-sub004/internal/signature"
)

// BehaviorSource is the subset of signature.Coordinator the behavioral
// detector reads.
type BehaviorSource interface {
	GetBehavior(sig string) (signature.Behavior, bool)
}

// BehavioralDetector contributes rate, burstiness, and timing-CV signals
// over the recent request history for this request's signature (spec
// §4.3 "Behavioral"). sigFn derives the signature key from the request
// (e.g. a hash of identity vectors); the orchestrator wires it so this
// package stays independent of identity-hashing choices.
func BehavioralDetector(src BehaviorSource, sigFn func(req reqview.Request) string) Detector {
	return Func{
		DetectorName:  "behavioral",
		DetectorStage: 1,
		DetectorTrig:  Always,
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			sig := sigFn(req)
			bb.Set("signature.key", blackboard.StringValue(sig))

			b, ok := src.GetBehavior(sig)
			if !ok || b.RequestCount < 3 {
				return contribute("behavioral", 0.3, 0.3, 0.2, "insufficient history for signature")
			}

			bb.Set("behavioral.request_count", blackboard.IntValue(int64(b.RequestCount)))
			bb.Set("behavioral.timing_cv", blackboard.FloatValue(b.TimingCoefficient))
			bb.Set("behavioral.avg_interval_s", blackboard.FloatValue(b.AverageInterval.Seconds()))

			evidence := 0.0
			var reasons []string

			// Very low CV combined with a short interval indicates
			// metronomic, non-human timing.
			if b.TimingCoefficient < 0.15 && b.AverageInterval.Seconds() < 5 {
				evidence = max64(evidence, 0.75)
				reasons = append(reasons, "near-constant sub-5s request interval")
			} else if b.TimingCoefficient < 0.3 {
				evidence = max64(evidence, 0.4)
				reasons = append(reasons, "low timing variance")
			}

			if b.PathEntropy < 0.1 && b.RequestCount > 10 {
				evidence = max64(evidence, 0.5)
				reasons = append(reasons, "single-path request pattern at volume")
			}

			if b.IsAberrant {
				evidence = max64(evidence, 0.6)
				reasons = append(reasons, "flagged aberrant by a prior detector")
			}

			if len(reasons) == 0 {
				return contribute("behavioral", 0.1, 1.0, 0.7, "regular human-like cadence")
			}
			return contribute("behavioral", evidence, 1.0, 0.7, reasons...)
		},
	}
}
