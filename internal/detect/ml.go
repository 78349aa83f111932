package detect

import (
	"context"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// Classifier is an optional, pluggable inference backend for the ML/LLM
// detector category (spec §4.3, marked optional — "may be skipped when
// policy forbids"). The kernel ships no concrete backend: operators wire
// in their own ONNX runtime, local model server, or hosted LLM client
// behind this interface. Score must be in [0,1]; label is a short
// human-readable classification ("automation", "human", "uncertain").
type Classifier interface {
	Classify(ctx context.Context, features map[string]float64) (score float64, label string, err error)
}

// NoopClassifier always abstains. It is the default wired when no
// Classifier is configured, so the detector set stays complete without
// requiring an inference backend.
type NoopClassifier struct{}

func (NoopClassifier) Classify(context.Context, map[string]float64) (float64, string, error) {
	return 0, "", nil
}

// MLDetector contributes an inference-backend verdict over the features
// already accumulated on the blackboard by earlier stages (spec §4.3
// "ML (optional)"). It triggers only when a Classifier beyond the no-op
// default is wired and the blackboard flag "policy.skip_ml" is not set,
// and it never early-exits: a
// model's opinion blends into the weighted aggregate like any other
// detector rather than overriding it outright.
func MLDetector(classifier Classifier) Detector {
	if classifier == nil {
		classifier = NoopClassifier{}
	}
	_, isNoop := classifier.(NoopClassifier)
	return Func{
		DetectorName:  "ml_inference",
		DetectorStage: 3,
		DetectorTrig: func(bb *blackboard.Blackboard) bool {
			if isNoop {
				return false
			}
			skip, _ := bb.GetBool("policy.skip_ml")
			return !skip
		},
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			return runMLDetector(ctx, bb, classifier)
		},
	}
}

func runMLDetector(ctx context.Context, bb *blackboard.Blackboard, classifier Classifier) blackboard.Contribution {
	features := extractMLFeatures(bb)

	score, label, err := classifier.Classify(ctx, features)
	if err != nil {
		return contribute("ml_inference", 0.3, 0.0, 0.0, "classifier error: "+err.Error())
	}
	if label == "" {
		return contribute("ml_inference", 0.3, 0.0, 0.0, "classifier abstained")
	}

	bb.Set("ml_inference.label", blackboard.StringValue(label))
	bb.Set("ml_inference.score", blackboard.FloatValue(score))

	return contribute("ml_inference", score, 1.0, 0.75, "inference backend classified request as "+label)
}

func extractMLFeatures(bb *blackboard.Blackboard) map[string]float64 {
	features := make(map[string]float64, 8)
	for _, key := range []string{
		"behavioral.timing_cv",
		"behavioral.avg_interval_s",
		"spectral.harmonic_ratio",
		"spectral.dominant_frequency",
		"reputation.best_score",
	} {
		if v, ok := bb.GetFloat(key); ok {
			features[key] = v
		}
	}
	return features
}
