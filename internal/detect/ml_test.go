package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
)

type stubClassifier struct {
	score float64
	label string
	err   error
}

func (s stubClassifier) Classify(context.Context, map[string]float64) (float64, string, error) {
	return s.score, s.label, s.err
}

func TestNoopClassifierAbstains(t *testing.T) {
	score, label, err := (NoopClassifier{}).Classify(context.Background(), nil)
	if err != nil || label != "" || score != 0 {
		t.Fatalf("expected noop classifier to abstain, got score=%f label=%q err=%v", score, label, err)
	}
}

func TestMLDetectorBlendsClassifierScore(t *testing.T) {
	bb := blackboard.New()
	bb.Set("behavioral.timing_cv", blackboard.FloatValue(0.05))

	c := runMLDetector(context.Background(), bb, stubClassifier{score: 0.82, label: "automation"})

	if c.BotEvidence != 0.82 {
		t.Fatalf("expected evidence to pass through classifier score, got %f", c.BotEvidence)
	}
	if label, ok := bb.GetString("ml_inference.label"); !ok || label != "automation" {
		t.Fatalf("expected ml_inference.label set, got %q ok=%v", label, ok)
	}
}

func TestMLDetectorZeroWeightOnAbstain(t *testing.T) {
	bb := blackboard.New()
	c := runMLDetector(context.Background(), bb, NoopClassifier{})
	if c.EvidenceWeight != 0 {
		t.Fatalf("expected zero weight when classifier abstains, got %f", c.EvidenceWeight)
	}
}

func TestMLDetectorZeroWeightOnError(t *testing.T) {
	bb := blackboard.New()
	c := runMLDetector(context.Background(), bb, stubClassifier{err: errors.New("backend unavailable")})
	if c.EvidenceWeight != 0 {
		t.Fatalf("expected zero weight on classifier error, got %f", c.EvidenceWeight)
	}
}

func TestMLDetectorTriggerRespectsSkipFlag(t *testing.T) {
	bb := blackboard.New()
	bb.Set("policy.skip_ml", blackboard.BoolValue(true))
	det := MLDetector(stubClassifier{score: 0.9, label: "automation"})
	if det.Trigger(bb) {
		t.Fatalf("expected trigger to be false when policy.skip_ml is set")
	}
}
