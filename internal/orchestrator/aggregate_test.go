package orchestrator

import (
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/policy"
)

func TestAggregateEmptyIsZero(t *testing.T) {
	bb := blackboard.New()
	risk, confidence := Aggregate(bb, policy.Policy{}, nil)
	if risk != 0 || confidence != 0 {
		t.Fatalf("expected zero risk/confidence with no contributions, got %f/%f", risk, confidence)
	}
}

func TestAggregateWeightedMean(t *testing.T) {
	bb := blackboard.New()
	bb.AddContribution(blackboard.Contribution{DetectorName: "a", BotEvidence: 0.8, EvidenceWeight: 1.0})
	bb.AddContribution(blackboard.Contribution{DetectorName: "b", BotEvidence: 0.2, EvidenceWeight: 1.0})

	risk, _ := Aggregate(bb, policy.Policy{WeightOverrides: map[string]float64{}}, nil)
	if risk < 0.49 || risk > 0.51 {
		t.Fatalf("expected risk near 0.5 for two equally weighted opposite contributions, got %f", risk)
	}
}

func TestAggregateAgreementBoost(t *testing.T) {
	bb := blackboard.New()
	bb.AddContribution(blackboard.Contribution{DetectorName: "a", BotEvidence: 0.8, EvidenceWeight: 1.0})
	bb.AddContribution(blackboard.Contribution{DetectorName: "b", BotEvidence: 0.7, EvidenceWeight: 1.0})
	bb.AddContribution(blackboard.Contribution{DetectorName: "c", BotEvidence: 0.75, EvidenceWeight: 1.0})

	risk, _ := Aggregate(bb, policy.Policy{WeightOverrides: map[string]float64{}}, nil)
	// weighted mean is 0.75; three detectors agree (>=0.3) so boost = (3-1)*0.1 = 0.2
	if risk < 0.94 {
		t.Fatalf("expected agreement-boosted risk near 0.95, got %f", risk)
	}
}

func TestAggregateUsesPolicyWeightOverride(t *testing.T) {
	bb := blackboard.New()
	bb.AddContribution(blackboard.Contribution{DetectorName: "a", BotEvidence: 1.0, EvidenceWeight: 1.0})
	bb.AddContribution(blackboard.Contribution{DetectorName: "b", BotEvidence: 0.0, EvidenceWeight: 1.0})

	p := policy.Policy{WeightOverrides: map[string]float64{"a": 4.0}}
	risk, _ := Aggregate(bb, p, nil)
	// a dominates: (1*4 + 0*1) / 5 = 0.8
	if risk < 0.75 || risk > 0.85 {
		t.Fatalf("expected risk near 0.8 with detector a overweighted, got %f", risk)
	}
}

func TestAggregateConfidenceGrowsWithWeight(t *testing.T) {
	bb := blackboard.New()
	_, low := Aggregate(withContribution(bb, 0.5, 0.1), policy.Policy{}, nil)

	bb2 := blackboard.New()
	_, high := Aggregate(withContribution(bb2, 0.5, 10.0), policy.Policy{}, nil)

	if !(low < high) {
		t.Fatalf("expected confidence to grow with accumulated weight, got low=%f high=%f", low, high)
	}
}

func withContribution(bb *blackboard.Blackboard, evidence, weight float64) *blackboard.Blackboard {
	bb.AddContribution(blackboard.Contribution{DetectorName: "x", BotEvidence: evidence, EvidenceWeight: weight})
	return bb
}
