package orchestrator

import (
	"math"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/policy"
)

// ConfidenceConstant is the C in confidence = 1 - exp(-Σweight/C) (spec
// §4.4). A larger constant requires more accumulated evidence weight
// before confidence saturates toward 1.
const ConfidenceConstant = 4.0

// AgreementThreshold is the bot_evidence floor a contribution must clear
// to count toward the agreement boost (spec §4.4).
const AgreementThreshold = 0.3

// AgreementBoostStep is added per additional agreeing detector beyond
// the first.
const AgreementBoostStep = 0.1

// Aggregate computes the weighted-mean risk, confidence, and
// agreement-boosted final risk over every contribution recorded on bb so
// far (spec §4.4 "Aggregation").
func Aggregate(bb *blackboard.Blackboard, p policy.Policy, globalWeights map[string]float64) (risk, confidence float64) {
	contributions := bb.Contributions()
	if len(contributions) == 0 {
		return 0, 0
	}

	var weightedSum, weightTotal float64
	agreeing := 0
	for _, c := range contributions {
		w := c.EvidenceWeight * p.EffectiveWeight(c.DetectorName, globalWeights)
		weightedSum += c.BotEvidence * w
		weightTotal += w
		if c.BotEvidence >= AgreementThreshold {
			agreeing++
		}
	}

	if weightTotal == 0 {
		return 0, 0
	}

	risk = weightedSum / weightTotal
	if agreeing >= 2 {
		risk += float64(agreeing-1) * AgreementBoostStep
	}
	risk = clamp01(risk)

	confidence = clamp01(1 - math.Exp(-weightTotal/ConfidenceConstant))
	return risk, confidence
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
