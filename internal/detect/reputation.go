package detect

import (
	"context"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/idhash"
	"github.com/scottgal/stylobot-sub004/internal/reputation"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)


// ReputationSource is the subset of reputation.Store the detector reads.
type ReputationSource interface {
	Get(patternID string) reputation.Entry
}

// ReputationDetector reads C1 for each identity vector derived from the
// request (UA, IP, subnet, and a combined/primary hash) and contributes a
// bias weighted by each pattern's stored bot score and evidence count
// (spec §4.1, §4.3 "Reputation"). The highest-evidence confirmed-bad or
// confirmed-good entry drives an early exit; otherwise the entries blend.
func ReputationDetector(store ReputationSource) Detector {
	return Func{
		DetectorName:  "reputation",
		DetectorStage: 0,
		DetectorTrig:  Always,
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			return runReputationDetector(bb, req, store)
		},
	}
}

func runReputationDetector(bb *blackboard.Blackboard, req reqview.Request, store ReputationSource) blackboard.Contribution {
	ua := req.Header().Get("User-Agent")
	ip := req.RemoteIP()
	vec := idhash.Derive(ip, ua)

	vectors := []struct {
		id string
		pt reputation.PatternType
	}{
		{string(vec.UA), reputation.PatternUA},
		{string(vec.IP), reputation.PatternIP},
		{string(vec.Subnet), reputation.PatternSubnet},
		{string(vec.Primary), reputation.PatternPrimary},
	}

	var (
		weightedSum float64
		weightTotal float64
		best        reputation.Entry
		haveBest    bool
	)

	for _, v := range vectors {
		e := store.Get(v.id)
		if e.EvidenceCount <= 0 {
			continue
		}
		w := evidenceWeight(e.EvidenceCount)
		weightedSum += e.BotScore * w
		weightTotal += w

		if !haveBest || e.EvidenceCount > best.EvidenceCount {
			best = e
			haveBest = true
		}
	}

	if !haveBest || weightTotal == 0 {
		return contribute("reputation", 0.3, 0.0, 0.0, "no prior reputation for any identity vector")
	}

	bb.Set("reputation.best_pattern_type", blackboard.StringValue(string(best.PatternType)))
	bb.Set("reputation.best_score", blackboard.FloatValue(best.BotScore))
	bb.Set("reputation.best_state", blackboard.StringValue(string(best.State)))

	confidence := min64(1.0, weightTotal/10.0)

	switch best.State {
	case reputation.StateConfirmedBad:
		return earlyExit("reputation", best.BotScore, confidence, blackboard.Blacklisted,
			"confirmed-bad reputation on "+string(best.PatternType))
	case reputation.StateConfirmedGood:
		return earlyExit("reputation", best.BotScore, confidence, blackboard.Whitelisted,
			"confirmed-good reputation on "+string(best.PatternType))
	}

	blended := weightedSum / weightTotal
	return contribute("reputation", blended, confidence, 0.7,
		"blended reputation across "+string(best.PatternType)+" and related identity vectors")
}

func evidenceWeight(count float64) float64 {
	// Diminishing returns: evidence weight saturates rather than growing
	// unbounded with a long-lived, heavily-observed pattern.
	return count / (count + 5.0)
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
