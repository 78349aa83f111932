// Package cluster implements the clustering service (spec component C9):
// periodic community detection over signature behaviors, and the
// convergence subsystem that merges/splits C7's signature families.
package cluster

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottgal/stylobot-sub004/internal/signature"
)

// ConvergenceConfig weights the merge/split score and its cooldown.
type ConvergenceConfig struct {
	TemporalWeight    float64
	BehavioralWeight  float64
	BotProbWeight     float64
	MergeThreshold    float64
	SplitThreshold    float64 // family cohesion below this triggers a split
	PostSplitCooldown time.Duration
}

// DefaultConvergenceConfig weights the three signals evenly, biased
// slightly toward behavioral similarity since it is the most direct
// signal of shared authorship.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		TemporalWeight:    0.3,
		BehavioralWeight:  0.4,
		BotProbWeight:     0.3,
		MergeThreshold:    0.75,
		SplitThreshold:    0.4,
		PostSplitCooldown: 15 * time.Minute,
	}
}

// Convergence runs the periodic family merge/split sweep over a
// signature.Coordinator.
type Convergence struct {
	cfg       ConvergenceConfig
	cooldowns map[string]time.Time // unordered-pair key -> cooldown expiry
	now       func() time.Time
	nextFam   int
}

// NewConvergence creates a convergence sweeper.
func NewConvergence(cfg ConvergenceConfig) *Convergence {
	if cfg.MergeThreshold <= 0 {
		cfg.MergeThreshold = 0.75
	}
	if cfg.SplitThreshold <= 0 {
		cfg.SplitThreshold = 0.4
	}
	if cfg.PostSplitCooldown <= 0 {
		cfg.PostSplitCooldown = 15 * time.Minute
	}
	return &Convergence{
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
		now:       time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (c *Convergence) WithClock(now func() time.Time) *Convergence {
	c.now = now
	return c
}

// Sweep merges candidate signature pairs whose combined score clears
// MergeThreshold, then splits families whose internal cohesion has
// fallen below SplitThreshold. Candidate pairs are drawn from the IP
// index (co-occurrence under the same IP hash), matching the spec's
// "IP index ... used by convergence" note; this keeps the sweep to
// O(signatures-per-ip) pairs instead of all-pairs over the fleet.
func (c *Convergence) Sweep(coord *signature.Coordinator, ipHashes []string) {
	c.mergePass(coord, ipHashes)
	c.splitPass(coord)
}

func (c *Convergence) mergePass(coord *signature.Coordinator, ipHashes []string) {
	considered := make(map[string]bool)

	for _, ip := range ipHashes {
		sigs := coord.SignaturesForIP(ip)
		for i := 0; i < len(sigs); i++ {
			for j := i + 1; j < len(sigs); j++ {
				a, b := sigs[i], sigs[j]
				pairKey := pairKey(a, b)
				if considered[pairKey] {
					continue
				}
				considered[pairKey] = true

				famA, hasA := coord.GetFamily(a)
				famB, hasB := coord.GetFamily(b)
				if hasA && hasB && famA == famB {
					continue
				}
				if until, cooling := c.cooldowns[pairKey]; cooling && c.now().Before(until) {
					continue
				}

				ba, okA := coord.GetBehavior(a)
				bb, okB := coord.GetBehavior(b)
				if !okA || !okB {
					continue
				}

				score, vetoed := c.score(ba, bb)
				if vetoed || score < c.cfg.MergeThreshold {
					continue
				}

				family := famA
				switch {
				case hasA && hasB:
					// Different families, both eligible to merge: a and b
					// both move into the lexicographically smaller family
					// id; the other members of either family stay put.
					if famB < famA {
						family = famB
					}
				case hasA:
					family = famA
				case hasB:
					family = famB
				default:
					family = c.newFamilyID(a, b)
				}

				coord.RegisterFamily(family, a, b)
				log.Debug().Str("family", family).Str("a", a).Str("b", b).
					Float64("score", score).Msg("convergence merged signatures into family")
			}
		}
	}
}

func (c *Convergence) splitPass(coord *signature.Coordinator) {
	for _, fam := range coord.FamilyIDs() {
		members := coord.FamilyMembers(fam)
		if len(members) < 2 {
			continue
		}

		cohesion, vetoed := c.cohesion(coord, members)
		if !vetoed && cohesion >= c.cfg.SplitThreshold {
			continue
		}

		log.Info().Str("family", fam).Float64("cohesion", cohesion).Bool("vetoed", vetoed).
			Msg("convergence splitting family below cohesion threshold")
		coord.RemoveFamily(fam)
		until := c.now().Add(c.cfg.PostSplitCooldown)
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				c.cooldowns[pairKey(members[i], members[j])] = until
			}
		}
	}
}

// cohesion is the mean pairwise score across a family's members, with the
// hard veto propagated up if any pair trips it.
func (c *Convergence) cohesion(coord *signature.Coordinator, members []string) (float64, bool) {
	var sum float64
	var n int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			ba, okA := coord.GetBehavior(members[i])
			bb, okB := coord.GetBehavior(members[j])
			if !okA || !okB {
				continue
			}
			score, vetoed := c.score(ba, bb)
			if vetoed {
				return 0, true
			}
			sum += score
			n++
		}
	}
	if n == 0 {
		return 1, false
	}
	return sum / float64(n), false
}

// score blends temporal overlap, behavioral similarity, and bot-
// probability agreement (spec §4.9's convergence paragraph); vetoed is
// true when the two signatures disagree on bot classification (one
// average_bot_probability > 0.5, the other <= 0.5).
func (c *Convergence) score(a, b signature.Behavior) (s float64, vetoed bool) {
	aIsBot := a.AverageBotProbability > 0.5
	bIsBot := b.AverageBotProbability > 0.5
	if aIsBot != bIsBot {
		return 0, true
	}

	temporal := temporalOverlap(a, b)
	behavioral := behavioralSimilarity(a, b)
	botAgreement := 1 - math.Abs(a.AverageBotProbability-b.AverageBotProbability)

	s = c.cfg.TemporalWeight*temporal + c.cfg.BehavioralWeight*behavioral + c.cfg.BotProbWeight*botAgreement
	return clamp01(s), false
}

// temporalOverlap is the fraction of [FirstSeen,LastSeen] overlap
// relative to the union of the two windows.
func temporalOverlap(a, b signature.Behavior) float64 {
	if a.FirstSeen.IsZero() || b.FirstSeen.IsZero() {
		return 0
	}
	start := maxTime(a.FirstSeen, b.FirstSeen)
	end := minTime(a.LastSeen, b.LastSeen)
	overlap := end.Sub(start)
	if overlap < 0 {
		overlap = 0
	}
	unionStart := minTime(a.FirstSeen, b.FirstSeen)
	unionEnd := maxTime(a.LastSeen, b.LastSeen)
	union := unionEnd.Sub(unionStart)
	if union <= 0 {
		return 0
	}
	return clamp01(overlap.Seconds() / union.Seconds())
}

func behavioralSimilarity(a, b signature.Behavior) float64 {
	intervalSim := ratioSimilarity(float64(a.AverageInterval), float64(b.AverageInterval))
	cvSim := ratioSimilarity(a.TimingCoefficient, b.TimingCoefficient)
	entropySim := ratioSimilarity(a.PathEntropy, b.PathEntropy)
	return (intervalSim + cvSim + entropySim) / 3
}

// ratioSimilarity implements the spec's continuous-feature similarity:
// 1 - |a-b| / max(|a|,|b|).
func ratioSimilarity(a, b float64) float64 {
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 1
	}
	return clamp01(1 - math.Abs(a-b)/denom)
}

func (c *Convergence) newFamilyID(a, b string) string {
	c.nextFam++
	return fmt.Sprintf("family-%s-%d", shortHash(a+b), c.nextFam)
}

func shortHash(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
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
