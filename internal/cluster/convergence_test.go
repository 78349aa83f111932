package cluster

import (
	"testing"
	"time"

	"github.com/scottgal/stylobot-sub004/internal/signature"
)

func observeN(coord *signature.Coordinator, sig, ip string, start time.Time, n int, interval time.Duration, botProb float64) {
	for i := 0; i < n; i++ {
		coord.Observe(sig, signature.RequestEntry{
			Path:      "/x",
			Timestamp: start.Add(time.Duration(i) * interval),
		}, ip, botProb)
	}
}

func TestConvergenceMergesSimilarCoOccurringSignatures(t *testing.T) {
	coord := signature.New(signature.DefaultConfig())
	start := time.Now()
	observeN(coord, "sig-a", "ip-1", start, 10, time.Second, 0.9)
	observeN(coord, "sig-b", "ip-1", start, 10, time.Second, 0.92)

	conv := NewConvergence(DefaultConvergenceConfig())
	conv.Sweep(coord, []string{"ip-1"})

	famA, okA := coord.GetFamily("sig-a")
	famB, okB := coord.GetFamily("sig-b")
	if !okA || !okB || famA != famB {
		t.Fatalf("expected sig-a and sig-b merged into the same family, got %q(%v) %q(%v)", famA, okA, famB, okB)
	}
}

func TestConvergenceVetoesOnBotClassificationDisagreement(t *testing.T) {
	coord := signature.New(signature.DefaultConfig())
	start := time.Now()
	observeN(coord, "sig-a", "ip-1", start, 10, time.Second, 0.95)
	observeN(coord, "sig-b", "ip-1", start, 10, time.Second, 0.05)

	conv := NewConvergence(DefaultConvergenceConfig())
	conv.Sweep(coord, []string{"ip-1"})

	famA, okA := coord.GetFamily("sig-a")
	famB, okB := coord.GetFamily("sig-b")
	if okA && okB && famA == famB {
		t.Fatalf("expected no merge across a bot-classification disagreement, got shared family %q", famA)
	}
}

func TestConvergenceSplitsLowCohesionFamily(t *testing.T) {
	coord := signature.New(signature.DefaultConfig())
	start := time.Now()
	observeN(coord, "sig-a", "ip-1", start, 5, time.Second, 0.8)
	observeN(coord, "sig-b", "ip-1", start, 5, 90*time.Second, 0.8)
	coord.RegisterFamily("forced-family", "sig-a", "sig-b")

	conv := NewConvergence(ConvergenceConfig{
		TemporalWeight: 0.5, BehavioralWeight: 0.3, BotProbWeight: 0.2,
		MergeThreshold: 0.75, SplitThreshold: 0.9, PostSplitCooldown: time.Minute,
	})
	conv.Sweep(coord, nil)

	if _, ok := coord.GetFamily("sig-a"); ok {
		t.Error("expected low-cohesion family to be split")
	}
}

func TestPostSplitCooldownPreventsImmediateRemerge(t *testing.T) {
	coord := signature.New(signature.DefaultConfig())
	start := time.Now()
	observeN(coord, "sig-a", "ip-1", start, 5, time.Second, 0.9)
	observeN(coord, "sig-b", "ip-1", start, 5, 90*time.Second, 0.9)
	coord.RegisterFamily("forced-family", "sig-a", "sig-b")

	cur := start
	conv := NewConvergence(ConvergenceConfig{
		TemporalWeight: 0.5, BehavioralWeight: 0.3, BotProbWeight: 0.2,
		MergeThreshold: 0.5, SplitThreshold: 0.95, PostSplitCooldown: time.Hour,
	}).WithClock(func() time.Time { return cur })

	conv.Sweep(coord, nil) // should split: cohesion below 0.95
	if _, ok := coord.GetFamily("sig-a"); ok {
		t.Fatal("expected split to have occurred")
	}

	conv.Sweep(coord, []string{"ip-1"}) // immediate re-merge attempt
	if _, ok := coord.GetFamily("sig-a"); ok {
		t.Error("expected post-split cooldown to block immediate re-merge")
	}
}
