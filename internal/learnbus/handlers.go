package learnbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottgal/stylobot-sub004/internal/reputation"
	"github.com/scottgal/stylobot-sub004/internal/signature"
)

// Identity carries one event's identity vectors, keyed the same way
// internal/detect's reputation detector keys the store (spec §4.1/§4.10).
type Identity struct {
	UAKey      string
	IPKey      string
	SubnetKey  string
	PrimaryKey string
}

// floatPayload fetches a float64 out of an event's payload map, defaulting
// to 0 when absent or of the wrong type.
func floatPayload(e Event, key string) float64 {
	if v, ok := e.Payload[key].(float64); ok {
		return v
	}
	return 0
}

func stringPayload(e Event, key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

func identityPayload(e Event) Identity {
	id, _ := e.Payload["identity"].(Identity)
	return id
}

// ReputationUpdater returns a Handler that applies the verdict's risk
// score as evidence to every identity vector present on the event (spec
// §4.10: "the reputation updater handler applies evidence to C1 for each
// identity vector"). It subscribes to FullDetection and
// HighConfidenceDetection, the two event kinds that carry a settled
// verdict worth feeding back into the cache.
func ReputationUpdater(store *reputation.Store) Handler {
	return func(_ context.Context, e Event) {
		risk := floatPayload(e, "risk")
		weight := floatPayload(e, "confidence")
		if weight <= 0 {
			weight = 1
		}
		id := identityPayload(e)

		apply := func(key string, t reputation.PatternType) {
			if key == "" {
				return
			}
			prior := store.GetOrCreate(key, t, key)
			updated := store.ApplyEvidence(prior, risk, weight)
			store.Update(updated)
		}
		apply(id.PrimaryKey, reputation.PatternPrimary)
		apply(id.UAKey, reputation.PatternUA)
		apply(id.IPKey, reputation.PatternIP)
		apply(id.SubnetKey, reputation.PatternSubnet)
	}
}

// SignatureFeedbackHandler folds UserFeedback and SignatureFeedback
// events back into the signature coordinator's behavior window, marking
// the signature aberrant when the feedback disagrees with what the fast
// path decided (spec §4.7/§4.10).
func SignatureFeedbackHandler(coord *signature.Coordinator) Handler {
	return func(_ context.Context, e Event) {
		sig := stringPayload(e, "signature")
		if sig == "" {
			return
		}
		path := stringPayload(e, "path")
		risk := floatPayload(e, "risk")
		ipHash := stringPayload(e, "ip_hash")

		coord.Observe(sig, signature.RequestEntry{Path: path, Timestamp: time.Time{}}, ipHash, risk)

		if aberrant, ok := e.Payload["aberrant"].(bool); ok {
			coord.MarkAberrant(sig, aberrant)
		}
	}
}

// DriftWindow accumulates fast-path-vs-full-path verdict disagreements
// over a rolling sample to drive the fast-path drift detector (spec
// §4.10: "disagreement rate over a time window with a minimum-sample
// floor"). It is not itself a Handler; wrap it with NewDriftDetector.
type DriftWindow struct {
	Horizon    time.Duration
	MinSamples int

	mu      sync.Mutex
	samples []driftSample
}

type driftSample struct {
	at       time.Time
	disagree bool
}

// NewDriftDetector returns a Handler that observes events whose payload
// carries both a "fast_verdict" and a "full_verdict" string (events
// missing either are ignored; the kernel's own FullDetection events carry
// neither key, so only publishers that set both feed the window) and, when the rolling
// disagreement rate crosses threshold with enough samples, publishes a
// FastPathDriftDetected event back onto bus.
func NewDriftDetector(bus *Bus, win *DriftWindow, threshold float64, now func() time.Time) Handler {
	if win.Horizon <= 0 {
		win.Horizon = 15 * time.Minute
	}
	if win.MinSamples <= 0 {
		win.MinSamples = 50
	}
	if now == nil {
		now = time.Now
	}

	return func(_ context.Context, e Event) {
		fastVerdict := stringPayload(e, "fast_verdict")
		fullVerdict := stringPayload(e, "full_verdict")
		if fastVerdict == "" || fullVerdict == "" {
			return
		}

		win.mu.Lock()
		defer win.mu.Unlock()

		t := now()
		win.samples = append(win.samples, driftSample{at: t, disagree: fastVerdict != fullVerdict})
		win.samples = pruneDriftSamples(win.samples, t, win.Horizon)

		if len(win.samples) < win.MinSamples {
			return
		}
		disagreements := 0
		for _, s := range win.samples {
			if s.disagree {
				disagreements++
			}
		}
		rate := float64(disagreements) / float64(len(win.samples))
		if rate < threshold {
			return
		}

		log.Warn().Float64("rate", rate).Int("samples", len(win.samples)).Msg("learnbus: fast-path drift threshold crossed")
		bus.Publish(Event{Kind: FastPathDriftDetected, Payload: map[string]any{
			"rate":    rate,
			"samples": len(win.samples),
		}})
		win.samples = win.samples[:0]
	}
}

func pruneDriftSamples(samples []driftSample, now time.Time, horizon time.Duration) []driftSample {
	cutoff := now.Add(-horizon)
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}
