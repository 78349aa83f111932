// Package policy implements the policy registry and evaluator (spec
// component C5): named detection policies, path→policy resolution, API
// key overlays, and the transition/threshold evaluator the orchestrator
// consults after each wave.
//
// Grounded on github.com/rcourtman/pulse-go-rewrite's internal/alerts
// threshold/override resolution (ThresholdConfig, override merge,
// clone-then-mutate immutability) re-targeted from metric thresholds to
// detection policies.
package policy

import "time"

// Action is the policy-level verdict enum (spec §3 "Policy Action").
type Action string

const (
	ActionContinue           Action = "Continue"
	ActionAllow              Action = "Allow"
	ActionBlock              Action = "Block"
	ActionChallenge          Action = "Challenge"
	ActionThrottle           Action = "Throttle"
	ActionLogOnly            Action = "LogOnly"
	ActionEscalateToSlowPath Action = "EscalateToSlowPath"
	ActionEscalateToAi       Action = "EscalateToAi"
)

// TransitionCondition is AND-combined; zero-valued fields are ignored
// (spec §3 "Policy Transition").
type TransitionCondition struct {
	WhenRiskExceeds     *float64
	WhenRiskBelow       *float64
	WhenSignal          string
	WhenSignalValue     *float64
	WhenReputationState string
}

// Transition is a first-match condition + effect. ActionPolicyName takes
// precedence over Action when both are set.
type Transition struct {
	Name             string
	Condition        TransitionCondition
	GoToPolicy       string
	Action           Action
	ActionPolicyName string
	Description      string
}

// Policy is an immutable named detection policy (spec §3 "Detection
// Policy"). Overlay operations (API-key derivation) produce a new value
// rather than mutating the receiver.
type Policy struct {
	Name         string
	FastPath     []string
	SlowPath     []string
	AiPath       []string
	ResponsePath []string

	UseFastPath   bool
	ForceSlowPath bool
	EscalateToAI  bool

	AIEscalationThreshold   float64
	EarlyExitThreshold      float64
	ImmediateBlockThreshold float64
	MinConfidence           float64

	WeightOverrides map[string]float64
	Transitions     []Transition
	Timeout         time.Duration
	Enabled         bool

	BypassTriggerConditions bool
	ActionPolicyName        string
	ActionPolicyOverridable bool
	ExcludedDetectors       map[string]bool
}

// Clone returns a deep copy safe for the caller (or an overlay
// constructor) to mutate.
func (p Policy) Clone() Policy {
	c := p
	c.FastPath = append([]string(nil), p.FastPath...)
	c.SlowPath = append([]string(nil), p.SlowPath...)
	c.AiPath = append([]string(nil), p.AiPath...)
	c.ResponsePath = append([]string(nil), p.ResponsePath...)
	c.Transitions = append([]Transition(nil), p.Transitions...)

	c.WeightOverrides = make(map[string]float64, len(p.WeightOverrides))
	for k, v := range p.WeightOverrides {
		c.WeightOverrides[k] = v
	}
	c.ExcludedDetectors = make(map[string]bool, len(p.ExcludedDetectors))
	for k, v := range p.ExcludedDetectors {
		c.ExcludedDetectors[k] = v
	}
	return c
}

// EffectiveWeight resolves weight_overrides[detector] ?? global_defaults
// ?? 1.0 (spec §4.5).
func (p Policy) EffectiveWeight(detector string, globalDefaults map[string]float64) float64 {
	if w, ok := p.WeightOverrides[detector]; ok {
		return w
	}
	if w, ok := globalDefaults[detector]; ok {
		return w
	}
	return 1.0
}

// AllDetectors returns the union of fast, slow, ai, and response path
// detectors minus ExcludedDetectors, used by the orchestrator to select
// which detectors participate before stage partitioning.
func (p Policy) AllDetectors(includeSlow, includeAI, includeResponse bool) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if p.ExcludedDetectors[n] || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	add(p.FastPath)
	if includeSlow || p.ForceSlowPath {
		add(p.SlowPath)
	}
	if includeAI {
		add(p.AiPath)
	}
	if includeResponse {
		add(p.ResponsePath)
	}
	return out
}
