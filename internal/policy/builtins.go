package policy

import "time"

// Detector name constants mirror internal/detect's constructors so the
// built-in policies below can reference them without importing detect
// (which would create an import cycle, since detect never needs policy).
const (
	detUAHeaderShape = "ua_header_shape"
	detIPASN         = "ip_asn"
	detVerifiedBot   = "verified_bot"
	detBehavioral    = "behavioral"
	detSpectral      = "spectral"
	detInconsistency = "inconsistency"
	detReputation    = "reputation"
	detIntent        = "intent"
	detMLInference   = "ml_inference"
)

var coreFastPath = []string{detVerifiedBot, detIPASN, detReputation, detUAHeaderShape, detInconsistency, detBehavioral}
var coreSlowPath = []string{detSpectral}
var coreResponsePath = []string{detIntent}

// builtinPolicies returns the spec's twelve pre-registered policies
// (spec §4.5): default, demo, strict, relaxed, static, allowVerifiedBots,
// learning, yarp-learning, monitor, api, fast-onnx, fast-ai. Threshold
// and path choices beyond what the spec pins down are this module's own
// decisions, recorded in DESIGN.md.
func builtinPolicies() []Policy {
	return []Policy{
		defaultPolicy(),
		demoPolicy(),
		strictPolicy(),
		relaxedPolicy(),
		staticPolicy(),
		allowVerifiedBotsPolicy(),
		learningPolicy(),
		yarpLearningPolicy(),
		monitorPolicy(),
		apiPolicy(),
		fastONNXPolicy(),
		fastAIPolicy(),
	}
}

func basePolicy(name string) Policy {
	return Policy{
		Name:                    name,
		FastPath:                append([]string(nil), coreFastPath...),
		SlowPath:                append([]string(nil), coreSlowPath...),
		ResponsePath:            append([]string(nil), coreResponsePath...),
		UseFastPath:             true,
		AIEscalationThreshold:   0.55,
		EarlyExitThreshold:      0.3,
		ImmediateBlockThreshold: 0.85,
		MinConfidence:           0.7,
		WeightOverrides:         map[string]float64{},
		Timeout:                 5 * time.Second,
		Enabled:                 true,
		ActionPolicyOverridable: true,
		ExcludedDetectors:       map[string]bool{},
	}
}

func defaultPolicy() Policy {
	p := basePolicy("default")
	p.ActionPolicyName = "block"
	return p
}

// demoPolicy runs the full pipeline but never blocks: useful for
// onboarding and sales demonstrations where a false positive must never
// be visible to the visitor.
func demoPolicy() Policy {
	p := basePolicy("demo")
	p.ImmediateBlockThreshold = 0.99
	p.EarlyExitThreshold = 0.2
	p.ActionPolicyName = "logonly"
	return p
}

func strictPolicy() Policy {
	p := basePolicy("strict")
	p.ForceSlowPath = true
	p.EscalateToAI = true
	p.AIEscalationThreshold = 0.4
	p.EarlyExitThreshold = 0.15
	p.ImmediateBlockThreshold = 0.7
	p.MinConfidence = 0.6
	p.ActionPolicyName = "block-hard"
	return p
}

func relaxedPolicy() Policy {
	p := basePolicy("relaxed")
	p.EarlyExitThreshold = 0.4
	p.ImmediateBlockThreshold = 0.95
	p.MinConfidence = 0.85
	p.ActionPolicyName = "throttle"
	return p
}

// staticPolicy backs the static-asset short-circuit (spec §4.4): assets
// rarely carry bot-relevant signal, so only the cheapest checks run and
// almost everything is allowed through quickly.
func staticPolicy() Policy {
	return Policy{
		Name:                    "static",
		FastPath:                []string{detIPASN, detReputation},
		UseFastPath:             true,
		AIEscalationThreshold:   1.0,
		EarlyExitThreshold:      0.6,
		ImmediateBlockThreshold: 0.97,
		MinConfidence:           0.9,
		WeightOverrides:         map[string]float64{},
		Timeout:                 1 * time.Second,
		Enabled:                 true,
		ActionPolicyName:        "logonly",
		ActionPolicyOverridable: true,
		ExcludedDetectors:       map[string]bool{},
	}
}

// allowVerifiedBotsPolicy runs the full pipeline but prioritizes the
// verified-bot early exit: search-engine crawlers pass through allowed,
// unverified claimants fall through to ordinary evaluation.
func allowVerifiedBotsPolicy() Policy {
	p := basePolicy("allowVerifiedBots")
	p.ActionPolicyName = "block"
	return p
}

// learningPolicy runs the full pipeline, including AI/slow-path
// detectors, but never takes a blocking action — it exists to accumulate
// C7/C1 observations during a rollout's shadow period.
func learningPolicy() Policy {
	p := basePolicy("learning")
	p.ForceSlowPath = true
	p.EscalateToAI = true
	p.ImmediateBlockThreshold = 0.99
	p.ActionPolicyName = "logonly"
	p.ActionPolicyOverridable = false
	return p
}

// yarpLearningPolicy is learningPolicy's counterpart for deployments
// fronted by a YARP reverse proxy, where the origin handles routing and
// this policy exists purely to collect training signal at the proxy hop.
func yarpLearningPolicy() Policy {
	p := learningPolicy()
	p.Name = "yarp-learning"
	return p
}

// monitorPolicy is a lighter-weight observe-only policy for low-traffic
// monitoring/health endpoints: fast path only, always logonly.
func monitorPolicy() Policy {
	p := basePolicy("monitor")
	p.SlowPath = nil
	p.ImmediateBlockThreshold = 0.99
	p.ActionPolicyName = "logonly"
	p.ActionPolicyOverridable = false
	return p
}

// apiPolicy tightens the pipeline timeout for latency-sensitive API
// traffic. Its detector paths match the default policy's, so the slow
// path still runs when the fast path leaves the verdict undecided.
func apiPolicy() Policy {
	p := basePolicy("api")
	p.Timeout = 2 * time.Second
	p.ActionPolicyName = "block-soft"
	return p
}

// fastONNXPolicy escalates to the ML detector (an ONNX-backed classifier
// wired by the operator) whenever the fast-path risk crosses a moderate
// threshold.
func fastONNXPolicy() Policy {
	p := basePolicy("fast-onnx")
	p.AiPath = []string{detMLInference}
	p.EscalateToAI = true
	p.AIEscalationThreshold = 0.45
	p.ActionPolicyName = "block"
	return p
}

// fastAIPolicy is fastONNXPolicy's LLM-backed counterpart; the same
// ml_inference detector slot is reused since both ultimately satisfy the
// Classifier interface regardless of backend.
func fastAIPolicy() Policy {
	p := fastONNXPolicy()
	p.Name = "fast-ai"
	return p
}
