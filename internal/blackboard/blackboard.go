// Package blackboard implements the per-request signal surface shared
// between detectors within a single request (spec §4.2, component C2).
// A Blackboard is never shared across requests and requires no locking
// beyond what the orchestrator's wave scheduling already provides
// (spec §5: detectors within a wave read only signals written by
// earlier waves).
package blackboard

import "sort"

// Value is a typed signal value: bool, integer, float, or short string
// (spec §3).
type Value struct {
	Bool   *bool
	Int    *int64
	Float  *float64
	String *string
}

// BoolValue, IntValue, FloatValue, and StringValue construct typed
// blackboard values.
func BoolValue(b bool) Value     { return Value{Bool: &b} }
func IntValue(i int64) Value     { return Value{Int: &i} }
func FloatValue(f float64) Value { return Value{Float: &f} }
func StringValue(s string) Value { return Value{String: &s} }

// EarlyExitVerdict enumerates the early-exit verdicts a detector
// contribution may declare (spec §3).
type EarlyExitVerdict string

const (
	VerifiedGoodBot EarlyExitVerdict = "VerifiedGoodBot"
	VerifiedBadBot  EarlyExitVerdict = "VerifiedBadBot"
	Whitelisted     EarlyExitVerdict = "Whitelisted"
	Blacklisted     EarlyExitVerdict = "Blacklisted"
	PolicyAllowed   EarlyExitVerdict = "PolicyAllowed"
	PolicyBlocked   EarlyExitVerdict = "PolicyBlocked"
)

// Contribution is a single detector's output for this request (spec §3
// "Detection Contribution").
type Contribution struct {
	DetectorName      string
	BotEvidence       float64 // [0,1]
	EvidenceWeight    float64 // >=0
	Confidence        float64 // [0,1]
	Reasons           []string
	TriggerEarlyExit  bool
	EarlyExitVerdict  EarlyExitVerdict // empty when TriggerEarlyExit is false
}

// Blackboard is the mutable per-request signal surface (spec §4.2).
type Blackboard struct {
	signals            map[string]Value
	completedDetectors map[string]struct{}
	contributions      []Contribution
	currentRiskScore   float64
	confidence         float64
}

// New creates an empty blackboard for a single request.
func New() *Blackboard {
	return &Blackboard{
		signals:            make(map[string]Value),
		completedDetectors: make(map[string]struct{}),
	}
}

// Set stores a typed value under a dotted key (e.g. "ua.is_mobile").
func (b *Blackboard) Set(key string, v Value) { b.signals[key] = v }

// Get returns the value stored under key, if any.
func (b *Blackboard) Get(key string) (Value, bool) {
	v, ok := b.signals[key]
	return v, ok
}

// GetBool, GetInt, GetFloat, GetString are typed convenience readers
// returning the zero value and false when the key is absent or of a
// different type.
func (b *Blackboard) GetBool(key string) (bool, bool) {
	v, ok := b.signals[key]
	if !ok || v.Bool == nil {
		return false, false
	}
	return *v.Bool, true
}

func (b *Blackboard) GetInt(key string) (int64, bool) {
	v, ok := b.signals[key]
	if !ok || v.Int == nil {
		return 0, false
	}
	return *v.Int, true
}

func (b *Blackboard) GetFloat(key string) (float64, bool) {
	v, ok := b.signals[key]
	if !ok || v.Float == nil {
		return 0, false
	}
	return *v.Float, true
}

func (b *Blackboard) GetString(key string) (string, bool) {
	v, ok := b.signals[key]
	if !ok || v.String == nil {
		return "", false
	}
	return *v.String, true
}

// MarkCompleted records that detector ran on this blackboard.
func (b *Blackboard) MarkCompleted(detector string) {
	b.completedDetectors[detector] = struct{}{}
}

// Completed reports whether detector has already run.
func (b *Blackboard) Completed(detector string) bool {
	_, ok := b.completedDetectors[detector]
	return ok
}

// CompletedDetectors returns a sorted snapshot of detector names that ran.
func (b *Blackboard) CompletedDetectors() []string {
	out := make([]string, 0, len(b.completedDetectors))
	for name := range b.completedDetectors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddContribution appends a contribution to the ordered list and marks
// its detector as completed.
func (b *Blackboard) AddContribution(c Contribution) {
	b.contributions = append(b.contributions, c)
	b.MarkCompleted(c.DetectorName)
}

// Contributions returns the ordered contribution list.
func (b *Blackboard) Contributions() []Contribution {
	return b.contributions
}

// CurrentRiskScore and Confidence are the orchestrator's running
// aggregates (spec §3); SetAggregate updates both atomically from the
// orchestrator's perspective (single-threaded per request).
func (b *Blackboard) CurrentRiskScore() float64 { return b.currentRiskScore }
func (b *Blackboard) Confidence() float64       { return b.confidence }

func (b *Blackboard) SetAggregate(risk, confidence float64) {
	b.currentRiskScore = risk
	b.confidence = confidence
}
