package telemetry

import "github.com/rs/zerolog"

// WithMaskedIP attaches a zero-PII IP field to a zerolog event, the
// single call site the rest of the module should use instead of
// Str("ip", raw) directly.
func WithMaskedIP(e *zerolog.Event, raw string) *zerolog.Event {
	return e.Str("ip", MaskIP(raw))
}

// VerdictFields is the structured-event shape logged on every verdict
// and early exit (spec §6.5 "Structured events on verdicts and early
// exits").
type VerdictFields struct {
	TraceID    string
	Policy     string
	Action     string
	Risk       float64
	Confidence float64
	RiskBand   string
	EarlyExit  string // empty when the verdict ran the full pipeline
}

// Apply decorates e with the verdict's fields.
func (v VerdictFields) Apply(e *zerolog.Event) *zerolog.Event {
	e = e.Str("trace_id", v.TraceID).
		Str("policy", v.Policy).
		Str("action", v.Action).
		Float64("risk", v.Risk).
		Float64("confidence", v.Confidence).
		Str("risk_band", v.RiskBand)
	if v.EarlyExit != "" {
		e = e.Str("early_exit", v.EarlyExit)
	}
	return e
}
