// Package detect implements the detector set (spec component C3): the
// individually pluggable signal sources the orchestrator runs in waves
// against a request's blackboard.
package detect

import (
	"context"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// Trigger is a predicate over the blackboard deciding whether a detector
// runs this request (spec §4.3). Detectors wanting to always run return
// Always.
type Trigger func(bb *blackboard.Blackboard) bool

// Always is the trigger every detector uses by default.
func Always(*blackboard.Blackboard) bool { return true }

// Detector is one pluggable signal source (spec §4.3). Stage is an
// ordinal the orchestrator uses to partition detectors into waves: lower
// stages run first, and later stages may read signals earlier stages
// wrote.
type Detector interface {
	Name() string
	Stage() int
	Trigger(bb *blackboard.Blackboard) bool
	Run(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution
}

// Func adapts a plain function into a Detector with a fixed name, stage,
// and trigger — the common case for the detectors below.
type Func struct {
	DetectorName  string
	DetectorStage int
	DetectorTrig  Trigger
	RunFunc       func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution
}

func (f Func) Name() string  { return f.DetectorName }
func (f Func) Stage() int    { return f.DetectorStage }
func (f Func) Trigger(bb *blackboard.Blackboard) bool {
	if f.DetectorTrig == nil {
		return true
	}
	return f.DetectorTrig(bb)
}
func (f Func) Run(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
	return f.RunFunc(ctx, bb, req)
}

// contribute is a small builder to keep the individual detectors below
// terse; BotEvidence and Confidence are expected in [0,1].
func contribute(name string, evidence, weight, confidence float64, reasons ...string) blackboard.Contribution {
	return blackboard.Contribution{
		DetectorName:   name,
		BotEvidence:    evidence,
		EvidenceWeight: weight,
		Confidence:     confidence,
		Reasons:        reasons,
	}
}

func earlyExit(name string, evidence, weight float64, verdict blackboard.EarlyExitVerdict, reasons ...string) blackboard.Contribution {
	c := contribute(name, evidence, weight, 1.0, reasons...)
	c.TriggerEarlyExit = true
	c.EarlyExitVerdict = verdict
	return c
}
