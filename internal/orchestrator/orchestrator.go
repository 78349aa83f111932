// Package orchestrator implements the detector orchestrator (spec
// component C4): it resolves the effective policy for a request, runs
// the policy's detectors in staged waves over a shared blackboard,
// aggregates their contributions, and asks the policy evaluator for a
// verdict after every wave.
//
// Grounded on github.com/rcourtman/pulse-go-rewrite's
// internal/alerts.Manager.CheckUnifiedResource dispatch shape (resolve
// thresholds → dispatch per-metric checks → aggregate) and on the
// internal/ai/circuit breaker's state-machine style for early-exit and
// escalation transitions. Wave concurrency uses golang.org/x/sync/errgroup,
// the idiomatic fit for a bounded fan-out of heterogeneous per-wave
// detector functions, rather than hand-rolled sync.WaitGroup bookkeeping.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/detect"
	"github.com/scottgal/stylobot-sub004/internal/policy"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// ActionExecutor is the subset of the action engine (C6) the orchestrator
// invokes once a verdict is finalized. Defined here rather than imported
// from internal/action so this package's compile-time dependency graph
// stays one-directional (action never needs to know about orchestrator).
type ActionExecutor interface {
	Execute(ctx context.Context, name string, req reqview.Request, resp reqview.ResponseHandle, v Verdict) error
}

// Verdict is the orchestrator's final output for one request (spec §4.4
// finalize step).
type Verdict struct {
	Action           policy.Action
	RiskBand         string
	Risk             float64
	Confidence       float64
	PolicyName       string
	ActionPolicyName string
	Description      string
}

// Config controls per-engine defaults not carried by an individual
// policy.
type Config struct {
	DefaultPolicyName string
	GlobalWeights     map[string]float64
	MaxStageHops      int // guards against a transition cycle; default 8
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{DefaultPolicyName: "default", GlobalWeights: map[string]float64{}, MaxStageHops: 8}
}

// Engine wires the policy registry, the named detector catalog, and an
// action executor together into the request-path pipeline.
type Engine struct {
	cfg       Config
	registry  *policy.Registry
	keys      *policy.Store
	detectors map[string]detect.Detector
	actions   ActionExecutor
}

// New builds an Engine. detectors maps a policy's detector-name
// references to concrete implementations; actions executes the
// finalized verdict.
func New(cfg Config, registry *policy.Registry, keys *policy.Store, detectors map[string]detect.Detector, actions ActionExecutor) *Engine {
	return &Engine{cfg: cfg, registry: registry, keys: keys, detectors: detectors, actions: actions}
}

// resolvePolicy implements spec §4.4's resolution order: static-asset
// extension match → path-policy mapping → API-key override → default.
func (e *Engine) resolvePolicy(req reqview.Request, apiKeyName, apiKeySecret string) policy.Policy {
	p := e.registry.GetForPath(req.Path(), e.cfg.DefaultPolicyName)

	if apiKeyName == "" || e.keys == nil {
		return p
	}
	k, err := e.keys.Validate(time.Now(), apiKeyName, apiKeySecret, req.Path())
	if err != nil {
		log.Debug().Str("api_key", apiKeyName).Err(err).Msg("api key validation failed, using path policy")
		return p
	}
	if !e.keys.Allow(apiKeyName) {
		log.Warn().Str("api_key", apiKeyName).Msg("api key rate limit exceeded")
	}
	if k.DetectionPolicyName != "" {
		if base, ok := e.registry.Get(k.DetectionPolicyName); ok {
			p = base
		}
	}
	return policy.Overlay(p, k)
}

// Run evaluates a single request end to end: policy resolution, staged
// detector waves, aggregation, and evaluator-driven finalization.
func (e *Engine) Run(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, apiKeyName, apiKeySecret string) Verdict {
	p := e.resolvePolicy(req, apiKeyName, apiKeySecret)
	bb := blackboard.New()

	if !p.Enabled {
		p, _ = e.registry.Get(e.cfg.DefaultPolicyName)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	aiPathRan := false
	includeSlow := p.ForceSlowPath
	ran := make(map[string]bool)
	hops := 0

	for {
		hops++
		if hops > e.cfg.MaxStageHops {
			log.Warn().Str("policy", p.Name).Msg("orchestrator exceeded max policy transition hops, forcing allow")
			return e.finalizeAndExecute(ctx, req, resp, bb, p, policy.ActionAllow, "transition hop limit exceeded")
		}

		names := p.AllDetectors(includeSlow, aiPathRan, false)
		pending := make([]string, 0, len(names))
		for _, n := range names {
			if !ran[n] {
				pending = append(pending, n)
			}
		}
		stages := partitionByStage(e.detectors, pending)

		if len(stages) == 0 {
			if outcome, done := e.evaluateAndAct(ctx, req, resp, bb, &p, &aiPathRan, policy.ActionContinue); done {
				return outcome
			}
			// Evaluator returned Continue with nothing left to run: escalate
			// to the next available path, or finalize as an allow.
			switch {
			case !includeSlow:
				includeSlow = true
			case p.EscalateToAI && !aiPathRan:
				aiPathRan = true
			default:
				return e.finalizeAndExecute(ctx, req, resp, bb, p, policy.ActionAllow, "all stages exhausted")
			}
			continue
		}

		decided := false
		for _, stage := range stages {
			contributions := e.runStage(ctx, stage, bb, req, p)
			earlyExit := policy.ActionContinue
			for _, c := range contributions {
				bb.AddContribution(c)
				ran[c.DetectorName] = true
				if c.TriggerEarlyExit && earlyExit == policy.ActionContinue {
					earlyExit = policy.EarlyExitAction(c.EarlyExitVerdict)
				}
			}
			for _, d := range stage {
				ran[d.Name()] = true
			}
			risk, confidence := Aggregate(bb, p, e.cfg.GlobalWeights)
			bb.SetAggregate(risk, confidence)

			priorPolicyName := p.Name
			outcome, done := e.evaluateAndAct(ctx, req, resp, bb, &p, &aiPathRan, earlyExit)
			if done {
				return outcome
			}
			if p.Name != priorPolicyName {
				// A transition changed the active policy mid-wave; restart
				// stage selection under the new policy from the top.
				decided = true
				break
			}
		}
		if decided {
			continue
		}
		if !includeSlow {
			includeSlow = true
		} else if p.EscalateToAI && !aiPathRan {
			aiPathRan = true
		} else {
			return e.finalizeAndExecute(ctx, req, resp, bb, p, policy.ActionAllow, "all stages exhausted")
		}
	}
}

// evaluateAndAct consults the policy evaluator after a completed stage
// (or an empty remaining-work set) and, for any decisive outcome, either
// returns the finalized verdict (done=true) or applies a transition/AI
// escalation in place and reports done=false so the caller's loop
// continues. The caller detects an in-place policy swap by comparing
// p.Name before and after the call; a Verdict returned with done=false
// carries only PolicyName.
func (e *Engine) evaluateAndAct(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, bb *blackboard.Blackboard, p *policy.Policy, aiPathRan *bool, earlyExit policy.Action) (Verdict, bool) {
	outcome := policy.Evaluate(*p, bb, earlyExit, *aiPathRan)

	switch outcome.Kind {
	case policy.OutcomeTransition:
		if next, ok := e.registry.Get(outcome.TransitionName); ok {
			*p = next
		} else {
			log.Warn().Str("policy", outcome.TransitionName).Msg("transition referenced unknown policy, falling back to default")
			if def, ok := e.registry.Get(e.cfg.DefaultPolicyName); ok {
				*p = def
			}
		}
		return Verdict{PolicyName: p.Name}, false
	case policy.OutcomeInvokeActionPolicy:
		return e.finalizeAndExecute(ctx, req, resp, bb, *p, policy.ActionContinue, outcome.Description, withActionPolicyName(outcome.ActionPolicyName)), true
	case policy.OutcomeAction:
		if outcome.Action == policy.ActionEscalateToAi {
			*aiPathRan = true
			return Verdict{PolicyName: p.Name}, false
		}
		return e.finalizeAndExecute(ctx, req, resp, bb, *p, outcome.Action, outcome.Description), true
	default:
		return Verdict{PolicyName: p.Name}, false
	}
}

// finalizeAndExecute builds the final Verdict and, when an action
// executor is wired, invokes it immediately (spec §2 control flow: "C5
// decides verdict → C6 executes"). Execution errors are logged, not
// surfaced — an action failure degrades to the verdict already computed
// rather than aborting the request (spec §7).
func (e *Engine) finalizeAndExecute(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, bb *blackboard.Blackboard, p policy.Policy, action policy.Action, description string, opts ...finalizeOpt) Verdict {
	v := e.finalize(bb, p, action, description, opts...)
	if e.actions == nil || resp == nil {
		return v
	}
	name := v.ActionPolicyName
	if name == "" {
		name = p.ActionPolicyName
	}
	if name == "" {
		return v
	}
	if err := e.actions.Execute(ctx, name, req, resp, v); err != nil {
		log.Error().Str("action_policy", name).Err(err).Msg("action execution failed")
	}
	return v
}

type finalizeOpt func(*Verdict)

func withActionPolicyName(name string) finalizeOpt {
	return func(v *Verdict) { v.ActionPolicyName = name }
}

func (e *Engine) finalize(bb *blackboard.Blackboard, p policy.Policy, action policy.Action, description string, opts ...finalizeOpt) Verdict {
	v := Verdict{
		Action:           action,
		RiskBand:         policy.RiskBand(bb.CurrentRiskScore()),
		Risk:             bb.CurrentRiskScore(),
		Confidence:       bb.Confidence(),
		PolicyName:       p.Name,
		ActionPolicyName: p.ActionPolicyName,
		Description:      description,
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// runStage runs every detector in stage concurrently (bounded by
// errgroup's implicit unlimited fan-out within a single wave — waves are
// small, bounded by the policy's own detector list) and collects their
// contributions. A detector that panics contributes nothing (spec §7
// "Detector soft-failure"). Detectors carry no timeout of their own: the
// policy's pipeline deadline on ctx is the only bound, and a detector
// whose trigger passes after that deadline has expired is skipped.
func (e *Engine) runStage(ctx context.Context, stage []detect.Detector, bb *blackboard.Blackboard, req reqview.Request, p policy.Policy) []blackboard.Contribution {
	results := make([]blackboard.Contribution, len(stage))
	ok := make([]bool, len(stage))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range stage {
		i, d := i, d
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("detector", d.Name()).Interface("panic", r).Msg("detector panicked, dropping contribution")
				}
			}()
			if !p.BypassTriggerConditions && !d.Trigger(bb) {
				return nil
			}
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			results[i] = d.Run(gctx, bb, req)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]blackboard.Contribution, 0, len(stage))
	for i, present := range ok {
		if present {
			out = append(out, results[i])
			bb.MarkCompleted(stage[i].Name())
		}
	}
	return out
}

// partitionByStage resolves detector names to implementations and groups
// them into stage-ordered waves (spec §4.4 step 1). Unknown names are
// logged and skipped rather than failing the whole request.
func partitionByStage(catalog map[string]detect.Detector, names []string) [][]detect.Detector {
	byStage := make(map[int][]detect.Detector)
	for _, name := range names {
		d, ok := catalog[name]
		if !ok {
			log.Warn().Str("detector", name).Msg("policy referenced unknown detector, skipping")
			continue
		}
		byStage[d.Stage()] = append(byStage[d.Stage()], d)
	}

	stageNums := make([]int, 0, len(byStage))
	for s := range byStage {
		stageNums = append(stageNums, s)
	}
	sort.Ints(stageNums)

	out := make([][]detect.Detector, 0, len(stageNums))
	for _, s := range stageNums {
		out = append(out, byStage[s])
	}
	return out
}
