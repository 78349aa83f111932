package policy

import "github.com/scottgal/stylobot-sub004/internal/blackboard"

// Outcome is the evaluator's verdict for one wave (spec §4.5): exactly
// one of Continue, a named transition, a direct Action, or a named
// action-policy invocation is meaningful, selected by Kind.
type Outcome struct {
	Kind             OutcomeKind
	TransitionName   string
	Action           Action
	ActionPolicyName string
	Description      string
}

type OutcomeKind int

const (
	OutcomeContinue OutcomeKind = iota
	OutcomeTransition
	OutcomeAction
	OutcomeInvokeActionPolicy
)

// Evaluate implements the spec §4.4/§4.5 evaluation order: early-exit
// honoring → first-match transition → immediate block → AI escalation →
// early exit → continue. earlyExit carries the most recent early-exit
// contribution's verdict, if any, already translated by the caller into
// an Action; pass ActionContinue when there is none.
func Evaluate(p Policy, bb *blackboard.Blackboard, earlyExit Action, aiPathRan bool) Outcome {
	if earlyExit != ActionContinue {
		return Outcome{Kind: OutcomeAction, Action: earlyExit, Description: "early-exit contribution"}
	}

	risk := bb.CurrentRiskScore()
	confidence := bb.Confidence()

	for _, t := range p.Transitions {
		if transitionMatches(t.Condition, bb, risk) {
			if t.ActionPolicyName != "" {
				return Outcome{Kind: OutcomeInvokeActionPolicy, ActionPolicyName: t.ActionPolicyName, Description: t.Description}
			}
			if t.GoToPolicy != "" {
				return Outcome{Kind: OutcomeTransition, TransitionName: t.GoToPolicy, Description: t.Description}
			}
			return Outcome{Kind: OutcomeAction, Action: t.Action, Description: t.Description}
		}
	}

	if risk >= p.ImmediateBlockThreshold && confidence >= p.MinConfidence {
		return Outcome{Kind: OutcomeAction, Action: ActionBlock, Description: "immediate block threshold"}
	}
	if p.EscalateToAI && risk >= p.AIEscalationThreshold && !aiPathRan {
		return Outcome{Kind: OutcomeAction, Action: ActionEscalateToAi, Description: "ai escalation threshold"}
	}
	if p.UseFastPath && risk <= p.EarlyExitThreshold {
		return Outcome{Kind: OutcomeAction, Action: ActionAllow, Description: "early exit threshold"}
	}
	return Outcome{Kind: OutcomeContinue}
}

func transitionMatches(c TransitionCondition, bb *blackboard.Blackboard, risk float64) bool {
	if c.WhenRiskExceeds != nil && !(risk >= *c.WhenRiskExceeds) {
		return false
	}
	if c.WhenRiskBelow != nil && !(risk < *c.WhenRiskBelow) {
		return false
	}
	if c.WhenSignal != "" {
		v, ok := bb.GetFloat(c.WhenSignal)
		if !ok {
			if bv, bok := bb.GetBool(c.WhenSignal); bok {
				if bv {
					v = 1
				}
				ok = true
			}
		}
		if !ok {
			return false
		}
		if c.WhenSignalValue != nil && v != *c.WhenSignalValue {
			return false
		}
	}
	if c.WhenReputationState != "" {
		state, ok := bb.GetString("reputation.best_state")
		if !ok || state != c.WhenReputationState {
			return false
		}
	}
	return true
}

// RiskBand names the coarse risk label over final risk (spec §4.4).
func RiskBand(risk float64) string {
	switch {
	case risk < 0.3:
		return "Low"
	case risk < 0.6:
		return "Medium"
	case risk < 0.85:
		return "High"
	default:
		return "Critical"
	}
}

// EarlyExitAction translates an early-exit verdict into a policy Action
// (spec §4.4).
func EarlyExitAction(v blackboard.EarlyExitVerdict) Action {
	switch v {
	case blackboard.VerifiedGoodBot, blackboard.Whitelisted, blackboard.PolicyAllowed:
		return ActionAllow
	case blackboard.VerifiedBadBot, blackboard.Blacklisted, blackboard.PolicyBlocked:
		return ActionBlock
	default:
		return ActionContinue
	}
}
