// Package action implements the action registry and built-in action
// policies (spec component C6): named actions executed against the
// response once the orchestrator finalizes a verdict.
//
// Grounded on the notification/delivery shape implied by
// github.com/rcourtman/pulse-go-rewrite's internal/notifications package
// (template placeholder substitution, per-channel dispatch) — that
// package's source was pruned from the retrieval pack, but its test
// files (notifications_*_test.go) show a render-then-deliver contract
// this module mirrors for redirect URL templates. The spec's
// placeholders ({risk}, {riskBand}, ...) are plain literal tokens rather
// than the teacher's Go text/template syntax, so substitution here is a
// strings.NewReplacer pass rather than text/template.
package action

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/scottgal/stylobot-sub004/internal/orchestrator"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// Result is a single action's outcome (spec §4.6).
type Result struct {
	Continue    bool
	StatusCode  int
	Description string
	Metadata    map[string]string
}

// Action executes a named action policy against the finalized verdict.
type Action interface {
	Execute(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, v orchestrator.Verdict) Result
}

// Func adapts a plain function into an Action.
type Func func(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, v orchestrator.Verdict) Result

func (f Func) Execute(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, v orchestrator.Verdict) Result {
	return f(ctx, req, resp, v)
}

// Registry holds named actions, pre-populated with the spec's built-ins.
type Registry struct {
	actions map[string]Action
}

// NewRegistry returns a registry with every built-in action policy
// registered (spec §4.6): block, block-hard, block-soft, throttle,
// throttle-stealth, challenge, challenge-captcha, redirect,
// redirect-honeypot, redirect-tarpit, logonly, shadow.
func NewRegistry() *Registry {
	r := &Registry{actions: make(map[string]Action)}
	for name, a := range builtinActions() {
		r.actions[name] = a
	}
	return r
}

// Register adds or overwrites a named action.
func (r *Registry) Register(name string, a Action) { r.actions[name] = a }

// Get returns a registered action.
func (r *Registry) Get(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Execute satisfies orchestrator.ActionExecutor: it looks up the named
// action and applies its Result to resp.
func (r *Registry) Execute(ctx context.Context, name string, req reqview.Request, resp reqview.ResponseHandle, v orchestrator.Verdict) error {
	a, ok := r.actions[name]
	if !ok {
		return fmt.Errorf("action: unknown action policy %q", name)
	}
	res := a.Execute(ctx, req, resp, v)
	applyResult(resp, res)
	return nil
}

func applyResult(resp reqview.ResponseHandle, res Result) {
	if resp == nil {
		return
	}
	if res.StatusCode != 0 {
		resp.SetStatus(res.StatusCode)
	}
	for k, val := range res.Metadata {
		resp.SetHeader("X-Stylobot-"+k, val)
	}
}

// renderPlaceholders substitutes the spec's {risk}, {riskBand},
// {policy}, {originalPath} tokens in target.
func renderPlaceholders(target string, v orchestrator.Verdict, originalPath string) string {
	replacer := strings.NewReplacer(
		"{risk}", strconv.FormatFloat(v.Risk, 'f', 3, 64),
		"{riskBand}", v.RiskBand,
		"{policy}", v.PolicyName,
		"{originalPath}", url.QueryEscape(originalPath),
	)
	return replacer.Replace(target)
}
