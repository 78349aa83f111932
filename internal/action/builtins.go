package action

import (
	"context"
	"net/url"
	"strconv"

	"github.com/scottgal/stylobot-sub004/internal/orchestrator"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// RedirectConfig parameterizes a redirect action (spec §4.6).
type RedirectConfig struct {
	TargetTemplate     string
	Permanent          bool
	PreserveQuery      bool
	InjectReturnURLKey string // e.g. "return_to"; empty disables injection
}

func builtinActions() map[string]Action {
	return map[string]Action{
		"block":              Func(blockAction(403, "request blocked")),
		"block-hard":         Func(blockAction(403, "request blocked (hard)")),
		"block-soft":         Func(blockAction(429, "request throttled to the point of denial")),
		"throttle":           Func(throttleAction(false)),
		"throttle-stealth":   Func(throttleAction(true)),
		"challenge":          Func(challengeAction(false)),
		"challenge-captcha":  Func(challengeAction(true)),
		"redirect":           Func(redirectAction(RedirectConfig{TargetTemplate: "/blocked?reason={riskBand}", Permanent: false})),
		"redirect-honeypot":  Func(redirectAction(RedirectConfig{TargetTemplate: "/__trap/{riskBand}", Permanent: false})),
		"redirect-tarpit":    Func(redirectAction(RedirectConfig{TargetTemplate: "/__tarpit", Permanent: false, PreserveQuery: true})),
		"logonly":            Func(logOnlyAction),
		"shadow":             Func(shadowAction),
	}
}

func blockAction(status int, description string) Func {
	return func(_ context.Context, _ reqview.Request, _ reqview.ResponseHandle, v orchestrator.Verdict) Result {
		return Result{
			Continue:    false,
			StatusCode:  status,
			Description: description,
			Metadata:    map[string]string{"risk-band": v.RiskBand, "policy": v.PolicyName},
		}
	}
}

// throttleAction signals the upstream pipeline to slow the response
// (e.g. via an injected delay middleware) rather than doing so itself —
// the action layer only annotates the response; enforcing the delay is
// a collaborator concern (spec §1 Non-goals: no transport ownership).
// stealth mode omits the Retry-After-style hint so the client cannot
// easily tell it has been singled out.
func throttleAction(stealth bool) Func {
	return func(_ context.Context, _ reqview.Request, _ reqview.ResponseHandle, v orchestrator.Verdict) Result {
		meta := map[string]string{"risk-band": v.RiskBand, "throttle": "true"}
		if !stealth {
			meta["retry-after-hint"] = "2s"
		}
		return Result{Continue: true, Description: "request throttled", Metadata: meta}
	}
}

// challengeAction marks the response for an interactive challenge (JS
// proof-of-work, or CAPTCHA when captcha is set); actually rendering the
// challenge page is a collaborator concern.
func challengeAction(captcha bool) Func {
	kind := "js-challenge"
	if captcha {
		kind = "captcha"
	}
	return func(_ context.Context, _ reqview.Request, _ reqview.ResponseHandle, v orchestrator.Verdict) Result {
		return Result{
			Continue:    false,
			StatusCode:  403,
			Description: "request challenged: " + kind,
			Metadata:    map[string]string{"challenge": kind, "risk-band": v.RiskBand},
		}
	}
}

func redirectAction(cfg RedirectConfig) Func {
	return func(_ context.Context, req reqview.Request, resp reqview.ResponseHandle, v orchestrator.Verdict) Result {
		target := renderPlaceholders(cfg.TargetTemplate, v, req.Path())

		if cfg.PreserveQuery && req.RawQuery() != "" {
			sep := "?"
			if containsQuery(target) {
				sep = "&"
			}
			target += sep + req.RawQuery()
		}
		if cfg.InjectReturnURLKey != "" {
			sep := "?"
			if containsQuery(target) {
				sep = "&"
			}
			target += sep + cfg.InjectReturnURLKey + "=" + url.QueryEscape(req.Path())
		}

		if resp != nil {
			resp.Redirect(target, cfg.Permanent)
		}
		status := 302
		if cfg.Permanent {
			status = 301
		}
		return Result{
			Continue:    false,
			StatusCode:  status,
			Description: "redirected to " + target,
			Metadata:    map[string]string{"target": target},
		}
	}
}

func containsQuery(target string) bool {
	for _, r := range target {
		if r == '?' {
			return true
		}
	}
	return false
}

func logOnlyAction(_ context.Context, _ reqview.Request, _ reqview.ResponseHandle, v orchestrator.Verdict) Result {
	return Result{
		Continue:    true,
		Description: "observed, no action taken",
		Metadata:    map[string]string{"risk": strconv.FormatFloat(v.Risk, 'f', 3, 64), "risk-band": v.RiskBand},
	}
}

// shadowAction runs identically to logOnlyAction but is named separately
// so operators can distinguish "policy intentionally observe-only"
// (logonly) from "this would have blocked, but we are shadow-testing the
// policy before promoting it" (shadow) in metrics and logs.
func shadowAction(_ context.Context, _ reqview.Request, _ reqview.ResponseHandle, v orchestrator.Verdict) Result {
	return Result{
		Continue:    true,
		Description: "shadow mode: verdict recorded, response unaffected",
		Metadata:    map[string]string{"risk": strconv.FormatFloat(v.Risk, 'f', 3, 64), "risk-band": v.RiskBand, "shadow": "true"},
	}
}
