package action

import (
	"context"
	"net/http"
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/orchestrator"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

type fakeRequest struct {
	path  string
	query string
}

func (r *fakeRequest) Method() string         { return "GET" }
func (r *fakeRequest) Path() string           { return r.path }
func (r *fakeRequest) RawQuery() string       { return r.query }
func (r *fakeRequest) Header() http.Header    { return http.Header{} }
func (r *fakeRequest) RemoteIP() string       { return "203.0.113.1" }
func (r *fakeRequest) TLSFingerprint() string { return "" }
func (r *fakeRequest) TraceID() string        { return "t1" }

var _ reqview.Request = (*fakeRequest)(nil)

type fakeResponse struct {
	status      int
	headers     map[string]string
	redirectTo  string
	redirectPerm bool
}

func newFakeResponse() *fakeResponse { return &fakeResponse{headers: map[string]string{}} }

func (r *fakeResponse) SetStatus(code int)            { r.status = code }
func (r *fakeResponse) SetHeader(k, v string)         { r.headers[k] = v }
func (r *fakeResponse) SetBody([]byte)                {}
func (r *fakeResponse) Redirect(url string, perm bool) { r.redirectTo = url; r.redirectPerm = perm }

var _ reqview.ResponseHandle = (*fakeResponse)(nil)

func TestRegistryHasAllBuiltins(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{
		"block", "block-hard", "block-soft", "throttle", "throttle-stealth",
		"challenge", "challenge-captcha", "redirect", "redirect-honeypot",
		"redirect-tarpit", "logonly", "shadow",
	} {
		if _, ok := reg.Get(name); !ok {
			t.Fatalf("expected built-in action %q to be registered", name)
		}
	}
}

func TestBlockActionSetsStatus(t *testing.T) {
	reg := NewRegistry()
	resp := newFakeResponse()
	err := reg.Execute(context.Background(), "block", &fakeRequest{path: "/x"}, resp, orchestrator.Verdict{RiskBand: "High", PolicyName: "default"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.status != 403 {
		t.Fatalf("expected status 403, got %d", resp.status)
	}
}

func TestRedirectActionSubstitutesPlaceholders(t *testing.T) {
	a := redirectAction(RedirectConfig{TargetTemplate: "/blocked?band={riskBand}&p={policy}", Permanent: true})
	resp := newFakeResponse()
	res := a.Execute(context.Background(), &fakeRequest{path: "/secret"}, resp, orchestrator.Verdict{RiskBand: "Critical", PolicyName: "strict"})

	if resp.redirectTo != "/blocked?band=Critical&p=strict" {
		t.Fatalf("expected placeholder substitution in redirect target, got %q", resp.redirectTo)
	}
	if !resp.redirectPerm {
		t.Fatalf("expected permanent redirect")
	}
	if res.StatusCode != 301 {
		t.Fatalf("expected 301 for a permanent redirect, got %d", res.StatusCode)
	}
}

func TestRedirectActionPreservesQueryString(t *testing.T) {
	a := redirectAction(RedirectConfig{TargetTemplate: "/tarpit", PreserveQuery: true})
	resp := newFakeResponse()
	a.Execute(context.Background(), &fakeRequest{path: "/x", query: "a=1&b=2"}, resp, orchestrator.Verdict{})

	if resp.redirectTo != "/tarpit?a=1&b=2" {
		t.Fatalf("expected query string preserved, got %q", resp.redirectTo)
	}
}

func TestLogOnlyActionContinues(t *testing.T) {
	res := Func(logOnlyAction).Execute(context.Background(), &fakeRequest{}, nil, orchestrator.Verdict{Risk: 0.6, RiskBand: "Medium"})
	if !res.Continue {
		t.Fatalf("expected logonly to continue the request")
	}
}

func TestThrottleStealthOmitsRetryHint(t *testing.T) {
	res := Func(throttleAction(true)).Execute(context.Background(), &fakeRequest{}, nil, orchestrator.Verdict{})
	if _, ok := res.Metadata["retry-after-hint"]; ok {
		t.Fatalf("expected stealth throttle to omit the retry-after hint")
	}
	res2 := Func(throttleAction(false)).Execute(context.Background(), &fakeRequest{}, nil, orchestrator.Verdict{})
	if _, ok := res2.Metadata["retry-after-hint"]; !ok {
		t.Fatalf("expected non-stealth throttle to include a retry-after hint")
	}
}

func TestExecuteUnknownActionReturnsError(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Execute(context.Background(), "does-not-exist", &fakeRequest{}, nil, orchestrator.Verdict{}); err == nil {
		t.Fatalf("expected an error for an unregistered action name")
	}
}
