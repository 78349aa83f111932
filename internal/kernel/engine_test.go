package kernel

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/scottgal/stylobot-sub004/internal/config"
	"github.com/scottgal/stylobot-sub004/internal/detect"
	"github.com/scottgal/stylobot-sub004/internal/idhash"
	"github.com/scottgal/stylobot-sub004/internal/learnbus"
	"github.com/scottgal/stylobot-sub004/internal/orchestrator"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

type fakeRequest struct{ path, ip, ua string }

func (r *fakeRequest) Method() string      { return "GET" }
func (r *fakeRequest) Path() string        { return r.path }
func (r *fakeRequest) RawQuery() string    { return "" }
func (r *fakeRequest) RemoteIP() string    { return r.ip }
func (r *fakeRequest) TLSFingerprint() string { return "" }
func (r *fakeRequest) TraceID() string     { return "trace-1" }
func (r *fakeRequest) Header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", r.ua)
	return h
}

var _ reqview.Request = (*fakeRequest)(nil)

type fakeResponse struct{ status int }

func (r *fakeResponse) SetStatus(code int)             { r.status = code }
func (r *fakeResponse) SetHeader(string, string)        {}
func (r *fakeResponse) SetBody([]byte)                  {}
func (r *fakeResponse) Redirect(string, bool)           {}

var _ reqview.ResponseHandle = (*fakeResponse)(nil)

func TestEngineEvaluateReturnsAVerdictWithoutPanicking(t *testing.T) {
	e := New(config.Default(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	req := &fakeRequest{path: "/", ip: "203.0.113.7", ua: "Mozilla/5.0 (compatible test agent)"}
	resp := &fakeResponse{}

	v := e.Evaluate(context.Background(), req, resp, "", "")
	if v.PolicyName == "" {
		t.Fatalf("expected a resolved policy name, got empty verdict %+v", v)
	}
}

func TestEngineEvaluateDoesNotPanicOnNilDeps(t *testing.T) {
	e := New(config.Default(), Deps{})
	req := &fakeRequest{path: "/static/app.css", ip: "198.51.100.4", ua: "curl/8.0"}
	resp := &fakeResponse{}
	_ = e.Evaluate(context.Background(), req, resp, "", "")
}

func TestEvaluateRecordsSignatureObservation(t *testing.T) {
	e := New(config.Default(), Deps{})
	req := &fakeRequest{path: "/a", ip: "203.0.113.9", ua: "curl/8.0"}
	_ = e.Evaluate(context.Background(), req, &fakeResponse{}, "", "")

	vec := idhash.Derive(req.ip, req.ua)
	if _, ok := e.Signatures.GetBehavior(string(vec.Primary)); !ok {
		t.Fatal("expected the signature coordinator to have observed the request")
	}
}

func TestPublishOutcomeAttachesIdentityVectors(t *testing.T) {
	e := New(config.Default(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan learnbus.Event, 4)
	e.Bus.Subscribe(func(_ context.Context, ev learnbus.Event) {
		events <- ev
	}, learnbus.FullDetection, learnbus.HighConfidenceDetection)
	e.Start(ctx)
	defer e.Stop()

	req := &fakeRequest{path: "/", ip: "203.0.113.11", ua: "curl/8.0"}
	e.Evaluate(context.Background(), req, &fakeResponse{}, "", "")

	select {
	case ev := <-events:
		id, ok := ev.Payload["identity"].(learnbus.Identity)
		if !ok || id.PrimaryKey == "" {
			t.Fatalf("expected a populated identity on the published event, got %+v", ev.Payload["identity"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the outcome event")
	}
}

type stubClassifier struct {
	score float64
	label string
}

func (s stubClassifier) Classify(context.Context, map[string]float64) (float64, string, error) {
	return s.score, s.label, nil
}

func TestEnqueueBackgroundEnrichmentSubmitsLLMJobAboveRiskFloor(t *testing.T) {
	e := New(config.Default(), Deps{Classifier: stubClassifier{score: 0.8, label: "automation"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	events := make(chan learnbus.Event, 4)
	e.Bus.Subscribe(func(_ context.Context, ev learnbus.Event) {
		events <- ev
	}, learnbus.SignatureFeedback)

	req := &fakeRequest{path: "/", ip: "203.0.113.12", ua: "curl/8.0"}
	vec := idhash.Derive(req.ip, req.ua)
	e.enqueueBackgroundEnrichment(vec, req, orchestrator.Verdict{Risk: 0.9})

	select {
	case ev := <-events:
		if ev.Payload["signature"] != string(vec.Primary) {
			t.Fatalf("expected feedback keyed to the request's signature, got %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the background classifier job to publish feedback")
	}
}

func TestEnqueueBackgroundEnrichmentSkipsBelowRiskFloor(t *testing.T) {
	e := New(config.Default(), Deps{Classifier: stubClassifier{score: 0.8, label: "automation"}})
	req := &fakeRequest{path: "/", ip: "203.0.113.13", ua: "curl/8.0"}
	vec := idhash.Derive(req.ip, req.ua)
	e.enqueueBackgroundEnrichment(vec, req, orchestrator.Verdict{Risk: 0.1})

	snap := e.Dispatcher.Snapshot()
	if snap.Completed != 0 || snap.Pending != 0 || snap.Active != 0 {
		t.Fatalf("expected no background job below the risk floor, got %+v", snap)
	}
}

var _ detect.Classifier = stubClassifier{}
