package orchestrator

import (
	"context"
	"net/http"
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/detect"
	"github.com/scottgal/stylobot-sub004/internal/policy"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

type fakeRequest struct {
	path   string
	header http.Header
	ip     string
}

func (r *fakeRequest) Method() string         { return "GET" }
func (r *fakeRequest) Path() string           { return r.path }
func (r *fakeRequest) RawQuery() string       { return "" }
func (r *fakeRequest) Header() http.Header    { return r.header }
func (r *fakeRequest) RemoteIP() string       { return r.ip }
func (r *fakeRequest) TLSFingerprint() string { return "" }
func (r *fakeRequest) TraceID() string        { return "trace-1" }

var _ reqview.Request = (*fakeRequest)(nil)

func newTestRequest() *fakeRequest {
	return &fakeRequest{path: "/", header: http.Header{}, ip: "203.0.113.1"}
}

type fakeActionExecutor struct {
	invoked []string
}

func (f *fakeActionExecutor) Execute(_ context.Context, name string, _ reqview.Request, _ reqview.ResponseHandle, _ Verdict) error {
	f.invoked = append(f.invoked, name)
	return nil
}

type fakeResponseHandle struct{}

func (fakeResponseHandle) SetStatus(int)             {}
func (fakeResponseHandle) SetHeader(string, string)  {}
func (fakeResponseHandle) SetBody([]byte)            {}
func (fakeResponseHandle) Redirect(string, bool)     {}

func constantDetector(name string, stage int, evidence, weight float64) detect.Detector {
	return detect.Func{
		DetectorName:  name,
		DetectorStage: stage,
		DetectorTrig:  detect.Always,
		RunFunc: func(_ context.Context, _ *blackboard.Blackboard, _ reqview.Request) blackboard.Contribution {
			return blackboard.Contribution{DetectorName: name, BotEvidence: evidence, EvidenceWeight: weight, Confidence: 1.0}
		},
	}
}

func earlyExitDetector(name string, verdict blackboard.EarlyExitVerdict) detect.Detector {
	return detect.Func{
		DetectorName:  name,
		DetectorStage: 0,
		DetectorTrig:  detect.Always,
		RunFunc: func(_ context.Context, _ *blackboard.Blackboard, _ reqview.Request) blackboard.Contribution {
			return blackboard.Contribution{DetectorName: name, TriggerEarlyExit: true, EarlyExitVerdict: verdict, Confidence: 1.0}
		},
	}
}

func testPolicy(name string, fastPath []string, earlyExitThreshold, blockThreshold, minConfidence float64) policy.Policy {
	return policy.Policy{
		Name:                    name,
		FastPath:                fastPath,
		UseFastPath:             true,
		EarlyExitThreshold:      earlyExitThreshold,
		ImmediateBlockThreshold: blockThreshold,
		MinConfidence:           minConfidence,
		AIEscalationThreshold:   2.0, // effectively disabled
		WeightOverrides:         map[string]float64{},
		Enabled:                 true,
		ActionPolicyOverridable: true,
		ExcludedDetectors:       map[string]bool{},
	}
}

func TestEngineBlocksOnHighRiskWithConfidence(t *testing.T) {
	reg := policy.NewRegistry()
	p := testPolicy("test-block", []string{"high1", "high2"}, 0.2, 0.7, 0.5)
	p.ActionPolicyName = "block"
	reg.Register(p)
	reg.SetMapping(policy.NewPathMapping(nil, nil, false))

	detectors := map[string]detect.Detector{
		"high1": constantDetector("high1", 0, 0.8, 2.0),
		"high2": constantDetector("high2", 0, 0.75, 2.0),
	}
	actions := &fakeActionExecutor{}
	eng := New(Config{DefaultPolicyName: "test-block", GlobalWeights: map[string]float64{}, MaxStageHops: 8}, reg, nil, detectors, actions)

	v := eng.Run(context.Background(), newTestRequest(), fakeResponseHandle{}, "", "")

	if v.Action != policy.ActionBlock {
		t.Fatalf("expected Block verdict, got %v (risk=%f confidence=%f)", v.Action, v.Risk, v.Confidence)
	}
	if len(actions.invoked) != 1 || actions.invoked[0] != "block" {
		t.Fatalf("expected the block action policy to be invoked once, got %v", actions.invoked)
	}
}

func TestEngineAllowsOnEarlyExitThreshold(t *testing.T) {
	reg := policy.NewRegistry()
	p := testPolicy("test-allow", []string{"low1"}, 0.5, 0.9, 0.9)
	reg.Register(p)
	reg.SetMapping(policy.NewPathMapping(nil, nil, false))

	detectors := map[string]detect.Detector{
		"low1": constantDetector("low1", 0, 0.1, 1.0),
	}
	eng := New(Config{DefaultPolicyName: "test-allow", GlobalWeights: map[string]float64{}, MaxStageHops: 8}, reg, nil, detectors, nil)

	v := eng.Run(context.Background(), newTestRequest(), nil, "", "")

	if v.Action != policy.ActionAllow {
		t.Fatalf("expected Allow verdict under the early-exit threshold, got %v", v.Action)
	}
}

func TestEngineHonorsVerifiedBotEarlyExit(t *testing.T) {
	reg := policy.NewRegistry()
	p := testPolicy("test-verified", []string{"verified"}, 0.01, 0.5, 0.5)
	reg.Register(p)
	reg.SetMapping(policy.NewPathMapping(nil, nil, false))

	detectors := map[string]detect.Detector{
		"verified": earlyExitDetector("verified", blackboard.VerifiedGoodBot),
	}
	eng := New(Config{DefaultPolicyName: "test-verified", GlobalWeights: map[string]float64{}, MaxStageHops: 8}, reg, nil, detectors, nil)

	v := eng.Run(context.Background(), newTestRequest(), nil, "", "")

	if v.Action != policy.ActionAllow {
		t.Fatalf("expected verified-good-bot early exit to translate to Allow, got %v", v.Action)
	}
}

func TestEngineSkipsUnknownDetectorWithoutFailing(t *testing.T) {
	reg := policy.NewRegistry()
	p := testPolicy("test-unknown", []string{"missing", "present"}, 0.9, 0.95, 0.95)
	reg.Register(p)
	reg.SetMapping(policy.NewPathMapping(nil, nil, false))

	detectors := map[string]detect.Detector{
		"present": constantDetector("present", 0, 0.2, 1.0),
	}
	eng := New(Config{DefaultPolicyName: "test-unknown", GlobalWeights: map[string]float64{}, MaxStageHops: 8}, reg, nil, detectors, nil)

	v := eng.Run(context.Background(), newTestRequest(), nil, "", "")
	if v.Risk < 0 || v.Risk > 1 {
		t.Fatalf("expected a well-formed risk score despite an unresolvable detector name, got %f", v.Risk)
	}
}
