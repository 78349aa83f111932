package detect

import (
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
)

type fakeHoneypots struct{ paths map[string]bool }

func (f fakeHoneypots) IsHoneypot(path string) bool { return f.paths[path] }

func TestIntentDetectorEarlyExitsOnHoneypot(t *testing.T) {
	req := newFakeRequest()
	req.path = "/admin/seed-trap"
	bb := blackboard.New()
	bb.Set("response.status", blackboard.IntValue(200))

	c := runIntentDetector(bb, req, fakeHoneypots{paths: map[string]bool{"/admin/seed-trap": true}})

	if !c.TriggerEarlyExit || c.EarlyExitVerdict != blackboard.Blacklisted {
		t.Fatalf("expected early-exit blacklist verdict for honeypot hit")
	}
}

func TestIntentDetectorAccumulates404Streak(t *testing.T) {
	bb := blackboard.New()
	req := newFakeRequest()

	var last blackboard.Contribution
	for i := 0; i < 6; i++ {
		bb.Set("response.status", blackboard.IntValue(404))
		last = runIntentDetector(bb, req, nil)
	}

	if last.BotEvidence < 0.6 {
		t.Fatalf("expected elevated evidence after a 404 streak, got %f", last.BotEvidence)
	}
	streak, ok := bb.GetInt("intent.not_found_streak")
	if !ok || streak != 6 {
		t.Fatalf("expected not_found_streak to reach 6, got %d ok=%v", streak, ok)
	}
}

func TestIntentDetectorResetsStreakOnSuccess(t *testing.T) {
	bb := blackboard.New()
	req := newFakeRequest()

	for i := 0; i < 5; i++ {
		bb.Set("response.status", blackboard.IntValue(404))
		runIntentDetector(bb, req, nil)
	}
	bb.Set("response.status", blackboard.IntValue(200))
	runIntentDetector(bb, req, nil)

	streak, _ := bb.GetInt("intent.not_found_streak")
	if streak != 0 {
		t.Fatalf("expected streak reset to 0 after a 200, got %d", streak)
	}
}

func TestLooksLikeScanTarget(t *testing.T) {
	if !looksLikeScanTarget("/wp-login.php") {
		t.Fatalf("expected /wp-login.php to be flagged as a scan target")
	}
	if looksLikeScanTarget("/products/42") {
		t.Fatalf("did not expect a normal product path to be flagged")
	}
}
