package detect

import (
	"testing"
	"time"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/idhash"
	"github.com/scottgal/stylobot-sub004/internal/reputation"
)

type fakeReputationStore struct {
	entries map[string]reputation.Entry
}

func (f fakeReputationStore) Get(patternID string) reputation.Entry {
	return f.entries[patternID]
}

func TestReputationDetectorNoPriorHistory(t *testing.T) {
	store := fakeReputationStore{entries: map[string]reputation.Entry{}}
	req := newFakeRequest()
	bb := blackboard.New()

	c := runReputationDetector(bb, req, store)

	if c.EvidenceWeight != 0 {
		t.Fatalf("expected zero evidence weight with no prior reputation, got %f", c.EvidenceWeight)
	}
}

func TestReputationDetectorEarlyExitsOnConfirmedBad(t *testing.T) {
	req := newFakeRequest()
	req.ip = "198.51.100.9"
	req.header.Set("User-Agent", "evil-scraper/1.0")
	vec := idhash.Derive(req.ip, req.header.Get("User-Agent"))

	store := fakeReputationStore{entries: map[string]reputation.Entry{
		string(vec.IP): {
			PatternType:   reputation.PatternIP,
			BotScore:      0.95,
			EvidenceCount: 40,
			State:         reputation.StateConfirmedBad,
			LastUpdate:    time.Now(),
		},
	}}
	bb := blackboard.New()

	c := runReputationDetector(bb, req, store)

	if !c.TriggerEarlyExit {
		t.Fatalf("expected early exit on confirmed-bad reputation")
	}
	if c.EarlyExitVerdict != blackboard.Blacklisted {
		t.Fatalf("expected Blacklisted verdict, got %v", c.EarlyExitVerdict)
	}
}

func TestReputationDetectorBlendsMultipleVectors(t *testing.T) {
	req := newFakeRequest()
	req.ip = "198.51.100.9"
	req.header.Set("User-Agent", "some-client/1.0")
	vec := idhash.Derive(req.ip, req.header.Get("User-Agent"))

	store := fakeReputationStore{entries: map[string]reputation.Entry{
		string(vec.IP): {
			PatternType:   reputation.PatternIP,
			BotScore:      0.7,
			EvidenceCount: 10,
			State:         reputation.StateSuspect,
		},
		string(vec.UA): {
			PatternType:   reputation.PatternUA,
			BotScore:      0.3,
			EvidenceCount: 5,
			State:         reputation.StateNeutral,
		},
	}}
	bb := blackboard.New()

	c := runReputationDetector(bb, req, store)

	if c.TriggerEarlyExit {
		t.Fatalf("did not expect early exit for blended suspect/neutral entries")
	}
	if c.BotEvidence <= 0 || c.BotEvidence >= 1 {
		t.Fatalf("expected blended evidence in (0,1), got %f", c.BotEvidence)
	}
}
