package signature

import (
	"testing"
	"time"
)

func TestObserveBuildsWindowStats(t *testing.T) {
	c := New(DefaultConfig())
	start := time.Now()

	for i := 0; i < 5; i++ {
		c.Observe("sig-a", RequestEntry{
			Path:      "/api/items",
			Timestamp: start.Add(time.Duration(i) * 2 * time.Second),
		}, "iphash-1", 0.1)
	}

	b, ok := c.GetBehavior("sig-a")
	if !ok {
		t.Fatal("expected behavior to exist")
	}
	if b.RequestCount != 5 {
		t.Errorf("expected 5 requests, got %d", b.RequestCount)
	}
	if b.AverageInterval < 1900*time.Millisecond || b.AverageInterval > 2100*time.Millisecond {
		t.Errorf("expected ~2s average interval, got %v", b.AverageInterval)
	}
	if b.TimingCoefficient > 0.05 {
		t.Errorf("expected near-zero CV for regular intervals, got %f", b.TimingCoefficient)
	}
}

func TestObserveWindowTrimsByCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRequestsPerWindow = 3
	c := New(cfg)
	start := time.Now()
	for i := 0; i < 10; i++ {
		c.Observe("sig-a", RequestEntry{Path: "/x", Timestamp: start.Add(time.Duration(i) * time.Second)}, "", 0)
	}
	b, _ := c.GetBehavior("sig-a")
	if b.RequestCount != 3 {
		t.Errorf("expected window bounded to 3 requests, got %d", b.RequestCount)
	}
}

func TestPathEntropyZeroForSinglePath(t *testing.T) {
	c := New(DefaultConfig())
	start := time.Now()
	for i := 0; i < 4; i++ {
		c.Observe("sig-a", RequestEntry{Path: "/same", Timestamp: start.Add(time.Duration(i) * time.Second)}, "", 0)
	}
	b, _ := c.GetBehavior("sig-a")
	if b.PathEntropy != 0 {
		t.Errorf("expected zero entropy for a single distinct path, got %f", b.PathEntropy)
	}
}

func TestPathEntropyHighForUniformSpread(t *testing.T) {
	c := New(DefaultConfig())
	start := time.Now()
	paths := []string{"/a", "/b", "/c", "/d"}
	for i, p := range paths {
		c.Observe("sig-a", RequestEntry{Path: p, Timestamp: start.Add(time.Duration(i) * time.Second)}, "", 0)
	}
	b, _ := c.GetBehavior("sig-a")
	if b.PathEntropy < 0.99 {
		t.Errorf("expected near-1.0 entropy for uniform path spread, got %f", b.PathEntropy)
	}
}

func TestIPIndexTracksSignatures(t *testing.T) {
	c := New(DefaultConfig())
	c.Observe("sig-a", RequestEntry{Path: "/x", Timestamp: time.Now()}, "ip-1", 0)
	c.Observe("sig-b", RequestEntry{Path: "/y", Timestamp: time.Now()}, "ip-1", 0)

	sigs := c.SignaturesForIP("ip-1")
	if len(sigs) != 2 || sigs[0] != "sig-a" || sigs[1] != "sig-b" {
		t.Errorf("expected [sig-a sig-b], got %v", sigs)
	}
}

func TestIPHashesListsAllIndexedIPs(t *testing.T) {
	c := New(DefaultConfig())
	c.Observe("sig-a", RequestEntry{Path: "/x", Timestamp: time.Now()}, "ip-2", 0)
	c.Observe("sig-b", RequestEntry{Path: "/y", Timestamp: time.Now()}, "ip-1", 0)

	hashes := c.IPHashes()
	if len(hashes) != 2 || hashes[0] != "ip-1" || hashes[1] != "ip-2" {
		t.Errorf("expected [ip-1 ip-2], got %v", hashes)
	}
}

func TestFamilyIndexMoveBetweenFamilies(t *testing.T) {
	c := New(DefaultConfig())
	c.RegisterFamily("fam-1", "sig-a", "sig-b")
	if fam, ok := c.GetFamily("sig-a"); !ok || fam != "fam-1" {
		t.Fatalf("expected sig-a in fam-1, got %q %v", fam, ok)
	}

	c.RegisterFamily("fam-2", "sig-a")
	if fam, _ := c.GetFamily("sig-a"); fam != "fam-2" {
		t.Errorf("expected sig-a moved to fam-2, got %q", fam)
	}
	if fam, ok := c.GetFamily("sig-b"); !ok || fam != "fam-1" {
		t.Errorf("expected sig-b to remain in fam-1, got %q %v", fam, ok)
	}
}

func TestRemoveSignatureFromFamilyIndexKeepsOthers(t *testing.T) {
	c := New(DefaultConfig())
	c.RegisterFamily("fam-1", "sig-a", "sig-b")
	c.RemoveSignatureFromFamilyIndex("sig-a")

	if _, ok := c.GetFamily("sig-a"); ok {
		t.Error("expected sig-a to have no family")
	}
	if fam, ok := c.GetFamily("sig-b"); !ok || fam != "fam-1" {
		t.Errorf("expected sig-b to remain in fam-1, got %q %v", fam, ok)
	}
}

func TestGetFamilyAwareBehaviorsMergesMembers(t *testing.T) {
	c := New(DefaultConfig())
	start := time.Now()
	for i := 0; i < 3; i++ {
		c.Observe("sig-a", RequestEntry{Path: "/x", Timestamp: start.Add(time.Duration(i) * time.Second)}, "", 0.8)
	}
	for i := 0; i < 3; i++ {
		c.Observe("sig-b", RequestEntry{Path: "/x", Timestamp: start.Add(time.Duration(i) * time.Second)}, "", 0.2)
	}
	c.RegisterFamily("fam-1", "sig-a", "sig-b")

	behaviors := c.GetFamilyAwareBehaviors()
	var found bool
	for _, b := range behaviors {
		if b.Signature == "fam-1" {
			found = true
			if b.RequestCount != 6 {
				t.Errorf("expected merged request count 6, got %d", b.RequestCount)
			}
		}
		if b.Signature == "sig-a" || b.Signature == "sig-b" {
			t.Errorf("family member %q should not appear standalone", b.Signature)
		}
	}
	if !found {
		t.Fatal("expected merged family behavior")
	}
}

func TestEvictRemovesStaleSignatures(t *testing.T) {
	now := time.Now()
	cur := now
	c := New(DefaultConfig()).WithClock(func() time.Time { return cur })
	c.Observe("sig-a", RequestEntry{Path: "/x", Timestamp: now}, "ip-1", 0)

	cur = now.Add(time.Hour)
	removed := c.Evict(10 * time.Minute)
	if removed != 1 {
		t.Errorf("expected 1 eviction, got %d", removed)
	}
	if c.Len() != 0 {
		t.Errorf("expected coordinator empty after eviction, got %d", c.Len())
	}
	if sigs := c.SignaturesForIP("ip-1"); len(sigs) != 0 {
		t.Errorf("expected IP index cleared, got %v", sigs)
	}
}
