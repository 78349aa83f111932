package learnbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scottgal/stylobot-sub004/internal/reputation"
	"github.com/scottgal/stylobot-sub004/internal/signature"
)

func TestPublishDispatchesToSubscribedHandlers(t *testing.T) {
	bus := New(Config{Capacity: 16})
	var mu sync.Mutex
	var got []Kind
	bus.Subscribe(func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e.Kind)
		mu.Unlock()
	}, MinimalDetection, FullDetection)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)
	defer cancel()

	bus.Publish(Event{Kind: MinimalDetection})
	bus.Publish(Event{Kind: IntentClassified}) // unsubscribed, ignored
	bus.Publish(Event{Kind: FullDetection})

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for dispatch, got %v", got)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != MinimalDetection || got[1] != FullDetection {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
}

func TestPublishAssignsULIDWhenAbsent(t *testing.T) {
	bus := New(Config{Capacity: 4})
	bus.Publish(Event{Kind: MinimalDetection})
	e, ok := bus.popLocked()
	if !ok || e.ID == "" {
		t.Fatalf("expected an auto-assigned event ID, got %+v", e)
	}
}

func TestPublishDropsOldestAtCapacity(t *testing.T) {
	bus := New(Config{Capacity: 2})
	bus.Publish(Event{Kind: MinimalDetection, Payload: map[string]any{"n": 1.0}})
	bus.Publish(Event{Kind: MinimalDetection, Payload: map[string]any{"n": 2.0}})
	bus.Publish(Event{Kind: MinimalDetection, Payload: map[string]any{"n": 3.0}})

	snap := bus.Snapshot()
	if snap.Dropped != 1 {
		t.Fatalf("expected 1 dropped event, got %d", snap.Dropped)
	}
	if snap.Pending != 2 {
		t.Fatalf("expected 2 pending events, got %d", snap.Pending)
	}

	first, ok := bus.popLocked()
	if !ok || first.Payload["n"].(float64) != 2.0 {
		t.Fatalf("expected the oldest surviving event to be n=2, got %+v", first)
	}
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	bus := New(Config{Capacity: 4})
	var secondRan bool
	bus.Subscribe(func(_ context.Context, _ Event) { panic("boom") }, MinimalDetection)
	bus.Subscribe(func(_ context.Context, _ Event) { secondRan = true }, MinimalDetection)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)
	defer cancel()

	bus.Publish(Event{Kind: MinimalDetection})

	deadline := time.Now().Add(time.Second)
	for !secondRan && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !secondRan {
		t.Fatalf("expected the second handler to still run after the first panicked")
	}
}

func TestReputationUpdaterAppliesEvidenceToAllVectors(t *testing.T) {
	store := reputation.NewStore(reputation.DefaultConfig())
	h := ReputationUpdater(store)

	h(context.Background(), Event{
		Kind: FullDetection,
		Payload: map[string]any{
			"risk":       0.9,
			"confidence": 1.0,
			"identity": Identity{
				PrimaryKey: "primary-1",
				UAKey:      "ua-1",
				IPKey:      "ip-1",
				SubnetKey:  "subnet-1",
			},
		},
	})

	for _, key := range []string{"primary-1", "ua-1", "ip-1", "subnet-1"} {
		e := store.Get(key)
		if e.EvidenceCount == 0 {
			t.Fatalf("expected evidence recorded for %q", key)
		}
	}
}

func TestSignatureFeedbackHandlerMarksAberrant(t *testing.T) {
	coord := signature.New(signature.DefaultConfig())
	h := SignatureFeedbackHandler(coord)

	h(context.Background(), Event{Kind: SignatureFeedback, Payload: map[string]any{
		"signature": "sig-1",
		"path":      "/api/x",
		"risk":      0.7,
		"aberrant":  true,
	}})

	b, ok := coord.GetBehavior("sig-1")
	if !ok {
		t.Fatalf("expected signature behavior to be created")
	}
	if !b.IsAberrant {
		t.Fatalf("expected signature marked aberrant")
	}
}

func TestDriftDetectorFiresAboveThreshold(t *testing.T) {
	bus := New(Config{Capacity: 16})
	var fired bool
	bus.Subscribe(func(_ context.Context, _ Event) { fired = true }, FastPathDriftDetected)

	win := &DriftWindow{MinSamples: 4}
	now := time.Now()
	h := NewDriftDetector(bus, win, 0.5, func() time.Time { return now })

	h(context.Background(), Event{Kind: FullDetection, Payload: map[string]any{"fast_verdict": "Allow", "full_verdict": "Allow"}})
	h(context.Background(), Event{Kind: FullDetection, Payload: map[string]any{"fast_verdict": "Allow", "full_verdict": "Block"}})
	h(context.Background(), Event{Kind: FullDetection, Payload: map[string]any{"fast_verdict": "Allow", "full_verdict": "Block"}})
	h(context.Background(), Event{Kind: FullDetection, Payload: map[string]any{"fast_verdict": "Allow", "full_verdict": "Block"}})
	for e, ok := bus.popLocked(); ok; e, ok = bus.popLocked() {
		bus.dispatch(context.Background(), e)
	}

	if !fired {
		t.Fatalf("expected drift detector to publish FastPathDriftDetected once disagreement rate crosses threshold")
	}
}

func TestDriftDetectorIgnoresBelowMinSamples(t *testing.T) {
	bus := New(Config{Capacity: 16})
	var fired bool
	bus.Subscribe(func(_ context.Context, _ Event) { fired = true }, FastPathDriftDetected)

	win := &DriftWindow{MinSamples: 10}
	now := time.Now()
	h := NewDriftDetector(bus, win, 0.1, func() time.Time { return now })

	h(context.Background(), Event{Kind: FullDetection, Payload: map[string]any{"fast_verdict": "Allow", "full_verdict": "Block"}})
	for e, ok := bus.popLocked(); ok; e, ok = bus.popLocked() {
		bus.dispatch(context.Background(), e)
	}

	if fired {
		t.Fatalf("expected no drift event below the minimum sample floor")
	}
}
