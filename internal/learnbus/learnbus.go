// Package learnbus implements the learning event bus (spec component
// C10): a bounded, drop-oldest channel of detection/feedback events, a
// single-reader dispatch loop, and per-kind handler registration.
//
// Grounded on the bounded-channel, drop-oldest broadcast idiom the
// teacher uses for its realtime hub (github.com/gorilla/websocket-backed
// fan-out in the monitoring package): a single dispatch loop drains the
// channel and fans each message out to every interested subscriber,
// sequentially, in publish order.
package learnbus

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Kind enumerates the event kinds the bus carries (spec §4.10).
type Kind string

const (
	MinimalDetection        Kind = "MinimalDetection"
	FullDetection            Kind = "FullDetection"
	FullAnalysisRequest      Kind = "FullAnalysisRequest"
	HighConfidenceDetection  Kind = "HighConfidenceDetection"
	PatternDiscovered        Kind = "PatternDiscovered"
	InconsistencyDetected    Kind = "InconsistencyDetected"
	SignatureFeedback        Kind = "SignatureFeedback"
	UserFeedback             Kind = "UserFeedback"
	FastPathDriftDetected    Kind = "FastPathDriftDetected"
	IntentClassified         Kind = "IntentClassified"
	InferenceRequest         Kind = "InferenceRequest"
)

// Event is one published message. Fields beyond Kind are a free-form
// payload map so handlers can extract what they need without the bus
// depending on every producer's concrete type. ID is a lexicographically
// sortable ULID, assigned at publish time, so downstream consumers
// (metrics exporters, an audit log) can order events without trusting
// wall-clock fields inside Payload.
type Event struct {
	ID      string
	Kind    Kind
	Payload map[string]any
}

// Handler consumes one matching event. Handlers are invoked
// sequentially per event and must not block indefinitely — there is no
// per-handler timeout, matching the teacher's single-consumer loop
// which trusts its own registered handlers.
type Handler func(ctx context.Context, e Event)

// Config controls the bus's channel capacity.
type Config struct {
	Capacity int
}

// DefaultConfig returns the reference capacity.
func DefaultConfig() Config { return Config{Capacity: 4096} }

// Bus is the bounded, drop-oldest, single-reader event bus.
type Bus struct {
	cfg Config

	mu       sync.Mutex
	buf      []Event // ring buffer, drop-oldest on overflow
	notEmpty chan struct{}

	handlersMu sync.RWMutex
	handlers   map[Kind][]Handler

	dropped   int64
	published int64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Bus. Call Run in a goroutine to start the dispatch
// loop; Publish is safe to call before Run starts.
func New(cfg Config) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Bus{
		cfg:      cfg,
		notEmpty: make(chan struct{}, 1),
		handlers: make(map[Kind][]Handler),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for every kind in kinds.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	for _, k := range kinds {
		b.handlers[k] = append(b.handlers[k], h)
	}
}

// Publish enqueues e, dropping the oldest buffered event if the bus is
// at capacity (spec §4.10 "Bounded channel with drop-oldest").
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}

	b.mu.Lock()
	if len(b.buf) >= b.cfg.Capacity {
		b.buf = b.buf[1:]
		b.dropped++
	}
	b.buf = append(b.buf, e)
	b.published++
	b.mu.Unlock()

	select {
	case b.notEmpty <- struct{}{}:
	default:
	}
}

// Run drains the buffer and dispatches each event to its matching
// handlers sequentially, until ctx is canceled or Stop is called.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for {
		e, ok := b.popLocked()
		if ok {
			b.dispatch(ctx, e)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-b.notEmpty:
		}
	}
}

func (b *Bus) popLocked() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return Event{}, false
	}
	e := b.buf[0]
	b.buf = b.buf[1:]
	return e, true
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.handlersMu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Kind]...)
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("kind", string(e.Kind)).Interface("panic", r).Msg("learnbus handler panicked")
				}
			}()
			h(ctx, e)
		}()
	}
}

// Stop signals Run to exit and waits for it to return.
func (b *Bus) Stop() {
	close(b.stop)
	<-b.done
}

// Counters reports publish/drop totals for observability.
type Counters struct {
	Published int64
	Dropped   int64
	Pending   int
}

func (b *Bus) Snapshot() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counters{Published: b.published, Dropped: b.dropped, Pending: len(b.buf)}
}
