package dispatch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
)

// Job is one unit of background work: LLM signature/cluster description
// generation, LLM intent classification, or DNS-based IP enrichment
// (spec §4.8). Items sharing Key are guaranteed to run strictly in order,
// one at a time, regardless of how many other keys run concurrently.
// Backend names the upstream the job calls out to ("llm", "dns",
// "reputation-feed"); jobs sharing a Backend share one circuit breaker,
// so a failing LLM provider stops admitting LLM jobs without touching
// DNS enrichment jobs.
type Job struct {
	Key     string
	Backend string
	Payload any
	Run     func(ctx context.Context, payload any) error
}

// Counters are the dispatcher's observability counters (spec §4.8).
type Counters struct {
	Pending         int64
	Active          int64
	Completed       int64
	Failed          int64
	Dropped         int64
	BreakerRejected int64
}

// Config sizes the dispatcher's concurrency gate and backpressure queue.
type Config struct {
	// MaxConcurrency bounds total in-flight jobs across all keys. Zero
	// means size from the host's logical core count.
	MaxConcurrency int
	// QueueCapacity bounds total pending jobs across all keys; Enqueue
	// drops the oldest pending job once exceeded.
	QueueCapacity int
}

// DefaultConfig sizes MaxConcurrency at max(1, cores/2), matching the
// spec's guidance for the one concurrency primitive the core depends on.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: defaultConcurrency(),
		QueueCapacity:  2000,
	}
}

func defaultConcurrency() int {
	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		if half := counts / 2; half > 0 {
			return half
		}
		return 1
	}
	if n := runtime.NumCPU() / 2; n > 0 {
		return n
	}
	return 1
}

type keyQueue struct {
	jobs []Job
	busy bool
}

// Dispatcher is the keyed-sequential, bounded-concurrency queue (C8).
type Dispatcher struct {
	cfg Config

	mu        sync.Mutex
	queues    map[string]*keyQueue
	keyOrder  []string // fair round-robin order of keys with pending work
	totalPend int

	breakersMu sync.Mutex
	breakers   map[string]*Breaker

	sem  chan struct{}
	wake chan struct{}

	counters struct {
		pending, active, completed, failed, dropped, breakerRejected atomic.Int64
	}

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped dispatcher; call Start to begin processing.
func New(cfg Config) *Dispatcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultConcurrency()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2000
	}
	return &Dispatcher{
		cfg:      cfg,
		queues:   make(map[string]*keyQueue),
		breakers: make(map[string]*Breaker),
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// breakerFor returns the named backend's breaker, creating it on first
// use with the reference configuration.
func (d *Dispatcher) breakerFor(backend string) *Breaker {
	d.breakersMu.Lock()
	defer d.breakersMu.Unlock()
	b, ok := d.breakers[backend]
	if !ok {
		b = NewBreaker(backend, DefaultBreakerConfig())
		d.breakers[backend] = b
	}
	return b
}

// Start begins the scheduling loop; it returns when ctx is canceled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.loop(ctx)
}

// Stop cancels the scheduling loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
		d.dispatchReady(ctx)
	}
}

// Enqueue appends a job to its key's queue and nudges the scheduler.
// When the total pending count would exceed QueueCapacity, the oldest
// pending job (from whichever key has waited longest) is dropped first.
func (d *Dispatcher) Enqueue(j Job) {
	d.mu.Lock()
	q, ok := d.queues[j.Key]
	if !ok {
		q = &keyQueue{}
		d.queues[j.Key] = q
	}
	wasEmpty := len(q.jobs) == 0 && !q.busy
	q.jobs = append(q.jobs, j)
	d.totalPend++
	if wasEmpty {
		d.keyOrder = append(d.keyOrder, j.Key)
	}

	if d.totalPend > d.cfg.QueueCapacity {
		d.dropOldestLocked()
	}
	d.mu.Unlock()

	d.counters.pending.Store(int64(d.totalPendSnapshot()))
	d.nudge()
}

// dropOldestLocked evicts the single oldest pending job across all keys;
// callers must hold mu.
func (d *Dispatcher) dropOldestLocked() {
	for _, key := range d.keyOrder {
		q := d.queues[key]
		if q == nil || len(q.jobs) == 0 {
			continue
		}
		q.jobs = q.jobs[1:]
		d.totalPend--
		d.counters.dropped.Add(1)
		log.Warn().Str("key", key).Msg("dispatcher dropping oldest pending job under backpressure")
		return
	}
}

func (d *Dispatcher) totalPendSnapshot() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalPend
}

func (d *Dispatcher) nudge() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// dispatchReady hands ready (non-busy, non-empty) keys to the global
// concurrency gate, rotating keyOrder for fairness so one hot key can't
// starve the others.
func (d *Dispatcher) dispatchReady(ctx context.Context) {
	for {
		d.mu.Lock()
		var job Job
		var key string
		found := false

		for i := 0; i < len(d.keyOrder); i++ {
			k := d.keyOrder[0]
			d.keyOrder = append(d.keyOrder[1:], k)
			q := d.queues[k]
			if q == nil || q.busy || len(q.jobs) == 0 {
				if q != nil && len(q.jobs) == 0 && !q.busy {
					d.keyOrder = d.keyOrder[:len(d.keyOrder)-1]
					delete(d.queues, k)
				}
				continue
			}
			select {
			case d.sem <- struct{}{}:
			default:
				d.mu.Unlock()
				return
			}
			job = q.jobs[0]
			q.jobs = q.jobs[1:]
			q.busy = true
			key = k
			d.totalPend--
			found = true
			break
		}
		d.mu.Unlock()

		if !found {
			return
		}

		d.counters.active.Add(1)
		go d.run(ctx, key, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, key string, j Job) {
	defer func() {
		<-d.sem
		d.counters.active.Add(-1)
		d.mu.Lock()
		if q, ok := d.queues[key]; ok {
			q.busy = false
			if len(q.jobs) == 0 {
				delete(d.queues, key)
			}
		}
		d.mu.Unlock()
		d.nudge()
	}()

	var breaker *Breaker
	if j.Backend != "" {
		breaker = d.breakerFor(j.Backend)
		if !breaker.Allow() {
			d.counters.breakerRejected.Add(1)
			log.Warn().Str("key", key).Str("backend", j.Backend).
				Msg("dispatcher skipping job: circuit breaker open")
			return
		}
	}

	err := j.Run(ctx, j.Payload)
	if breaker != nil {
		if err != nil {
			breaker.RecordFailureWithCategory(CategorizeError(err))
		} else {
			breaker.RecordSuccess()
		}
	}

	if err != nil {
		d.counters.failed.Add(1)
		log.Warn().Str("key", key).Err(err).Msg("dispatcher job failed")
		return
	}
	d.counters.completed.Add(1)
}

// Snapshot returns the current observability counters.
func (d *Dispatcher) Snapshot() Counters {
	return Counters{
		Pending:         int64(d.totalPendSnapshot()),
		Active:          d.counters.active.Load(),
		Completed:       d.counters.completed.Load(),
		Failed:          d.counters.failed.Load(),
		Dropped:         d.counters.dropped.Load(),
		BreakerRejected: d.counters.breakerRejected.Load(),
	}
}

// QueueUtilization is depth/capacity, the input to adaptive sampling
// (spec §4.8).
func (d *Dispatcher) QueueUtilization() float64 {
	return float64(d.totalPendSnapshot()) / float64(d.cfg.QueueCapacity)
}

// SampleRate returns the effective enqueue rate for a consumer's
// base_rate, scaled per the spec's adaptive-sampling table.
func SampleRate(baseRate, queueUtilization float64) float64 {
	switch {
	case queueUtilization < 0.1:
		return baseRate * 3
	case queueUtilization < 0.3:
		return baseRate * 2
	case queueUtilization < 0.6:
		return baseRate * 1
	case queueUtilization < 0.8:
		return baseRate * 0.5
	default:
		return baseRate * 0.1
	}
}

// ShouldSample draws one sample decision from rng against the adaptively
// scaled rate for this dispatcher's current queue utilization.
func (d *Dispatcher) ShouldSample(baseRate float64, rngFloat64 func() float64) bool {
	rate := SampleRate(baseRate, d.QueueUtilization())
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rngFloat64() < rate
}
