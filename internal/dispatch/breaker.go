package dispatch

import (
	"strings"
	"sync"
	"time"
)

// BreakerState is one of closed, open, half-open.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorCategory tells a breaker whether a job failure is worth tripping
// on: a rate limit from an LLM provider should trip fast, an invalid
// payload never should.
type ErrorCategory int

const (
	ErrorCategoryTransient ErrorCategory = iota
	ErrorCategoryRateLimit
	ErrorCategoryInvalid
)

// BreakerConfig configures the breaker guarding one dispatcher backend
// (the LLM enrichment calls, the DNS/range-list fetches).
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		InitialBackoff:   time.Second,
		MaxBackoff:       5 * time.Minute,
	}
}

// Breaker is a per-backend circuit breaker the dispatcher consults
// before running a job against that backend.
type Breaker struct {
	mu sync.Mutex

	name   string
	config BreakerConfig
	state  BreakerState

	consecutiveFailures  int
	consecutiveSuccesses int
	currentBackoff       time.Duration
	openedAt             time.Time
	halfOpenProbeInFlight bool

	totalTrips int64
}

// NewBreaker creates a named breaker, defaulting any zero-valued config.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Breaker{
		name:           name,
		config:         cfg,
		state:          StateClosed,
		currentBackoff: cfg.InitialBackoff,
	}
}

// Allow reports whether a job should be run against this backend right
// now, transitioning open -> half-open once the backoff has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) < b.currentBackoff {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenProbeInFlight = true
		return true

	case StateHalfOpen:
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true

	default:
		return true
	}
}

// RecordSuccess closes the breaker once enough consecutive probe
// successes land in half-open, or just clears the failure streak when
// already closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	if b.state == StateHalfOpen {
		b.halfOpenProbeInFlight = false
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.currentBackoff = b.config.InitialBackoff
		}
	}
}

// RecordFailureWithCategory records a job failure, tripping the breaker
// once the threshold is hit; ErrorCategoryInvalid is a caller mistake,
// not a backend outage, so it never trips.
func (b *Breaker) RecordFailureWithCategory(category ErrorCategory) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if category == ErrorCategoryInvalid {
		if b.state == StateHalfOpen {
			b.halfOpenProbeInFlight = false
		}
		return
	}

	b.consecutiveSuccesses = 0
	if category == ErrorCategoryRateLimit {
		b.consecutiveFailures = b.config.FailureThreshold
	} else {
		b.consecutiveFailures++
	}

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.tripLocked()
		}
	case StateHalfOpen:
		b.halfOpenProbeInFlight = false
		b.currentBackoff = time.Duration(float64(b.currentBackoff) * 2)
		if b.currentBackoff > b.config.MaxBackoff {
			b.currentBackoff = b.config.MaxBackoff
		}
		b.tripLocked()
	}
}

func (b *Breaker) tripLocked() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.halfOpenProbeInFlight = false
	b.totalTrips++
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) TotalTrips() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalTrips
}

// CategorizeError maps an enrichment backend's error text to a category,
// for backends (HTTP-based LLM/DNS providers) that don't return typed
// errors the dispatcher could switch on directly.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryTransient
	}
	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "rate limit", "429", "too many requests", "quota exceeded"):
		return ErrorCategoryRateLimit
	case containsAny(lower, "400", "bad request", "invalid", "malformed"):
		return ErrorCategoryInvalid
	default:
		return ErrorCategoryTransient
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
