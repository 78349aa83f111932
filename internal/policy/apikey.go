package policy

import (
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"golang.org/x/time/rate"
)

// TimeWindow is a UTC HH:mm-HH:mm window, including overnight ranges
// (e.g. 22:00-06:00 spans midnight) (spec §4.5).
type TimeWindow struct {
	StartMinute int // minutes since UTC midnight
	EndMinute   int
}

// Contains reports whether t (evaluated in UTC) falls within w.
func (w TimeWindow) Contains(t time.Time) bool {
	u := t.UTC()
	minute := u.Hour()*60 + u.Minute()
	if w.StartMinute <= w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	// Overnight window spans midnight.
	return minute >= w.StartMinute || minute < w.EndMinute
}

// APIKey is a single named key's access policy (spec §4.5 "API key
// overlay").
type APIKey struct {
	KeyName             string
	Secret              string
	Disabled            bool
	DisabledDetectors   []string
	WeightOverrides     map[string]float64
	DetectionPolicyName string
	ActionPolicyName    string
	ExpiresAt           time.Time // zero means no expiry
	Window              *TimeWindow
	AllowPaths          []string
	DenyPaths           []string
	RatePerMinute       int
	RatePerHour         int
}

// keyState holds the per-key rate limiters, built lazily so a key with
// rate limits of 0 (unlimited) allocates nothing.
type keyState struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

// Store validates presented API keys in constant time and enforces
// expiry, time windows, and path allow/deny globs; Allow applies the
// per-key token-bucket rate limits (spec §4.5).
type Store struct {
	mu    sync.RWMutex
	keys  map[string]APIKey
	state map[string]*keyState
}

// NewStore returns an empty key store.
func NewStore() *Store {
	return &Store{keys: make(map[string]APIKey), state: make(map[string]*keyState)}
}

// Register adds or replaces a key definition.
func (s *Store) Register(k APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.KeyName] = k
	s.state[k.KeyName] = newKeyState(k)
}

func newKeyState(k APIKey) *keyState {
	st := &keyState{}
	if k.RatePerMinute > 0 {
		st.perMinute = rate.NewLimiter(rate.Limit(float64(k.RatePerMinute)/60.0), k.RatePerMinute)
	}
	if k.RatePerHour > 0 {
		st.perHour = rate.NewLimiter(rate.Limit(float64(k.RatePerHour)/3600.0), k.RatePerHour)
	}
	return st
}

// ValidationError enumerates why a presented key was rejected.
type ValidationError string

const (
	ErrKeyUnknown    ValidationError = "unknown_key"
	ErrKeyDisabled   ValidationError = "disabled"
	ErrKeyExpired    ValidationError = "expired"
	ErrOutsideWindow ValidationError = "outside_time_window"
	ErrPathDenied    ValidationError = "path_denied"
	ErrRateLimited   ValidationError = "rate_limited"
)

func (e ValidationError) Error() string { return string(e) }

// Validate checks a presented (name, secret) pair against the store
// using a constant-time comparison on the secret, then enforces the
// enable flag, expiry, optional time window, and path allow/deny globs.
// A failed time-window check or any other config-derived ambiguity fails
// closed (denies), per the spec's error-handling policy.
func (s *Store) Validate(now time.Time, name, secret, path string) (APIKey, error) {
	s.mu.RLock()
	k, ok := s.keys[name]
	s.mu.RUnlock()
	if !ok {
		return APIKey{}, ErrKeyUnknown
	}
	if subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) != 1 {
		return APIKey{}, ErrKeyUnknown
	}
	if k.Disabled {
		return APIKey{}, ErrKeyDisabled
	}
	if !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt) {
		return APIKey{}, ErrKeyExpired
	}
	if k.Window != nil && !k.Window.Contains(now) {
		return APIKey{}, ErrOutsideWindow
	}
	if !pathAllowed(k, path) {
		return APIKey{}, ErrPathDenied
	}
	return k, nil
}

func pathAllowed(k APIKey, path string) bool {
	for _, d := range k.DenyPaths {
		if wildcard.Match(d, path) {
			return false
		}
	}
	if len(k.AllowPaths) == 0 {
		return true
	}
	for _, a := range k.AllowPaths {
		if wildcard.Match(a, path) {
			return true
		}
	}
	return false
}

// Allow reports whether the named key's rate limits currently permit one
// more request. Each limit is a token bucket (golang.org/x/time/rate)
// holding the per-minute or per-hour count and refilling continuously;
// it is not a sliding window, so a full bucket admits that many requests
// at once.
func (s *Store) Allow(name string) bool {
	s.mu.RLock()
	st := s.state[name]
	s.mu.RUnlock()
	if st == nil {
		return true
	}
	minuteOK := st.perMinute == nil || st.perMinute.Allow()
	hourOK := st.perHour == nil || st.perHour.Allow()
	return minuteOK && hourOK
}

// Overlay produces a derived policy for base with the key's disabled
// detectors unioned into ExcludedDetectors, weight overrides merged, and
// a name of "{policy}+apikey:{key}" (spec §4.5).
func Overlay(base Policy, k APIKey) Policy {
	derived := base.Clone()
	derived.Name = base.Name + "+apikey:" + k.KeyName

	for _, d := range k.DisabledDetectors {
		derived.ExcludedDetectors[d] = true
	}
	for detector, w := range k.WeightOverrides {
		derived.WeightOverrides[detector] = w
	}
	if k.ActionPolicyName != "" {
		derived.ActionPolicyName = k.ActionPolicyName
	}
	return derived
}

// ParseTimeWindow parses a "HH:mm-HH:mm" string into a TimeWindow.
func ParseTimeWindow(s string) (TimeWindow, bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return TimeWindow{}, false
	}
	start, ok1 := parseHHMM(parts[0])
	end, ok2 := parseHHMM(parts[1])
	if !ok1 || !ok2 {
		return TimeWindow{}, false
	}
	return TimeWindow{StartMinute: start, EndMinute: end}, true
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, ok1 := atoiSafe(parts[0])
	m, ok2 := atoiSafe(parts[1])
	if !ok1 || !ok2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func atoiSafe(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
