// Package reputation implements the time-decayed pattern reputation
// cache (spec §4.1, component C1): a concurrent map from identity
// pattern to a bot-score entry, with decay, hysteresis-based state
// transitions, garbage collection, and atomic persistence.
//
// Grounded on github.com/rcourtman/pulse-go-rewrite's
// internal/ai/baseline.Store: the same sync.RWMutex-guarded map,
// pluggable Persistence interface, and write-temp-rename-on-disk
// snapshotting, re-targeted from "learned metric baselines" to
// "learned bot-score reputations".
package reputation

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PatternType enumerates the kinds of identity patterns tracked (spec §3).
type PatternType string

const (
	PatternUA       PatternType = "ua"
	PatternIP       PatternType = "ip"
	PatternSubnet   PatternType = "subnet"
	PatternPrimary  PatternType = "primary"
	PatternCombined PatternType = "combined"
)

// State is the hysteresis state of a reputation entry (spec §3).
type State string

const (
	StateNeutral       State = "neutral"
	StateSuspect       State = "suspect"
	StateConfirmedBad  State = "confirmed_bad"
	StateConfirmedGood State = "confirmed_good"
)

// Entry is a single pattern reputation record (spec §3 "Pattern
// Reputation Entry"). Entries are treated as immutable values by
// callers: Update overwrites the stored value with a caller-computed
// copy (copy-on-write at the API boundary).
type Entry struct {
	PatternID     string      `json:"pattern_id"`
	PatternType   PatternType `json:"pattern_type"`
	Pattern       string      `json:"pattern"`
	BotScore      float64     `json:"bot_score"`
	EvidenceCount float64     `json:"evidence_count"`
	LastUpdate    time.Time   `json:"last_update"`
	FirstSeen     time.Time   `json:"first_seen"`
	State         State       `json:"state"`
	GCEligibleAt  time.Time   `json:"gc_eligible_at,omitempty"`
}

// Clone returns a deep copy safe for the caller to mutate before
// calling Update.
func (e Entry) Clone() Entry { return e }

// HysteresisConfig controls the score thresholds at which state
// transitions occur (spec §4.1).
type HysteresisConfig struct {
	NeutralLow        float64 // 0.35
	NeutralHigh       float64 // 0.65
	SuspectThreshold  float64 // 0.65
	ConfirmedBadScore float64 // 0.8
	// Symmetric thresholds for the good side.
	SuspectGoodThreshold  float64 // 0.35
	ConfirmedGoodScore    float64 // 0.2
	MinEvidenceForConfirm float64 // K: evidence needed to confirm
}

// DefaultHysteresis returns the spec's reference thresholds.
func DefaultHysteresis() HysteresisConfig {
	return HysteresisConfig{
		NeutralLow:            0.35,
		NeutralHigh:           0.65,
		SuspectThreshold:      0.65,
		ConfirmedBadScore:     0.8,
		SuspectGoodThreshold:  0.35,
		ConfirmedGoodScore:    0.2,
		MinEvidenceForConfirm: 5,
	}
}

// Config configures the reputation cache.
type Config struct {
	DecayTau           time.Duration // τ in the decay formula; default 24h
	GCHorizon          time.Duration // entries idle longer than this are GC-eligible
	MaxEntries         int           // carried from config but not enforced: only GarbageCollect removes entries
	EvidenceWeightCap  float64       // clamp for evidence_count to prevent ossification
	Hysteresis         HysteresisConfig
	Persistence        Persistence
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DecayTau:          24 * time.Hour,
		GCHorizon:         7 * 24 * time.Hour,
		MaxEntries:        2_000_000,
		EvidenceWeightCap: 500,
		Hysteresis:        DefaultHysteresis(),
	}
}

// Persistence is the injected durability capability (spec §6.2):
// an atomic file-replace snapshot, or any other backend a collaborator
// wires in (e.g. a sqlite-backed implementation — see sqlite.go).
type Persistence interface {
	Save(entries map[string]Entry) error
	Load() (map[string]Entry, error)
}

// Store is the concurrent pattern reputation cache (C1).
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry

	cfg Config
	now func() time.Time
}

// NewStore creates a reputation cache, best-effort loading any existing
// snapshot via cfg.Persistence.
func NewStore(cfg Config) *Store {
	if cfg.DecayTau <= 0 {
		cfg.DecayTau = 24 * time.Hour
	}
	if cfg.GCHorizon <= 0 {
		cfg.GCHorizon = 7 * 24 * time.Hour
	}
	if cfg.EvidenceWeightCap <= 0 {
		cfg.EvidenceWeightCap = 500
	}
	if cfg.Hysteresis == (HysteresisConfig{}) {
		cfg.Hysteresis = DefaultHysteresis()
	}

	s := &Store{
		entries: make(map[string]Entry),
		cfg:     cfg,
		now:     time.Now,
	}

	if cfg.Persistence != nil {
		loaded, err := cfg.Persistence.Load()
		if err != nil {
			log.Warn().Err(err).Msg("reputation: failed to load snapshot, starting empty")
		} else {
			s.entries = loaded
			log.Info().Int("count", len(loaded)).Msg("reputation: loaded snapshot")
		}
	}
	return s
}

// WithClock overrides the time source for deterministic testing.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the entry for patternID, or a Neutral default if absent
// (spec §4.1 "get").
func (s *Store) Get(patternID string) Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[patternID]; ok {
		return e
	}
	return Entry{PatternID: patternID, State: StateNeutral, BotScore: 0.5}
}

// GetOrCreate idempotently ensures an entry exists for patternID.
func (s *Store) GetOrCreate(patternID string, t PatternType, pattern string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[patternID]; ok {
		return e
	}
	now := s.now()
	e := Entry{
		PatternID:   patternID,
		PatternType: t,
		Pattern:     pattern,
		BotScore:    0.5,
		State:       StateNeutral,
		FirstSeen:   now,
		LastUpdate:  now,
	}
	s.entries[patternID] = e
	return e
}

// Update overwrites the stored entry for e.PatternID (spec §4.1
// "update" — copy-on-write: callers compute the new value via
// ApplyEvidence/decay and pass it here).
func (s *Store) Update(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.PatternID] = e
}

// ApplyEvidence folds new evidence into prior using a weight-bounded
// running mean (spec §4.1 "Evidence application"):
//
//	score' = (score*n + label*weight) / (n + weight)
//	n'     = min(n + weight, cap)
//
// applyEvidence(e, label, 0) is a no-op (spec §8 round-trip law).
func (s *Store) ApplyEvidence(prior Entry, label, weight float64) Entry {
	if weight <= 0 {
		return prior
	}
	n := prior.EvidenceCount
	score := (prior.BotScore*n + label*weight) / (n + weight)
	newN := n + weight
	if cap := s.cfg.EvidenceWeightCap; cap > 0 && newN > cap {
		newN = cap
	}

	updated := prior
	updated.BotScore = clamp01(score)
	updated.EvidenceCount = newN
	updated.LastUpdate = s.now()
	updated.State = s.classify(updated, s.cfg.Hysteresis)
	return updated
}

// classify computes the hysteresis state for an entry (spec §4.1
// "decay_sweep"): sticky ConfirmedBad/ConfirmedGood states persist
// until the score crosses back through the hysteresis band.
func (s *Store) classify(e Entry, h HysteresisConfig) State {
	score := e.BotScore
	switch e.State {
	case StateConfirmedBad:
		if score >= h.NeutralHigh {
			return StateConfirmedBad
		}
	case StateConfirmedGood:
		if score <= h.NeutralLow {
			return StateConfirmedGood
		}
	}

	switch {
	case score >= h.NeutralLow && score <= h.NeutralHigh:
		return StateNeutral
	case score > h.ConfirmedBadScore && e.EvidenceCount >= h.MinEvidenceForConfirm:
		return StateConfirmedBad
	case score > h.SuspectThreshold:
		return StateSuspect
	case score < h.ConfirmedGoodScore && e.EvidenceCount >= h.MinEvidenceForConfirm:
		return StateConfirmedGood
	case score < h.SuspectGoodThreshold:
		return StateSuspect
	default:
		return StateNeutral
	}
}

// decayed returns e with its score drifted toward 0.5 by elapsed time,
// per spec §4.1's exponential decay formula. Δt=0 is the identity
// (spec §8 round-trip law).
func decayed(e Entry, tau time.Duration, asOf time.Time) Entry {
	dt := asOf.Sub(e.LastUpdate)
	if dt <= 0 {
		return e
	}
	decayFactor := math.Exp(-dt.Seconds() / tau.Seconds())
	e.BotScore = clamp01(e.BotScore*decayFactor + 0.5*(1-decayFactor))
	e.LastUpdate = asOf
	return e
}

// DecaySweep drifts every entry toward neutral by elapsed time and
// reclassifies its hysteresis state (spec §4.1 "decay_sweep"). It
// snapshots keys before iterating and holds no global lock across the
// sweep, matching the per-entry update discipline in spec §5.
func (s *Store) DecaySweep() {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	now := s.now()
	for _, k := range keys {
		s.mu.Lock()
		e, ok := s.entries[k]
		if !ok {
			s.mu.Unlock()
			continue
		}
		e = decayed(e, s.cfg.DecayTau, now)
		e.State = s.classify(e, s.cfg.Hysteresis)
		if e.State == StateNeutral && e.EvidenceCount < s.cfg.Hysteresis.MinEvidenceForConfirm {
			if e.GCEligibleAt.IsZero() {
				e.GCEligibleAt = now
			}
		} else {
			e.GCEligibleAt = time.Time{}
		}
		s.entries[k] = e
		s.mu.Unlock()
	}
}

// GarbageCollect removes entries that are Neutral, low-evidence, and
// have been idle past the GC horizon (spec §4.1 "garbage_collect").
func (s *Store) GarbageCollect() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.State != StateNeutral {
			continue
		}
		if e.EvidenceCount >= s.cfg.Hysteresis.MinEvidenceForConfirm {
			continue
		}
		if e.GCEligibleAt.IsZero() || now.Sub(e.GCEligibleAt) < s.cfg.GCHorizon {
			continue
		}
		delete(s.entries, k)
		removed++
	}
	return removed
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Persist writes a durable snapshot via the configured Persistence
// backend (spec §6.2). A failure is logged and the in-memory state
// continues to serve requests (spec §7 error kind 3).
func (s *Store) Persist() error {
	if s.cfg.Persistence == nil {
		return nil
	}
	s.mu.RLock()
	snapshot := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := s.cfg.Persistence.Save(snapshot); err != nil {
		log.Warn().Err(err).Msg("reputation: persist failed, continuing in-memory")
		return err
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FilePersistence is a JSON file backend with atomic write-temp-rename,
// the same discipline the teacher's baseline store uses (spec §6.2).
type FilePersistence struct {
	Path string
}

// Save writes entries atomically: write to a temp file, then rename.
func (p FilePersistence) Save(entries map[string]Entry) error {
	if p.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(struct {
		Entries map[string]Entry `json:"entries"`
		Version int              `json:"version"`
	}{Entries: entries, Version: 1}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return err
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.Path)
}

// Load reads a previously persisted snapshot. A missing file is not an
// error — it means a cold start.
func (p FilePersistence) Load() (map[string]Entry, error) {
	if p.Path == "" {
		return map[string]Entry{}, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return nil, err
	}
	var wire struct {
		Entries map[string]Entry `json:"entries"`
		Version int              `json:"version"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	if wire.Entries == nil {
		wire.Entries = map[string]Entry{}
	}
	return wire.Entries, nil
}
