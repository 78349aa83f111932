// Package signature maintains the per-signature sliding window of recent
// request behavior and the family/IP indexes the convergence and
// clustering services read (spec component C7).
package signature

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// RequestEntry is one observed request folded into a signature's window.
type RequestEntry struct {
	Path      string
	Timestamp time.Time
	Signals   map[string]float64
}

// Behavior is the sliding-window summary for one signature.
type Behavior struct {
	Signature             string
	Requests              []RequestEntry
	FirstSeen             time.Time
	LastSeen              time.Time
	RequestCount          int
	AverageInterval       time.Duration
	TimingCoefficient     float64 // CV of inter-request intervals
	PathEntropy           float64 // Shannon entropy over path distribution
	AverageBotProbability float64 // EMA
	CountryCode           string
	ASN                   string
	IsDatacenter          bool
	Latitude              float64
	Longitude             float64
	IsVPN                 bool
	IsAberrant            bool
}

// Clone returns a value copy safe to hand to callers outside the lock.
func (b Behavior) Clone() Behavior {
	out := b
	out.Requests = append([]RequestEntry(nil), b.Requests...)
	return out
}

// Config controls window bounds and EMA smoothing.
type Config struct {
	MaxRequestsPerWindow int
	WindowHorizon        time.Duration // requests older than this age out
	BotProbabilityAlpha  float64       // EMA smoothing factor for average_bot_probability
}

// DefaultConfig mirrors the sliding-window sizing spec §3 implies for a
// per-signature behavior window: bounded by both count and age.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerWindow: 200,
		WindowHorizon:        30 * time.Minute,
		BotProbabilityAlpha:  0.3,
	}
}

// Coordinator is the concurrent per-signature behavior store (C7).
type Coordinator struct {
	mu sync.RWMutex

	cfg       Config
	behaviors map[string]*Behavior

	// family index: signature -> family id, family id -> member signatures
	familyOf map[string]string
	families map[string]map[string]struct{}

	// ipIndex: ip hash -> set of signatures observed under that IP
	ipIndex map[string]map[string]struct{}

	now func() time.Time
}

// New creates an empty coordinator.
func New(cfg Config) *Coordinator {
	if cfg.MaxRequestsPerWindow <= 0 {
		cfg.MaxRequestsPerWindow = 200
	}
	if cfg.WindowHorizon <= 0 {
		cfg.WindowHorizon = 30 * time.Minute
	}
	if cfg.BotProbabilityAlpha <= 0 {
		cfg.BotProbabilityAlpha = 0.3
	}
	return &Coordinator{
		cfg:       cfg,
		behaviors: make(map[string]*Behavior),
		familyOf:  make(map[string]string),
		families:  make(map[string]map[string]struct{}),
		ipIndex:   make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

// WithClock overrides the coordinator's time source for deterministic tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Observe appends entry to signature's window, re-indexes it under ipHash
// (when non-empty), and recomputes the derived statistics.
func (c *Coordinator) Observe(sig string, entry RequestEntry, ipHash string, botProbability float64) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.behaviors[sig]
	if !ok {
		b = &Behavior{Signature: sig, FirstSeen: entry.Timestamp}
		c.behaviors[sig] = b
	}

	b.Requests = append(b.Requests, entry)
	b.LastSeen = entry.Timestamp
	trimWindow(b, c.cfg, c.now())

	b.RequestCount = len(b.Requests)
	b.AverageInterval, b.TimingCoefficient = intervalStats(b.Requests)
	b.PathEntropy = pathEntropy(b.Requests)
	if b.RequestCount == 1 {
		b.AverageBotProbability = botProbability
	} else {
		a := c.cfg.BotProbabilityAlpha
		b.AverageBotProbability = a*botProbability + (1-a)*b.AverageBotProbability
	}

	if ipHash != "" {
		set, ok := c.ipIndex[ipHash]
		if !ok {
			set = make(map[string]struct{})
			c.ipIndex[ipHash] = set
		}
		set[sig] = struct{}{}
	}
}

// SetGeo records geo/network enrichment fields for a signature; a no-op
// when the signature has not been observed yet.
func (c *Coordinator) SetGeo(sig, country, asn string, lat, lon float64, isDatacenter, isVPN bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.behaviors[sig]
	if !ok {
		return
	}
	b.CountryCode = country
	b.ASN = asn
	b.Latitude = lat
	b.Longitude = lon
	b.IsDatacenter = isDatacenter
	b.IsVPN = isVPN
}

// MarkAberrant flags a signature as behaviorally aberrant (e.g. flagged by
// the inconsistency detector).
func (c *Coordinator) MarkAberrant(sig string, aberrant bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.behaviors[sig]; ok {
		b.IsAberrant = aberrant
	}
}

// GetBehavior returns a snapshot of one signature's behavior.
func (c *Coordinator) GetBehavior(sig string) (Behavior, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.behaviors[sig]
	if !ok {
		return Behavior{}, false
	}
	return b.Clone(), true
}

// Intervals returns the inter-request interval series (seconds) for a
// signature, for callers that need the raw series (e.g. the spectral
// detector or clustering's cross-correlation boost).
func (c *Coordinator) Intervals(sig string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.behaviors[sig]
	if !ok || len(b.Requests) < 2 {
		return nil
	}
	out := make([]float64, 0, len(b.Requests)-1)
	for i := 1; i < len(b.Requests); i++ {
		out = append(out, b.Requests[i].Timestamp.Sub(b.Requests[i-1].Timestamp).Seconds())
	}
	return out
}

// GetFamilyAwareBehaviors returns a snapshot of every behavior, with
// members of a registered family merged into one aggregated behavior keyed
// by the family id.
func (c *Coordinator) GetFamilyAwareBehaviors() []Behavior {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	out := make([]Behavior, 0, len(c.behaviors))

	familyIDs := make([]string, 0, len(c.families))
	for fam := range c.families {
		familyIDs = append(familyIDs, fam)
	}
	sort.Strings(familyIDs)

	for _, fam := range familyIDs {
		members := sortedKeys(c.families[fam])
		merged := mergeBehaviors(fam, members, c.behaviors)
		if merged == nil {
			continue
		}
		out = append(out, *merged)
		for _, m := range members {
			seen[m] = true
		}
	}

	sigs := make([]string, 0, len(c.behaviors))
	for sig := range c.behaviors {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		if seen[sig] {
			continue
		}
		out = append(out, c.behaviors[sig].Clone())
	}
	return out
}

// RegisterFamily assigns signatures to a named family, replacing any prior
// family membership those signatures held.
func (c *Coordinator) RegisterFamily(family string, members ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.families[family]
	if !ok {
		set = make(map[string]struct{})
		c.families[family] = set
	}
	for _, m := range members {
		if prior, ok := c.familyOf[m]; ok && prior != family {
			if priorSet, ok := c.families[prior]; ok {
				delete(priorSet, m)
				if len(priorSet) == 0 {
					delete(c.families, prior)
				}
			}
		}
		set[m] = struct{}{}
		c.familyOf[m] = family
	}
}

// GetFamily returns the family a signature belongs to, if any.
func (c *Coordinator) GetFamily(sig string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fam, ok := c.familyOf[sig]
	return fam, ok
}

// FamilyIDs returns every registered family id, sorted.
func (c *Coordinator) FamilyIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.families))
	for fam := range c.families {
		ids = append(ids, fam)
	}
	sort.Strings(ids)
	return ids
}

// FamilyMembers returns the sorted member signatures of a family.
func (c *Coordinator) FamilyMembers(family string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.families[family])
}

// RemoveFamily dissolves a family, releasing all its members back to
// standalone signatures.
func (c *Coordinator) RemoveFamily(family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for m := range c.families[family] {
		delete(c.familyOf, m)
	}
	delete(c.families, family)
}

// RemoveSignatureFromFamilyIndex removes a single signature from its
// family without dissolving the rest of the family.
func (c *Coordinator) RemoveSignatureFromFamilyIndex(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fam, ok := c.familyOf[sig]
	if !ok {
		return
	}
	delete(c.familyOf, sig)
	if set, ok := c.families[fam]; ok {
		delete(set, sig)
		if len(set) == 0 {
			delete(c.families, fam)
		}
	}
}

// SignaturesForIP returns the signatures observed under an IP hash,
// sorted for determinism (used by the convergence sweep's temporal and
// co-occurrence scoring).
func (c *Coordinator) SignaturesForIP(ipHash string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.ipIndex[ipHash])
}

// IPHashes returns every IP hash currently indexed, sorted, for callers
// (the convergence sweep scheduler) that need to drive per-IP
// co-occurrence scoring without holding the coordinator's lock.
func (c *Coordinator) IPHashes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hashes := make([]string, 0, len(c.ipIndex))
	for ip := range c.ipIndex {
		hashes = append(hashes, ip)
	}
	sort.Strings(hashes)
	return hashes
}

// Evict drops signatures whose last observed request is older than
// horizon, along with their family and IP index entries.
func (c *Coordinator) Evict(horizon time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-horizon)
	removed := 0
	for sig, b := range c.behaviors {
		if b.LastSeen.Before(cutoff) {
			delete(c.behaviors, sig)
			removed++
			if fam, ok := c.familyOf[sig]; ok {
				delete(c.familyOf, sig)
				if set, ok := c.families[fam]; ok {
					delete(set, sig)
					if len(set) == 0 {
						delete(c.families, fam)
					}
				}
			}
			for ip, set := range c.ipIndex {
				delete(set, sig)
				if len(set) == 0 {
					delete(c.ipIndex, ip)
				}
			}
		}
	}
	return removed
}

// Len reports the number of tracked signatures.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.behaviors)
}

func trimWindow(b *Behavior, cfg Config, asOf time.Time) {
	cutoff := asOf.Add(-cfg.WindowHorizon)
	kept := b.Requests[:0]
	for _, r := range b.Requests {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	b.Requests = kept
	if len(b.Requests) > cfg.MaxRequestsPerWindow {
		b.Requests = b.Requests[len(b.Requests)-cfg.MaxRequestsPerWindow:]
	}
}

func intervalStats(reqs []RequestEntry) (avg time.Duration, cv float64) {
	if len(reqs) < 2 {
		return 0, 0
	}
	intervals := make([]float64, 0, len(reqs)-1)
	for i := 1; i < len(reqs); i++ {
		intervals = append(intervals, reqs[i].Timestamp.Sub(reqs[i-1].Timestamp).Seconds())
	}
	var sum float64
	for _, v := range intervals {
		sum += v
	}
	mean := sum / float64(len(intervals))
	if mean <= 0 {
		return time.Duration(mean * float64(time.Second)), 0
	}
	var sqDiff float64
	for _, v := range intervals {
		d := v - mean
		sqDiff += d * d
	}
	stddev := math.Sqrt(sqDiff / float64(len(intervals)))
	return time.Duration(mean * float64(time.Second)), stddev / mean
}

// pathEntropy is the Shannon entropy (bits, normalized to [0,1] by log2 of
// the distinct-path count) of the path distribution within the window.
func pathEntropy(reqs []RequestEntry) float64 {
	if len(reqs) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, r := range reqs {
		counts[normalizePath(r.Path)]++
	}
	if len(counts) <= 1 {
		return 0
	}
	total := float64(len(reqs))
	var entropy float64
	for _, n := range counts {
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	maxEntropy := math.Log2(float64(len(counts)))
	if maxEntropy <= 0 {
		return 0
	}
	return entropy / maxEntropy
}

func normalizePath(p string) string {
	return strings.ToLower(strings.TrimRight(p, "/"))
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mergeBehaviors aggregates a family's member behaviors into one synthetic
// Behavior keyed by familyID. Timing/entropy fields are request-weighted
// means; geo/network fields take the plurality non-empty value.
func mergeBehaviors(familyID string, members []string, behaviors map[string]*Behavior) *Behavior {
	var total int
	var first, last time.Time
	var weightedInterval, weightedCV, weightedEntropy, weightedBot float64
	countryVotes := make(map[string]int)
	asnVotes := make(map[string]int)
	var anyDatacenter, anyVPN, anyAberrant bool
	found := false

	for _, sig := range members {
		b, ok := behaviors[sig]
		if !ok {
			continue
		}
		found = true
		n := b.RequestCount
		total += n
		if first.IsZero() || (!b.FirstSeen.IsZero() && b.FirstSeen.Before(first)) {
			first = b.FirstSeen
		}
		if b.LastSeen.After(last) {
			last = b.LastSeen
		}
		weightedInterval += float64(b.AverageInterval) * float64(n)
		weightedCV += b.TimingCoefficient * float64(n)
		weightedEntropy += b.PathEntropy * float64(n)
		weightedBot += b.AverageBotProbability * float64(n)
		if b.CountryCode != "" {
			countryVotes[b.CountryCode]++
		}
		if b.ASN != "" {
			asnVotes[b.ASN]++
		}
		anyDatacenter = anyDatacenter || b.IsDatacenter
		anyVPN = anyVPN || b.IsVPN
		anyAberrant = anyAberrant || b.IsAberrant
	}
	if !found || total == 0 {
		return nil
	}

	return &Behavior{
		Signature:             familyID,
		FirstSeen:             first,
		LastSeen:              last,
		RequestCount:          total,
		AverageInterval:       time.Duration(weightedInterval / float64(total)),
		TimingCoefficient:     weightedCV / float64(total),
		PathEntropy:           weightedEntropy / float64(total),
		AverageBotProbability: weightedBot / float64(total),
		CountryCode:           topVote(countryVotes),
		ASN:                   topVote(asnVotes),
		IsDatacenter:          anyDatacenter,
		IsVPN:                 anyVPN,
		IsAberrant:            anyAberrant,
	}
}

func topVote(votes map[string]int) string {
	best, bestN := "", 0
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if votes[k] > bestN {
			best, bestN = k, votes[k]
		}
	}
	return best
}
