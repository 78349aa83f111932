package cluster

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottgal/stylobot-sub004/internal/idhash"
	"github.com/scottgal/stylobot-sub004/internal/signature"
	"github.com/scottgal/stylobot-sub004/internal/spectral"
)

// ClusterType classifies a detected community (spec Bot Cluster type enum).
type ClusterType string

const (
	BotProduct   ClusterType = "BotProduct"
	BotNetwork   ClusterType = "BotNetwork"
	Emergent     ClusterType = "Emergent"
	HumanTraffic ClusterType = "HumanTraffic"
	Mixed        ClusterType = "Mixed"
	Unknown      ClusterType = "Unknown"
)

// Cluster is one community-detection output (spec "Bot Cluster").
type Cluster struct {
	ClusterID             string
	Type                  ClusterType
	MemberSignatures      []string // sorted
	MemberCount           int
	AverageBotProbability float64
	AverageSimilarity     float64
	Connectedness         float64 // graph edge density within the community
	TemporalDensity       float64
	DominantCountry       string
	DominantASN           string
	Label                 string
	Description           string
	FirstSeen             time.Time
	LastSeen              time.Time
}

// Config controls similarity weighting, graph thresholds, and label
// propagation bounds for one clustering cycle (spec §4.9).
type Config struct {
	MinRequestCount int

	// MinClusterSize is the minimum number of eligible signatures a
	// cycle must have before it produces any clusters at all, and the
	// minimum number of members a group must have to be published as a
	// cluster rather than left unclustered (spec §8 "clustering with
	// fewer than min_cluster_size signatures produces no clusters").
	MinClusterSize int

	SimilarityThreshold float64 // graph edge cutoff (step 5)
	ProductThreshold    float64 // avg_similarity >= this -> BotProduct
	NetworkThreshold    float64 // temporal_density >= this (w/ avg_similarity>=0.5) -> BotNetwork

	EmbeddingWeight        float64       // w in (1-w)*heuristic + w*cosine
	CrossCorrelationWeight float64       // blend weight for interval cross-correlation boost
	TemporalOverlapWindow  time.Duration // "active windows overlap within tolerance" (step 8)

	MaxLabelPropagationIterations int
}

// DefaultConfig matches the thresholds named in spec §4.9.
func DefaultConfig() Config {
	return Config{
		MinRequestCount:                5,
		MinClusterSize:                 3,
		SimilarityThreshold:            0.6,
		ProductThreshold:               0.85,
		NetworkThreshold:               0.5,
		EmbeddingWeight:                0.3,
		CrossCorrelationWeight:         0.15,
		TemporalOverlapWindow:          5 * time.Minute,
		MaxLabelPropagationIterations:  20,
	}
}

// FeatureVector is the per-signature input to similarity scoring (spec
// §4.9 step 2).
type FeatureVector struct {
	Signature     string
	RequestCount  int
	TimingCV      float64
	RequestRate   float64 // requests per minute over the observed window
	PathDiversity float64 // distinct paths / total requests
	PathEntropy   float64
	AvgBotProb    float64
	Country       string
	ASN           string
	IsDatacenter  bool
	Latitude      float64
	Longitude     float64
	HasGeo        bool
	Spectral      spectral.Features
	Intervals     []float64 // inter-request intervals (seconds), for cross-correlation
	Embedding     []float64 // optional L2-normalized semantic embedding
	FirstSeen     time.Time
	LastSeen      time.Time
}

// BuildFeatureVector derives a FeatureVector from a signature coordinator
// behavior snapshot plus its raw interval series and an optional embedding.
func BuildFeatureVector(b signature.Behavior, intervals []float64, embedding []float64) FeatureVector {
	distinctPaths := make(map[string]struct{})
	for _, r := range b.Requests {
		distinctPaths[r.Path] = struct{}{}
	}
	diversity := 0.0
	if n := len(b.Requests); n > 0 {
		diversity = float64(len(distinctPaths)) / float64(n)
	}

	rate := 0.0
	if span := b.LastSeen.Sub(b.FirstSeen).Minutes(); span > 0 {
		rate = float64(b.RequestCount) / span
	}

	sf := spectral.Neutral()
	if len(intervals) >= spectral.MinIntervals {
		sf = spectral.Extract(intervals)
	}

	return FeatureVector{
		Signature:     b.Signature,
		RequestCount:  b.RequestCount,
		TimingCV:      b.TimingCoefficient,
		RequestRate:   rate,
		PathDiversity: diversity,
		PathEntropy:   b.PathEntropy,
		AvgBotProb:    b.AverageBotProbability,
		Country:       b.CountryCode,
		ASN:           b.ASN,
		IsDatacenter:  b.IsDatacenter,
		Latitude:      b.Latitude,
		Longitude:     b.Longitude,
		HasGeo:        b.Latitude != 0 || b.Longitude != 0,
		Spectral:      sf,
		Intervals:     intervals,
		Embedding:     embedding,
		FirstSeen:     b.FirstSeen,
		LastSeen:      b.LastSeen,
	}
}

// Similarity computes the blended edge weight between two feature vectors
// (spec §4.9 steps 3-4): a weighted sum of per-feature similarities,
// optionally blended with semantic-embedding cosine similarity, then
// boosted by normalized cross-correlation of the raw interval series.
func Similarity(a, b FeatureVector, cfg Config) float64 {
	heuristic := 0.0
	weights := 0.0

	add := func(sim, weight float64) {
		heuristic += sim * weight
		weights += weight
	}

	add(ratioSimilarity(a.TimingCV, b.TimingCV), 1)
	add(ratioSimilarity(a.RequestRate, b.RequestRate), 1)
	add(ratioSimilarity(a.PathDiversity, b.PathDiversity), 1)
	add(ratioSimilarity(a.PathEntropy, b.PathEntropy), 1)
	add(ratioSimilarity(a.AvgBotProb, b.AvgBotProb), 1.5)
	add(categoricalSimilarity(a.ASN, b.ASN), 1)
	add(boolSimilarity(a.IsDatacenter, b.IsDatacenter), 0.5)
	add(geoSimilarity(a, b), 1.5)
	add(ratioSimilarity(a.Spectral.DominantFrequency, b.Spectral.DominantFrequency), 0.5)
	add(ratioSimilarity(a.Spectral.SpectralEntropy, b.Spectral.SpectralEntropy), 0.5)

	if weights > 0 {
		heuristic /= weights
	}

	sim := heuristic
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		cos := cosineSimilarity(a.Embedding, b.Embedding)
		semantic := (cos + 1) / 2
		w := cfg.EmbeddingWeight
		sim = (1-w)*heuristic + w*semantic
	}

	if len(a.Intervals) >= spectral.MinIntervals && len(b.Intervals) >= spectral.MinIntervals {
		corr := spectral.CrossCorrelation(a.Intervals, b.Intervals)
		cw := cfg.CrossCorrelationWeight
		sim = (1-cw)*sim + cw*corr
	}

	return clamp01(sim)
}

func categoricalSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.5 // unknown on either side: neither confirms nor denies
	}
	if a == b {
		return 1
	}
	return 0
}

func boolSimilarity(a, b bool) float64 {
	if a == b {
		return 1
	}
	return 0
}

// geoSimilarity implements the spec's hierarchical geographic similarity
// from country code and Haversine distance: same country within 50km 1.0
// (standing in for "identical city"), same country within 500km 0.85
// (standing in for "same region", since no region field is carried),
// same country otherwise 0.7; different or unknown country within 500km
// 0.6, within 4000km 0.4 (a rough same-continent band), else 0.
func geoSimilarity(a, b FeatureVector) float64 {
	if a.Country != "" && b.Country != "" && a.Country == b.Country {
		if a.HasGeo && b.HasGeo {
			if d := haversineKM(a.Latitude, a.Longitude, b.Latitude, b.Longitude); d < 50 {
				return 1.0
			} else if d < 500 {
				return 0.85
			}
		}
		return 0.7
	}
	if a.HasGeo && b.HasGeo {
		if d := haversineKM(a.Latitude, a.Longitude, b.Latitude, b.Longitude); d < 500 {
			return 0.6
		} else if d < 4000 {
			return 0.4
		}
	}
	return 0
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Snapshot is the atomically-swapped clustering output (spec §4.9 step 10,
// §5's "C9 mutates a single volatile snapshot handle atomically").
type Snapshot struct {
	Clusters           map[string]Cluster
	SignatureToCluster map[string]string
	GeneratedAt        time.Time
}

// Service runs the periodic clustering cycle and exposes the latest
// snapshot via a lock-free atomic pointer.
type Service struct {
	cfg      Config
	snapshot atomic.Pointer[Snapshot]
	onUpdate []func(*Snapshot)
}

// NewService creates a clustering service with an empty initial snapshot.
func NewService(cfg Config) *Service {
	s := &Service{cfg: cfg}
	s.snapshot.Store(&Snapshot{
		Clusters:           map[string]Cluster{},
		SignatureToCluster: map[string]string{},
	})
	return s
}

// Current returns the most recently published snapshot.
func (s *Service) Current() *Snapshot {
	return s.snapshot.Load()
}

// OnUpdate registers a callback fired after each successful Run.
func (s *Service) OnUpdate(fn func(*Snapshot)) {
	s.onUpdate = append(s.onUpdate, fn)
}

// Run executes one clustering cycle (spec §4.9 steps 1-10) over the given
// feature vectors, using rng for the label-propagation shuffle, and
// atomically publishes the resulting snapshot.
func (s *Service) Run(vectors []FeatureVector, rng *rand.Rand) *Snapshot {
	// Step 1: only signatures meeting the minimum request count enter the
	// clustering cycle.
	eligible := make([]FeatureVector, 0, len(vectors))
	for _, v := range vectors {
		if v.RequestCount < s.cfg.MinRequestCount {
			continue
		}
		eligible = append(eligible, v)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Signature < eligible[j].Signature })

	minClusterSize := s.cfg.MinClusterSize
	if minClusterSize <= 0 {
		minClusterSize = 1
	}
	if len(eligible) < minClusterSize {
		log.Info().Int("eligible_signatures", len(eligible)).Int("min_cluster_size", minClusterSize).
			Msg("clustering cycle skipped: too few eligible signatures")
		snap := &Snapshot{
			Clusters:           map[string]Cluster{},
			SignatureToCluster: map[string]string{},
			GeneratedAt:        time.Now(),
		}
		s.snapshot.Store(snap)
		for _, fn := range s.onUpdate {
			fn(snap)
		}
		return snap
	}

	edges := make(map[string]map[string]float64, len(eligible))
	names := make([]string, 0, len(eligible))
	bySig := make(map[string]FeatureVector, len(eligible))
	for _, v := range eligible {
		names = append(names, v.Signature)
		bySig[v.Signature] = v
		edges[v.Signature] = make(map[string]float64)
	}

	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			sim := Similarity(eligible[i], eligible[j], s.cfg)
			if sim >= s.cfg.SimilarityThreshold {
				edges[eligible[i].Signature][eligible[j].Signature] = sim
				edges[eligible[j].Signature][eligible[i].Signature] = sim
			}
		}
	}

	labels := labelPropagate(names, edges, rng, s.cfg.MaxLabelPropagationIterations)

	groups := make(map[string][]string)
	for _, n := range names {
		l := labels[n]
		groups[l] = append(groups[l], n)
	}

	clusters := make(map[string]Cluster, len(groups))
	sigToCluster := make(map[string]string, len(names))
	skippedSingletons := 0
	for _, members := range groups {
		if len(members) < minClusterSize {
			skippedSingletons += len(members)
			continue
		}
		sort.Strings(members)
		c := buildCluster(members, bySig, edges, s.cfg)
		clusters[c.ClusterID] = c
		for _, m := range members {
			sigToCluster[m] = c.ClusterID
		}
	}
	if skippedSingletons > 0 {
		log.Info().Int("left_unclustered", skippedSingletons).Int("min_cluster_size", minClusterSize).
			Msg("clustering cycle: groups below min_cluster_size left unclustered")
	}

	snap := &Snapshot{
		Clusters:           clusters,
		SignatureToCluster: sigToCluster,
		GeneratedAt:        time.Now(),
	}
	s.snapshot.Store(snap)
	for _, fn := range s.onUpdate {
		fn(snap)
	}
	return snap
}

func buildCluster(members []string, bySig map[string]FeatureVector, edges map[string]map[string]float64, cfg Config) Cluster {
	var sumBot, sumSim float64
	var simPairs int
	var edgeCount int
	countryVotes := make(map[string]int)
	asnVotes := make(map[string]int)
	var first, last time.Time

	for i, m := range members {
		v := bySig[m]
		sumBot += v.AvgBotProb
		if v.Country != "" {
			countryVotes[v.Country]++
		}
		if v.ASN != "" {
			asnVotes[v.ASN]++
		}
		if first.IsZero() || (!v.FirstSeen.IsZero() && v.FirstSeen.Before(first)) {
			first = v.FirstSeen
		}
		if v.LastSeen.After(last) {
			last = v.LastSeen
		}
		for j := i + 1; j < len(members); j++ {
			other := members[j]
			if w, ok := edges[m][other]; ok {
				sumSim += w
				simPairs++
				edgeCount++
			}
		}
	}

	possiblePairs := len(members) * (len(members) - 1) / 2
	connectedness := 0.0
	if possiblePairs > 0 {
		connectedness = float64(edgeCount) / float64(possiblePairs)
	}
	avgSim := 0.0
	if simPairs > 0 {
		avgSim = sumSim / float64(simPairs)
	}
	avgBot := 0.0
	if len(members) > 0 {
		avgBot = sumBot / float64(len(members))
	}

	density := temporalDensity(members, bySig, cfg.TemporalOverlapWindow)
	typ := classify(avgBot, avgSim, density, cfg)

	return Cluster{
		ClusterID:             clusterID(members),
		Type:                  typ,
		MemberSignatures:      members,
		MemberCount:           len(members),
		AverageBotProbability: avgBot,
		AverageSimilarity:     avgSim,
		Connectedness:         connectedness,
		TemporalDensity:       density,
		DominantCountry:       topVote(countryVotes),
		DominantASN:           topVote(asnVotes),
		Label:                 string(typ),
		FirstSeen:             first,
		LastSeen:              last,
	}
}

// temporalDensity is the fraction of member pairs whose active windows
// overlap within tolerance (spec §4.9 step 8).
func temporalDensity(members []string, bySig map[string]FeatureVector, tolerance time.Duration) float64 {
	if len(members) < 2 {
		return 0
	}
	var overlapping, total int
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := bySig[members[i]], bySig[members[j]]
			total++
			gap := windowGap(a.FirstSeen, a.LastSeen, b.FirstSeen, b.LastSeen)
			if gap <= tolerance {
				overlapping++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(overlapping) / float64(total)
}

// windowGap is zero when the windows overlap, else the gap between them.
func windowGap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	if aEnd.After(bStart) && bEnd.After(aStart) {
		return 0
	}
	if aEnd.Before(bStart) {
		return bStart.Sub(aEnd)
	}
	return aStart.Sub(bEnd)
}

// classify implements spec §4.9 step 7's classification cascade.
func classify(avgBot, avgSim, temporalDensity float64, cfg Config) ClusterType {
	switch {
	case avgBot < 0.3:
		return HumanTraffic
	case avgBot < 0.5:
		return Mixed
	case avgSim >= cfg.ProductThreshold:
		return BotProduct
	case temporalDensity >= cfg.NetworkThreshold && avgSim >= 0.5:
		return BotNetwork
	default:
		return Emergent
	}
}

// clusterID hashes the sorted member list deterministically (spec §4.9
// step 9), reusing the kernel's fast non-cryptographic hash.
func clusterID(sortedMembers []string) string {
	var joined string
	for i, m := range sortedMembers {
		if i > 0 {
			joined += "\x00"
		}
		joined += m
	}
	return fmt.Sprintf("cluster-%016x", idhash.FastKey(joined))
}

func topVote(votes map[string]int) string {
	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if votes[k] > bestN {
			best, bestN = k, votes[k]
		}
	}
	return best
}

// labelPropagate implements spec §4.9 step 6's fallback community
// detection: each node starts in its own label, iterates with a seeded
// shuffle, and adopts the max-weight label among its neighbors; stops on
// no change or the iteration cap. Ties break on the lexicographically
// smallest label for determinism.
func labelPropagate(nodes []string, edges map[string]map[string]float64, rng *rand.Rand, maxIter int) map[string]string {
	labels := make(map[string]string, len(nodes))
	for _, n := range nodes {
		labels[n] = n
	}
	if maxIter <= 0 {
		maxIter = 20
	}

	order := append([]string(nil), nodes...)
	for iter := 0; iter < maxIter; iter++ {
		if rng != nil {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		changed := false
		for _, n := range order {
			neighbors := edges[n]
			if len(neighbors) == 0 {
				continue
			}
			tally := make(map[string]float64)
			for neighbor, w := range neighbors {
				tally[labels[neighbor]] += w
			}
			best := bestLabel(tally)
			if best != "" && best != labels[n] {
				labels[n] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

func bestLabel(tally map[string]float64) string {
	keys := make([]string, 0, len(tally))
	for k := range tally {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestW := "", -1.0
	for _, k := range keys {
		if tally[k] > bestW {
			best, bestW = k, tally[k]
		}
	}
	return best
}
