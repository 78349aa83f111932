// Package kernel wires components C1-C10 into the module's single
// entry point: construct an Engine once at startup, then call Evaluate
// per request. Grounded on the teacher's top-level service wiring
// (internal/ai providers composed behind a single facade) generalized
// to this module's ten components.
package kernel

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottgal/stylobot-sub004/internal/action"
	"github.com/scottgal/stylobot-sub004/internal/cluster"
	"github.com/scottgal/stylobot-sub004/internal/config"
	"github.com/scottgal/stylobot-sub004/internal/detect"
	"github.com/scottgal/stylobot-sub004/internal/dispatch"
	"github.com/scottgal/stylobot-sub004/internal/idhash"
	"github.com/scottgal/stylobot-sub004/internal/learnbus"
	"github.com/scottgal/stylobot-sub004/internal/orchestrator"
	"github.com/scottgal/stylobot-sub004/internal/policy"
	"github.com/scottgal/stylobot-sub004/internal/reputation"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
	"github.com/scottgal/stylobot-sub004/internal/signature"
	"github.com/scottgal/stylobot-sub004/internal/telemetry"
)

// maintenanceInterval paces the reputation store's decay/GC/persist
// sweep (spec §4.1). Independent of the clustering cadence, which is
// operator-tunable via config.Config.Clustering.Interval.
const maintenanceInterval = 10 * time.Minute

// enrichmentRiskFloor is the risk score above which a settled verdict is
// uncertain enough to warrant background re-verification (spec §4.8:
// "LLM intent classification, or DNS-based IP enrichment"). Below it the
// fast path was already confident and a background job would just spend
// dispatcher capacity confirming what is already known.
const enrichmentRiskFloor = 0.3

// Deps are the injected capabilities a Engine is built from (spec §6.1):
// everything outside the kernel's control (DNS, persistence, RNG,
// classifier backends) arrives here rather than being constructed
// internally.
type Deps struct {
	Resolver   reqview.Resolver
	Rand       reqview.RandSource
	RangeList  detect.RangeList
	ASNRep     detect.ASNReputation
	Honeypots  detect.HoneypotSource
	Classifier detect.Classifier
}

// Engine is the composed kernel: reputation cache, blackboard-driven
// orchestrator, policy/action registries, signature coordinator,
// background dispatcher, clustering service, and learning bus, all
// built from one Config.
type Engine struct {
	cfg  config.Config
	deps Deps

	Reputation  *reputation.Store
	Signatures  *signature.Coordinator
	Convergence *cluster.Convergence
	Clustering  *cluster.Service
	Policies    *policy.Registry
	APIKeys     *policy.Store
	Actions     *action.Registry
	Dispatcher  *dispatch.Dispatcher
	Bus         *learnbus.Bus
	Metrics     *telemetry.Metrics

	orch *orchestrator.Engine
	rng  *rand.Rand
}

// New constructs a fully wired Engine. The returned Engine owns no
// goroutines until Start is called.
func New(cfg config.Config, deps Deps) *Engine {
	repStore := reputation.NewStore(reputation.Config{
		DecayTau:   time.Duration(cfg.CountryReputation.TauHours * float64(time.Hour)),
		MaxEntries: cfg.Reputation.Capacity,
	})
	sigCoord := signature.New(signature.Config{
		MaxRequestsPerWindow: cfg.SignatureWindow.Capacity,
		WindowHorizon:        cfg.SignatureWindow.TTL,
	})
	convergence := cluster.NewConvergence(cluster.DefaultConvergenceConfig())
	clusterCfg := cluster.DefaultConfig()
	clusterCfg.SimilarityThreshold = cfg.Clustering.SimilarityThreshold
	clusterCfg.EmbeddingWeight = cfg.Clustering.SemanticEmbeddingWeight
	if cfg.Clustering.MinClusterSize > 0 {
		clusterCfg.MinClusterSize = cfg.Clustering.MinClusterSize
	}
	clustering := cluster.NewService(clusterCfg)

	policies := policy.NewRegistry()
	apiKeys := policy.NewStore()
	actions := action.NewRegistry()
	disp := dispatch.New(dispatch.Config{
		MaxConcurrency: cfg.Dispatcher.Concurrency,
		QueueCapacity:  cfg.Dispatcher.Capacity,
	})
	bus := learnbus.New(learnbus.DefaultConfig())
	metrics := telemetry.Get()

	detectors := buildDetectorCatalog(repStore, sigCoord, deps)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.DefaultPolicyName = cfg.DefaultPolicy
	orchCfg.GlobalWeights = cfg.DetectorWeights
	orch := orchestrator.New(orchCfg, policies, apiKeys, detectors, actions)

	return &Engine{
		cfg:         cfg,
		deps:        deps,
		Reputation:  repStore,
		Signatures:  sigCoord,
		Convergence: convergence,
		Clustering:  clustering,
		Policies:    policies,
		APIKeys:     apiKeys,
		Actions:     actions,
		Dispatcher:  disp,
		Bus:         bus,
		Metrics:     metrics,
		orch:        orch,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func buildDetectorCatalog(repStore *reputation.Store, sigCoord *signature.Coordinator, deps Deps) map[string]detect.Detector {
	sigFn := func(req reqview.Request) string {
		vec := idhash.Derive(req.RemoteIP(), req.Header().Get("User-Agent"))
		return string(vec.Primary)
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = detect.NoopClassifier{}
	}

	catalog := map[string]detect.Detector{
		"ua_header_shape": detect.UserAgentDetector(),
		"ip_asn":          detect.IPASNDetector(deps.Resolver, deps.ASNRep),
		"verified_bot":    detect.VerifiedBotDetector(deps.Resolver, deps.RangeList),
		"behavioral":      detect.BehavioralDetector(sigCoord, sigFn),
		"spectral":        detect.SpectralDetector(sigCoord),
		"inconsistency":   detect.InconsistencyDetector(),
		"reputation":      detect.ReputationDetector(repositoryAdapter{repStore}),
		"intent":          detect.IntentDetector(deps.Honeypots),
		"ml_inference":    detect.MLDetector(classifier),
	}
	return catalog
}

// repositoryAdapter narrows *reputation.Store to detect.ReputationSource.
type repositoryAdapter struct{ store *reputation.Store }

func (r repositoryAdapter) Get(patternID string) reputation.Entry { return r.store.Get(patternID) }

// Start launches the dispatcher, learning bus, and the two periodic
// background loops (clustering/convergence and reputation maintenance)
// that keep C1/C7/C9 from going stale between requests (spec §4.1,
// §4.9: "periodic schedule or when a detection counter exceeds a
// trigger").
func (e *Engine) Start(ctx context.Context) {
	e.Dispatcher.Start(ctx)
	go e.Bus.Run(ctx)
	e.wireLearningHandlers()
	go e.runClusteringScheduler(ctx)
	go e.runMaintenanceScheduler(ctx)
}

// Stop tears down background loops.
func (e *Engine) Stop() {
	e.Dispatcher.Stop()
	e.Bus.Stop()
}

// runClusteringScheduler periodically rebuilds feature vectors from the
// signature coordinator's current behaviors, runs one clustering cycle,
// and sweeps C7's families for merge/split candidates (spec §4.9 steps
// 1-10 plus the convergence sweep).
func (e *Engine) runClusteringScheduler(ctx context.Context) {
	interval := e.cfg.Clustering.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runClusteringCycle()
		}
	}
}

func (e *Engine) runClusteringCycle() {
	behaviors := e.Signatures.GetFamilyAwareBehaviors()
	vectors := make([]cluster.FeatureVector, 0, len(behaviors))
	for _, b := range behaviors {
		intervals := e.Signatures.Intervals(b.Signature)
		vectors = append(vectors, cluster.BuildFeatureVector(b, intervals, nil))
	}
	e.Clustering.Run(vectors, e.rng)
	e.Convergence.Sweep(e.Signatures, e.Signatures.IPHashes())
}

// runMaintenanceScheduler periodically decays, garbage-collects, and
// persists the reputation store (spec §4.1) so entries below the decay
// floor are reclaimed instead of accumulating forever.
func (e *Engine) runMaintenanceScheduler(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Reputation.DecaySweep()
			removed := e.Reputation.GarbageCollect()
			if err := e.Reputation.Persist(); err != nil {
				log.Warn().Err(err).Msg("reputation store persist failed")
			}
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("reputation store garbage collected")
			}
		}
	}
}

func (e *Engine) wireLearningHandlers() {
	e.Bus.Subscribe(learnbus.ReputationUpdater(e.Reputation), learnbus.FullDetection, learnbus.HighConfidenceDetection)
	e.Bus.Subscribe(learnbus.SignatureFeedbackHandler(e.Signatures), learnbus.SignatureFeedback, learnbus.UserFeedback)
	drift := &learnbus.DriftWindow{Horizon: 15 * time.Minute, MinSamples: 50}
	e.Bus.Subscribe(learnbus.NewDriftDetector(e.Bus, drift, 0.15, time.Now), learnbus.FullDetection)
}

// Evaluate runs one request through the full pipeline (spec §4.4 Run):
// policy resolution, staged detector execution, aggregation, and
// action execution. It never panics or returns an error to the
// caller — any internal failure degrades to a neutral Allow verdict
// plus a metric (spec §7 propagation policy).
func (e *Engine) Evaluate(ctx context.Context, req reqview.Request, resp reqview.ResponseHandle, apiKeyName, apiKeySecret string) (v orchestrator.Verdict) {
	e.Metrics.RequestsTotal.Inc()
	vec := idhash.Derive(req.RemoteIP(), req.Header().Get("User-Agent"))
	defer func() {
		if r := recover(); r != nil {
			v = orchestrator.Verdict{Action: policy.ActionAllow, Confidence: 0, Description: "internal failure, neutral verdict"}
		}
		e.Metrics.VerdictsTotal.WithLabelValues(v.PolicyName, string(v.Action)).Inc()
		e.recordSignatureObservation(vec, req, v)
		if v.Action != policy.ActionContinue {
			e.publishOutcome(vec, v)
			e.enqueueBackgroundEnrichment(vec, req, v)
		}
	}()
	return e.orch.Run(ctx, req, resp, apiKeyName, apiKeySecret)
}

// recordSignatureObservation feeds the request into C7's sliding window
// (spec §4.7) so the signature coordinator's behavior stats are built
// from live traffic rather than only from feedback events replayed
// through the learning bus.
func (e *Engine) recordSignatureObservation(vec idhash.Vectors, req reqview.Request, v orchestrator.Verdict) {
	e.Signatures.Observe(string(vec.Primary), signature.RequestEntry{
		Path:      req.Path(),
		Timestamp: time.Now(),
	}, string(vec.IP), v.Risk)
}

func (e *Engine) publishOutcome(vec idhash.Vectors, v orchestrator.Verdict) {
	kind := learnbus.FullDetection
	if v.Confidence >= 0.85 {
		kind = learnbus.HighConfidenceDetection
	}
	e.Bus.Publish(learnbus.Event{Kind: kind, Payload: map[string]any{
		"risk":       v.Risk,
		"confidence": v.Confidence,
		"policy":     v.PolicyName,
		"identity": learnbus.Identity{
			PrimaryKey: string(vec.Primary),
			UAKey:      string(vec.UA),
			IPKey:      string(vec.IP),
			SubnetKey:  string(vec.Subnet),
		},
	}})
}

// enqueueBackgroundEnrichment submits the heavier, off-the-request-path
// work the fast verdict didn't have time for (spec §4.8 Job doc: "LLM
// intent classification, or DNS-based IP enrichment"), scoped to
// requests whose risk crossed enrichmentRiskFloor — a confidently-clean
// request isn't worth spending dispatcher capacity re-confirming.
func (e *Engine) enqueueBackgroundEnrichment(vec idhash.Vectors, req reqview.Request, v orchestrator.Verdict) {
	if v.Risk < enrichmentRiskFloor {
		return
	}

	if e.deps.Classifier != nil {
		sig := string(vec.Primary)
		priorRisk := v.Risk
		e.Dispatcher.Enqueue(dispatch.Job{
			Key:     sig,
			Backend: "llm",
			Payload: priorRisk,
			Run: func(ctx context.Context, payload any) error {
				risk := payload.(float64)
				score, label, err := e.deps.Classifier.Classify(ctx, map[string]float64{"prior_risk": risk})
				if err != nil || label == "" {
					return err
				}
				e.Bus.Publish(learnbus.Event{Kind: learnbus.SignatureFeedback, Payload: map[string]any{
					"signature": sig,
					"aberrant":  label != "human",
					"identity": learnbus.Identity{
						PrimaryKey: string(vec.Primary),
						UAKey:      string(vec.UA),
						IPKey:      string(vec.IP),
						SubnetKey:  string(vec.Subnet),
					},
					"risk":       score,
					"confidence": 1.0,
				}})
				return nil
			},
		})
	}

	if e.deps.Resolver != nil && e.deps.ASNRep != nil {
		remoteIP := req.RemoteIP()
		e.Dispatcher.Enqueue(dispatch.Job{
			Key:     string(vec.IP),
			Backend: "dns",
			Payload: remoteIP,
			Run: func(ctx context.Context, payload any) error {
				ip := payload.(string)
				asn, ok := detect.LookupASN(ctx, e.deps.Resolver, ip)
				if !ok {
					return nil
				}
				isDatacenter, blacklisted, _ := e.deps.ASNRep.Lookup(ctx, asn)
				if !blacklisted && !isDatacenter {
					return nil
				}
				risk := 0.6
				if blacklisted {
					risk = 0.95
				}
				e.Bus.Publish(learnbus.Event{Kind: learnbus.FullDetection, Payload: map[string]any{
					"risk":       risk,
					"confidence": 0.7,
					"policy":     v.PolicyName,
					"identity": learnbus.Identity{
						PrimaryKey: string(vec.Primary),
						UAKey:      string(vec.UA),
						IPKey:      string(vec.IP),
						SubnetKey:  string(vec.Subnet),
					},
				}})
				return nil
			},
		})
	}
}
