// Package telemetry wires the counters, gauges, and histograms named in
// spec §6.5, plus the zero-PII logging helpers the rest of the module
// calls before ever putting a raw IP into a log field or metric label.
//
// Grounded on the teacher's internal/ai.PatrolMetrics: a struct of
// *prometheus.CounterVec/Counter fields built once via
// prometheus.NewCounterVec/NewCounter under a shared Namespace, with a
// package-level singleton accessor guarded by sync.Once.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stylobot"

// Metrics holds every Prometheus instrument the kernel reports (spec
// §6.5: "total requests, bots detected per type, per-detector error
// counts, DNS cache hit rates, dispatcher queue depth/utilization,
// clusters produced per cycle").
type Metrics struct {
	RequestsTotal       prometheus.Counter
	BotsDetectedTotal   *prometheus.CounterVec // label: bot_type
	DetectorErrorsTotal *prometheus.CounterVec // label: detector
	DNSCacheHits        *prometheus.CounterVec // label: feed
	DNSCacheMisses      *prometheus.CounterVec // label: feed
	DispatcherQueueDepth prometheus.Gauge
	DispatcherQueueUtil  prometheus.Gauge
	DispatcherDropsTotal prometheus.Counter
	ClustersPerCycle     prometheus.Histogram
	VerdictsTotal        *prometheus.CounterVec // labels: policy, action
	EarlyExitsTotal      *prometheus.CounterVec // label: verdict
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics singleton, registering every
// instrument with the default Prometheus registry on first use.
func Get() *Metrics {
	once.Do(func() { instance = newMetrics(prometheus.DefaultRegisterer) })
	return instance
}

// New builds a Metrics instance registered against reg, for callers
// (typically tests) that want an isolated registry instead of the
// process-wide default.
func New(reg prometheus.Registerer) *Metrics { return newMetrics(reg) }

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total", Help: "Total requests evaluated by the kernel.",
		}),
		BotsDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bots_detected_total", Help: "Total requests classified as bot, by detected type.",
		}, []string{"bot_type"}),
		DetectorErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "detector_errors_total", Help: "Total detector soft-failures, by detector name.",
		}, []string{"detector"}),
		DNSCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dns_cache_hits_total", Help: "DNS enrichment cache hits, by feed.",
		}, []string{"feed"}),
		DNSCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dns_cache_misses_total", Help: "DNS enrichment cache misses, by feed.",
		}, []string{"feed"}),
		DispatcherQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dispatcher_queue_depth", Help: "Current number of queued background jobs.",
		}),
		DispatcherQueueUtil: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dispatcher_queue_utilization", Help: "Dispatcher queue depth as a fraction of capacity.",
		}),
		DispatcherDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatcher_drops_total", Help: "Total jobs dropped by drop-oldest overflow.",
		}),
		ClustersPerCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "clusters_per_cycle", Help: "Number of clusters produced per clustering cycle.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "verdicts_total", Help: "Total verdicts, by policy and resulting action.",
		}, []string{"policy", "action"}),
		EarlyExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "early_exits_total", Help: "Total early-exit verdicts, by verdict kind.",
		}, []string{"verdict"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.RequestsTotal, m.BotsDetectedTotal, m.DetectorErrorsTotal,
			m.DNSCacheHits, m.DNSCacheMisses, m.DispatcherQueueDepth,
			m.DispatcherQueueUtil, m.DispatcherDropsTotal, m.ClustersPerCycle,
			m.VerdictsTotal, m.EarlyExitsTotal,
		} {
			reg.Unregister(c) // idempotent registration in tests that reuse DefaultRegisterer
			_ = reg.Register(c)
		}
	}
	return m
}
