// Package config defines the typed configuration surface (spec §6.4):
// default policy, static-asset handling, detector weights, per-component
// cache sizing, dispatcher and clustering tuning, and country-reputation
// decay parameters. Loaded from YAML with struct tags, the way the
// example pack's service configs are shaped, and hot-reloadable via
// fsnotify.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full, struct-tagged configuration surface (spec §6.4).
type Config struct {
	DefaultPolicy      string          `yaml:"default_policy"`
	StaticAssets       StaticAssets    `yaml:"static_assets"`
	DetectorWeights    map[string]float64 `yaml:"detector_weights"`
	Reputation         CacheTuning     `yaml:"reputation"`
	DNS                CacheTuning     `yaml:"dns"`
	SignatureWindow    CacheTuning     `yaml:"signature_window"`
	Dispatcher         DispatcherTuning `yaml:"dispatcher"`
	Clustering         ClusteringTuning `yaml:"clustering"`
	CountryReputation  DecayTuning     `yaml:"country_reputation"`
}

// StaticAssets controls the cheap short-circuit path for static content
// (spec §6.4: "static-asset file extensions; default static path globs").
type StaticAssets struct {
	Enabled    bool     `yaml:"enabled"`
	Extensions []string `yaml:"extensions"`
	PathGlobs  []string `yaml:"path_globs"`
}

// CacheTuning is the shared per-key TTL/capacity shape the reputation,
// DNS, and signature-window caches all use (spec §6.4).
type CacheTuning struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// DispatcherTuning sizes the background dispatcher (spec §6.4, §4.8).
type DispatcherTuning struct {
	Capacity    int `yaml:"capacity"`
	Concurrency int `yaml:"concurrency"`
}

// ClusteringTuning controls the clustering service's cadence and
// algorithm (spec §6.4, §4.9).
type ClusteringTuning struct {
	Interval               time.Duration `yaml:"interval"`
	SimilarityThreshold    float64       `yaml:"similarity_threshold"`
	Algorithm              string        `yaml:"algorithm"` // not read: clustering always uses label propagation
	SemanticEmbeddingWeight float64      `yaml:"semantic_embedding_weight"`
	MinClusterSize         int           `yaml:"min_cluster_size"`
}

// DecayTuning parameterizes the country-reputation decay law (spec §6.4).
type DecayTuning struct {
	TauHours        float64 `yaml:"tau_hours"`
	MinSampleSize   int     `yaml:"min_sample_size"`
}

// Default returns the reference configuration; every YAML document is
// parsed on top of this so an operator's file can specify only the
// fields it wants to override.
func Default() Config {
	return Config{
		DefaultPolicy: "default",
		StaticAssets: StaticAssets{
			Enabled:    true,
			Extensions: []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".woff", ".woff2", ".map"},
			PathGlobs:  []string{"/static/**", "/assets/**", "/favicon.ico"},
		},
		DetectorWeights: map[string]float64{},
		Reputation:      CacheTuning{TTL: 24 * time.Hour, Capacity: 2_000_000},
		DNS:             CacheTuning{TTL: time.Hour, Capacity: 500_000},
		SignatureWindow: CacheTuning{TTL: 30 * time.Minute, Capacity: 200},
		Dispatcher:      DispatcherTuning{Capacity: 10_000, Concurrency: 8},
		Clustering: ClusteringTuning{
			Interval:                5 * time.Minute,
			SimilarityThreshold:     0.75,
			Algorithm:               "label_propagation",
			SemanticEmbeddingWeight: 0.2,
			MinClusterSize:          3,
		},
		CountryReputation: DecayTuning{TauHours: 24, MinSampleSize: 20},
	}
}

// Load reads and merges a YAML document at path on top of Default().
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
