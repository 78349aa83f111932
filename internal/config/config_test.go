package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsWellFormed(t *testing.T) {
	d := Default()
	if d.DefaultPolicy == "" {
		t.Fatalf("expected a non-empty default policy name")
	}
	if d.Dispatcher.Capacity <= 0 || d.Dispatcher.Concurrency <= 0 {
		t.Fatalf("expected sane dispatcher defaults, got %+v", d.Dispatcher)
	}
}

func TestLoadMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("default_policy: strict\nclustering:\n  similarity_threshold: 0.9\n"), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultPolicy != "strict" {
		t.Fatalf("expected override to apply, got %q", cfg.DefaultPolicy)
	}
	if cfg.Clustering.SimilarityThreshold != 0.9 {
		t.Fatalf("expected clustering override to apply, got %v", cfg.Clustering.SimilarityThreshold)
	}
	if cfg.Dispatcher.Capacity != Default().Dispatcher.Capacity {
		t.Fatalf("expected untouched fields to retain their defaults")
	}
}

func TestMarshalRoundTrips(t *testing.T) {
	d := Default()
	raw, err := marshalForTest(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.yaml")
	os.WriteFile(path, raw, 0o644)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Reputation.TTL != d.Reputation.TTL {
		t.Fatalf("expected round-tripped TTL to match, got %v want %v", loaded.Reputation.TTL, d.Reputation.TTL)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("default_policy: initial\n"), 0o644)

	changed := make(chan Config, 1)
	w, err := NewWatcher(path, func(c Config) { changed <- c })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	if w.Current().DefaultPolicy != "initial" {
		t.Fatalf("expected initial load, got %q", w.Current().DefaultPolicy)
	}

	os.WriteFile(path, []byte("default_policy: updated\n"), 0o644)

	select {
	case c := <-changed:
		if c.DefaultPolicy != "updated" {
			t.Fatalf("expected updated policy, got %q", c.DefaultPolicy)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reload notification")
	}
}
