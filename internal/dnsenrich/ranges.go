package dnsenrich

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// vendorRangeDoc mirrors the common shape crawler operators publish
// (Googlebot's googlebot.json, Bingbot's bing-crawler-range.json, Apple's
// applebot.json): a flat list of prefix entries keyed by one of
// ipv4Prefix/ipv6Prefix/ipPrefix (spec §6.3).
type vendorRangeDoc struct {
	Prefixes []struct {
		IPv4Prefix string `json:"ipv4Prefix"`
		IPv6Prefix string `json:"ipv6Prefix"`
		IPPrefix   string `json:"ipPrefix"`
	} `json:"prefixes"`
}

// Source is one crawler's published range feed.
type Source struct {
	Claimant string
	URL      string
}

// RangeRefresher periodically fetches each configured Source's vendor
// JSON and serves detect.RangeList.Contains lookups against the most
// recently fetched snapshot. Grounded on github.com/rs/dnscache's
// ticker-driven background refresh with an RWMutex-guarded snapshot
// swap.
type RangeRefresher struct {
	client *http.Client
	srcs   []Source

	mu     sync.RWMutex
	ranges map[string][]*net.IPNet // claimant -> parsed CIDRs

	stop chan struct{}
}

// NewRangeRefresher constructs a refresher for the given sources. Call
// Refresh once synchronously before serving traffic, then Run in a
// goroutine to keep it current.
func NewRangeRefresher(client *http.Client, sources []Source) *RangeRefresher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RangeRefresher{
		client: client,
		srcs:   sources,
		ranges: make(map[string][]*net.IPNet),
		stop:   make(chan struct{}),
	}
}

// Contains implements detect.RangeList.
func (r *RangeRefresher) Contains(claimant string, ip net.IP) bool {
	if ip == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.ranges[claimant] {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Refresh re-fetches every configured source, replacing ranges for
// claimants that succeeded and leaving the prior snapshot for claimants
// whose fetch failed (so a transient vendor outage never empties a
// range list a detector depends on).
func (r *RangeRefresher) Refresh(ctx context.Context) {
	for _, src := range r.srcs {
		nets, err := fetchRanges(ctx, r.client, src.URL)
		if err != nil {
			log.Warn().Err(err).Str("claimant", src.Claimant).Msg("dnsenrich: range refresh failed, keeping prior snapshot")
			continue
		}
		r.mu.Lock()
		r.ranges[src.Claimant] = nets
		r.mu.Unlock()
		log.Info().Str("claimant", src.Claimant).Int("ranges", len(nets)).Msg("dnsenrich: range list refreshed")
	}
}

// Run refreshes on every tick until ctx is canceled or Stop is called.
func (r *RangeRefresher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-t.C:
			r.Refresh(ctx)
		}
	}
}

// Stop tears down a running Run loop.
func (r *RangeRefresher) Stop() { close(r.stop) }

func fetchRanges(ctx context.Context, client *http.Client, url string) ([]*net.IPNet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var doc vendorRangeDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}

	var out []*net.IPNet
	for _, p := range doc.Prefixes {
		cidr := p.IPv4Prefix
		if cidr == "" {
			cidr = p.IPv6Prefix
		}
		if cidr == "" {
			cidr = p.IPPrefix
		}
		if cidr == "" {
			continue
		}
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
