package dnsenrich

import (
	"context"
	"net"
	"time"

	"github.com/rs/dnscache"

	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// CachingResolver implements reqview.Resolver, backing forward (A/AAAA)
// lookups with github.com/rs/dnscache's cached resolver — the same
// capability the teacher injects instead of calling net.LookupHost
// directly — and falling back to net.DefaultResolver for the reverse
// and TXT lookups dnscache does not cache (FCrDNS and the Cymru/
// HTTP:BL feeds need those, but they are already fronted by
// dnsenrich's own TTLCache).
type CachingResolver struct {
	cache    *dnscache.Resolver
	fallback *net.Resolver
}

// NewCachingResolver constructs a resolver and starts its periodic
// cache refresh loop, stopped by canceling ctx.
func NewCachingResolver(ctx context.Context, refreshInterval time.Duration) *CachingResolver {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}
	r := &CachingResolver{
		cache:    &dnscache.Resolver{},
		fallback: net.DefaultResolver,
	}

	go func() {
		t := time.NewTicker(refreshInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.cache.Refresh(true)
			}
		}
	}()

	return r
}

func (r *CachingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.cache.LookupHost(ctx, host)
}

func (r *CachingResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return r.fallback.LookupAddr(ctx, addr)
}

func (r *CachingResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return r.fallback.LookupTXT(ctx, name)
}

var _ reqview.Resolver = (*CachingResolver)(nil)
