package dnsenrich

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// HTTPBLVerdict is the decoded Project Honeypot HTTP:BL response
// (spec §6.3): days since last activity, a threat score, and a bitmask
// of visitor types.
type HTTPBLVerdict struct {
	DaysSinceLastActivity int
	ThreatScore           int
	Suspicious            bool
	Harvester             bool
	CommentSpammer        bool
}

// HTTPBL performs Project Honeypot HTTP:BL lookups:
// "{accessKey}.{reversed-ipv4}.dnsbl.httpbl.org" resolved as an A
// record, whose four octets encode (days, threat, type) per Project
// Honeypot's documented schema. Results are cached with the same
// two-tier TTL pattern as the ASN lookup.
type HTTPBL struct {
	resolver  reqview.Resolver
	accessKey string
	cache     *TTLCache
}

// NewHTTPBL constructs a lookup client. accessKey is the operator's
// Project Honeypot access key.
func NewHTTPBL(resolver reqview.Resolver, accessKey string, positiveTTL, negativeTTL time.Duration) *HTTPBL {
	return &HTTPBL{
		resolver:  resolver,
		accessKey: accessKey,
		cache:     NewTTLCache(positiveTTL, negativeTTL, 200_000),
	}
}

// Lookup returns the HTTP:BL verdict for ip, or ok=false when the
// access key is unset, the address is not IPv4 (HTTP:BL doesn't cover
// IPv6), or the record lookup failed/came back clean.
func (h *HTTPBL) Lookup(ctx context.Context, ip net.IP) (HTTPBLVerdict, bool) {
	if h.accessKey == "" || h.resolver == nil {
		return HTTPBLVerdict{}, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return HTTPBLVerdict{}, false
	}
	octets := strings.Split(v4.String(), ".")
	query := fmt.Sprintf("%s.%s.%s.%s.%s.dnsbl.httpbl.org", h.accessKey, octets[3], octets[2], octets[1], octets[0])

	if cached, found := h.cache.Get(query); found {
		v, ok := cached.(HTTPBLVerdict)
		return v, ok
	}

	addrs, err := h.resolver.LookupHost(ctx, query)
	if err != nil || len(addrs) == 0 {
		h.cache.Set(query, HTTPBLVerdict{}, false)
		return HTTPBLVerdict{}, false
	}

	verdict, ok := decodeHTTPBL(addrs[0])
	h.cache.Set(query, verdict, ok)
	return verdict, ok
}

// decodeHTTPBL parses the A-record's four octets: first must be 127
// (a valid response marker), second is days since last activity, third
// is threat score, fourth is a visitor-type bitmask.
func decodeHTTPBL(a string) (HTTPBLVerdict, bool) {
	parts := strings.Split(a, ".")
	if len(parts) != 4 {
		return HTTPBLVerdict{}, false
	}
	if parts[0] != "127" {
		return HTTPBLVerdict{}, false
	}
	days, err1 := strconv.Atoi(parts[1])
	threat, err2 := strconv.Atoi(parts[2])
	kind, err3 := strconv.Atoi(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return HTTPBLVerdict{}, false
	}
	return HTTPBLVerdict{
		DaysSinceLastActivity: days,
		ThreatScore:           threat,
		Suspicious:            kind&1 != 0,
		Harvester:             kind&2 != 0,
		CommentSpammer:        kind&4 != 0,
	}, true
}
