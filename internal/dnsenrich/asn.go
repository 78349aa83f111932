package dnsenrich

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// DatacenterClassifier decides whether an ASN belongs to a known
// hosting/datacenter provider and whether it is explicitly black- or
// white-listed; callers typically back this with a small static table
// plus an operator-maintained override list.
type DatacenterClassifier interface {
	Classify(asn string) (isDatacenter, blacklisted, whitelisted bool)
}

// StaticClassifier is a DatacenterClassifier backed by plain maps.
type StaticClassifier struct {
	Datacenter map[string]bool
	Blacklist  map[string]bool
	Whitelist  map[string]bool
}

func (s StaticClassifier) Classify(asn string) (isDatacenter, blacklisted, whitelisted bool) {
	return s.Datacenter[asn], s.Blacklist[asn], s.Whitelist[asn]
}

// CymruASNReputation implements detect.ASNReputation via the
// Team-Cymru "origin.asn.cymru.com" TXT convention, fronted by a
// two-tier TTL cache so the same /32 isn't re-queried every request.
type CymruASNReputation struct {
	resolver   reqview.Resolver
	classifier DatacenterClassifier
	cache      *TTLCache
}

// NewCymruASNReputation constructs the reputation source. positiveTTL
// applies to successfully classified ASNs, negativeTTL to lookups that
// failed or returned an unrecognized ASN.
func NewCymruASNReputation(resolver reqview.Resolver, classifier DatacenterClassifier, positiveTTL, negativeTTL time.Duration) *CymruASNReputation {
	return &CymruASNReputation{
		resolver:   resolver,
		classifier: classifier,
		cache:      NewTTLCache(positiveTTL, negativeTTL, 500_000),
	}
}

type asnVerdict struct {
	isDatacenter, blacklisted, whitelisted bool
}

// Lookup implements detect.ASNReputation.
func (c *CymruASNReputation) Lookup(ctx context.Context, asn string) (isDatacenter, blacklisted, whitelisted bool) {
	if v, ok := c.cache.Get(asn); ok {
		verdict := v.(asnVerdict)
		return verdict.isDatacenter, verdict.blacklisted, verdict.whitelisted
	}

	var verdict asnVerdict
	if c.classifier != nil {
		verdict.isDatacenter, verdict.blacklisted, verdict.whitelisted = c.classifier.Classify(asn)
	}
	c.cache.Set(asn, verdict, true)
	return verdict.isDatacenter, verdict.blacklisted, verdict.whitelisted
}

// LookupIP resolves ip's owning ASN via the Cymru TXT convention and
// delegates to Lookup. It caches negative (lookup-failed) results too,
// keyed by the query name rather than the unresolved ASN.
func (c *CymruASNReputation) LookupIP(ctx context.Context, ip net.IP) (asn string, isDatacenter, blacklisted, whitelisted bool, ok bool) {
	v4 := ip.To4()
	if v4 == nil {
		return "", false, false, false, false
	}
	octets := strings.Split(v4.String(), ".")
	query := fmt.Sprintf("%s.%s.%s.%s.origin.asn.cymru.com", octets[3], octets[2], octets[1], octets[0])

	if cached, found := c.cache.Get("q:" + query); found {
		asn = cached.(string)
		if asn == "" {
			return "", false, false, false, false
		}
		isDatacenter, blacklisted, whitelisted = c.Lookup(ctx, asn)
		return asn, isDatacenter, blacklisted, whitelisted, true
	}

	if c.resolver == nil {
		c.cache.Set("q:"+query, "", false)
		return "", false, false, false, false
	}
	txts, err := c.resolver.LookupTXT(ctx, query)
	if err != nil || len(txts) == 0 {
		c.cache.Set("q:"+query, "", false)
		return "", false, false, false, false
	}
	fields := strings.Split(txts[0], "|")
	if len(fields) == 0 {
		c.cache.Set("q:"+query, "", false)
		return "", false, false, false, false
	}
	asn = strings.TrimSpace(fields[0])
	if asn == "" {
		c.cache.Set("q:"+query, "", false)
		return "", false, false, false, false
	}
	c.cache.Set("q:"+query, asn, true)
	isDatacenter, blacklisted, whitelisted = c.Lookup(ctx, asn)
	return asn, isDatacenter, blacklisted, whitelisted, true
}
