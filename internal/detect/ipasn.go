package detect

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// ASNReputation is the subset of a reputation lookup the IP/ASN detector
// needs: whether the owning ASN is a known datacenter/hosting provider,
// and an optional blacklist/whitelist verdict.
type ASNReputation interface {
	// Lookup resolves an ASN (as returned by the Cymru-style TXT record,
	// e.g. "15169") to reputation metadata.
	Lookup(ctx context.Context, asn string) (isDatacenter bool, blacklisted bool, whitelisted bool)
}

// IPASNDetector contributes datacenter-vs-residential and ASN reputation
// signals via a Team-Cymru-style DNS TXT lookup (spec §4.3 "IP/ASN").
func IPASNDetector(resolver reqview.Resolver, asnRep ASNReputation) Detector {
	return Func{
		DetectorName:  "ip_asn",
		DetectorStage: 0,
		DetectorTrig:  Always,
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			return runIPASNDetector(ctx, bb, req, resolver, asnRep)
		},
	}
}

func runIPASNDetector(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request, resolver reqview.Resolver, asnRep ASNReputation) blackboard.Contribution {
	ip := req.RemoteIP()
	bb.Set("ip.remote", blackboard.StringValue(ip))

	asn, ok := LookupASN(ctx, resolver, ip)
	if !ok {
		return contribute("ip_asn", 0.3, 0.5, 0.3, "ASN lookup unavailable")
	}
	bb.Set("ip.asn", blackboard.StringValue(asn))

	if asnRep == nil {
		return contribute("ip_asn", 0.2, 0.5, 0.4, "ASN resolved, no reputation source")
	}

	isDatacenter, blacklisted, whitelisted := asnRep.Lookup(ctx, asn)
	bb.Set("ip.is_datacenter", blackboard.BoolValue(isDatacenter))

	switch {
	case blacklisted:
		return earlyExit("ip_asn", 0.95, 1.0, blackboard.Blacklisted, "ASN "+asn+" is blacklisted")
	case whitelisted:
		return earlyExit("ip_asn", 0.0, 1.0, blackboard.Whitelisted, "ASN "+asn+" is whitelisted")
	case isDatacenter:
		return contribute("ip_asn", 0.55, 1.0, 0.6, "request originates from datacenter ASN "+asn)
	default:
		return contribute("ip_asn", 0.15, 1.0, 0.6, "residential ASN "+asn)
	}
}

// LookupASN performs a Team-Cymru-style reverse DNS TXT query against
// origin.asn.cymru.com: "<reversed-octets>.origin.asn.cymru.com" returns
// a TXT record of "ASN | prefix | country | registry | date".
func LookupASN(ctx context.Context, resolver reqview.Resolver, ip string) (string, bool) {
	if resolver == nil {
		return "", false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", false
	}
	octets := strings.Split(parsed.To4().String(), ".")
	if len(octets) != 4 {
		return "", false
	}
	reversed := fmt.Sprintf("%s.%s.%s.%s.origin.asn.cymru.com", octets[3], octets[2], octets[1], octets[0])

	txts, err := resolver.LookupTXT(ctx, reversed)
	if err != nil || len(txts) == 0 {
		return "", false
	}
	fields := strings.Split(txts[0], "|")
	if len(fields) == 0 {
		return "", false
	}
	asn := strings.TrimSpace(fields[0])
	if asn == "" {
		return "", false
	}
	return asn, true
}
