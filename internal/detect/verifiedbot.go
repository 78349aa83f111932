package detect

import (
	"context"
	"net"
	"strings"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// RangeList answers whether an IP falls within a named crawler's
// published address ranges (spec §6.3's "vendor JSON ipv4Prefix/
// ipv6Prefix/ipPrefix" refresh feed, consumed here as a resolved set).
type RangeList interface {
	// Contains reports whether ip is within the named claimant's ranges
	// (e.g. claimant "googlebot", "bingbot").
	Contains(claimant string, ip net.IP) bool
}

// uaClaimants maps a User-Agent substring to the crawler identity it
// claims, and the FCrDNS suffix that must resolve back for verification.
var uaClaimants = []struct {
	uaToken     string
	claimant    string
	fcrdnsSuffix string
}{
	{"googlebot", "googlebot", ".googlebot.com"},
	{"googlebot", "googlebot", ".google.com"},
	{"bingbot", "bingbot", ".search.msn.com"},
	{"applebot", "applebot", ".applebot.apple.com"},
	{"duckduckbot", "duckduckbot", ".duckduckgo.com"},
}

// VerifiedBotDetector verifies a claimed crawler identity via UA token +
// IP-range membership + forward-confirmed reverse DNS, early-exiting on
// both success and a failed claim (spec §4.3 "Verified-bot").
func VerifiedBotDetector(resolver reqview.Resolver, ranges RangeList) Detector {
	return Func{
		DetectorName:  "verified_bot",
		DetectorStage: 0,
		DetectorTrig:  Always,
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			return runVerifiedBotDetector(ctx, bb, req, resolver, ranges)
		},
	}
}

func runVerifiedBotDetector(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request, resolver reqview.Resolver, ranges RangeList) blackboard.Contribution {
	ua := strings.ToLower(req.Header().Get("User-Agent"))
	ip := net.ParseIP(req.RemoteIP())

	var claim *struct {
		uaToken      string
		claimant     string
		fcrdnsSuffix string
	}
	for i, c := range uaClaimants {
		if strings.Contains(ua, c.uaToken) {
			claim = &uaClaimants[i]
			break
		}
	}
	if claim == nil {
		return contribute("verified_bot", 0.0, 0.0, 0.0)
	}
	bb.Set("verified_bot.claimant", blackboard.StringValue(claim.claimant))

	if ip == nil {
		return earlyExit("verified_bot", 0.85, 1.0, blackboard.VerifiedBadBot,
			"claimed "+claim.claimant+" but remote address did not parse")
	}

	if ranges != nil && ranges.Contains(claim.claimant, ip) {
		bb.Set("verified_bot.range_match", blackboard.BoolValue(true))
		if verifyFCrDNS(ctx, resolver, ip, claim.fcrdnsSuffix) {
			return earlyExit("verified_bot", 0.0, 1.0, blackboard.VerifiedGoodBot,
				"verified "+claim.claimant+" via IP range and FCrDNS")
		}
	}

	if verifyFCrDNS(ctx, resolver, ip, claim.fcrdnsSuffix) {
		return earlyExit("verified_bot", 0.0, 1.0, blackboard.VerifiedGoodBot,
			"verified "+claim.claimant+" via FCrDNS")
	}

	return earlyExit("verified_bot", 0.9, 1.0, blackboard.VerifiedBadBot,
		"claimed "+claim.claimant+" but failed IP-range and FCrDNS verification")
}

// verifyFCrDNS performs forward-confirmed reverse DNS: reverse-resolve
// ip, check the hostname ends in suffix, then forward-resolve that
// hostname and confirm it includes ip.
func verifyFCrDNS(ctx context.Context, resolver reqview.Resolver, ip net.IP, suffix string) bool {
	if resolver == nil {
		return false
	}
	names, err := resolver.LookupAddr(ctx, ip.String())
	if err != nil || len(names) == 0 {
		return false
	}

	bareSuffix := strings.TrimPrefix(suffix, ".")
	for _, name := range names {
		normalized := strings.TrimSuffix(strings.ToLower(name), ".")
		if normalized != bareSuffix && !strings.HasSuffix(normalized, suffix) {
			continue
		}
		addrs, err := resolver.LookupHost(ctx, normalized)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			resolved := net.ParseIP(a)
			if resolved != nil && resolved.Equal(ip) {
				return true
			}
		}
	}
	return false
}
