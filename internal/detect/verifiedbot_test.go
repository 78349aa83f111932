package detect

import (
	"context"
	"net"
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
)

func TestVerifyFCrDNSRejectsSuffixLookalike(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	resolver := newFakeResolver()
	resolver.addrs[ip.String()] = []string{"crawler.evilgooglebot.com"}
	resolver.hosts["crawler.evilgooglebot.com"] = []string{ip.String()}

	if verifyFCrDNS(context.Background(), resolver, ip, ".googlebot.com") {
		t.Fatalf("expected a lookalike domain missing the dot boundary to fail verification")
	}
}

func TestVerifyFCrDNSAcceptsGenuineSubdomain(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	resolver := newFakeResolver()
	resolver.addrs[ip.String()] = []string{"crawl-66-249-66-1.googlebot.com"}
	resolver.hosts["crawl-66-249-66-1.googlebot.com"] = []string{ip.String()}

	if !verifyFCrDNS(context.Background(), resolver, ip, ".googlebot.com") {
		t.Fatalf("expected a genuine googlebot.com subdomain to verify")
	}
}

func TestVerifyFCrDNSNormalizesIPv4MappedIPv6(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	resolver := newFakeResolver()
	resolver.addrs[ip.String()] = []string{"crawl.googlebot.com"}
	resolver.hosts["crawl.googlebot.com"] = []string{"::ffff:203.0.113.5"}

	if !verifyFCrDNS(context.Background(), resolver, ip, ".googlebot.com") {
		t.Fatalf("expected an IPv4-mapped IPv6 forward answer to match the IPv4 remote address")
	}
}

func TestRunVerifiedBotDetectorFlagsUnverifiedClaim(t *testing.T) {
	req := newFakeRequest()
	req.header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1)")
	req.ip = "198.51.100.9"

	resolver := newFakeResolver()
	bb := blackboard.New()
	c := runVerifiedBotDetector(context.Background(), bb, req, resolver, nil)
	if c.EarlyExitVerdict == "" {
		t.Fatalf("expected early exit for an unverifiable claimed crawler")
	}
	if c.BotEvidence < 0.5 {
		t.Fatalf("expected high bot evidence for a failed verification, got %v", c.BotEvidence)
	}
}
