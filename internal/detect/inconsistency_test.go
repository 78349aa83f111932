package detect

import (
	"context"
	"testing"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
)

func TestInconsistencyDetectorFlagsBrowserUAWithoutSecFetch(t *testing.T) {
	req := newFakeRequest()
	req.header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0 Safari/537.36")
	bb := blackboard.New()

	c := runInconsistencyDetector(context.Background(), bb, req)

	if c.BotEvidence < 0.4 {
		t.Fatalf("expected elevated evidence for browser UA missing Sec-Fetch-*, got %f", c.BotEvidence)
	}
	if len(c.Reasons) == 0 {
		t.Fatalf("expected reasons to be populated")
	}
}

func TestInconsistencyDetectorFlagsTLSMismatch(t *testing.T) {
	req := newFakeRequest()
	req.header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0 Safari/537.36")
	req.header.Set("Sec-Fetch-Site", "none")
	req.header.Set("Accept-Encoding", "gzip")
	req.tls = "go-tls-1.3-default"
	bb := blackboard.New()

	c := runInconsistencyDetector(context.Background(), bb, req)

	if c.BotEvidence < 0.7 {
		t.Fatalf("expected high evidence for TLS fingerprint mismatch, got %f", c.BotEvidence)
	}
	fp, ok := bb.GetString("tls.fingerprint")
	if !ok || fp != req.tls {
		t.Fatalf("expected tls.fingerprint set on blackboard, got %q ok=%v", fp, ok)
	}
}

func TestInconsistencyDetectorQuietOnConsistentBrowser(t *testing.T) {
	req := newFakeRequest()
	req.header.Set("User-Agent", "Mozilla/5.0 Chrome/120.0 Safari/537.36")
	req.header.Set("Sec-Fetch-Site", "same-origin")
	req.header.Set("Sec-Fetch-Mode", "navigate")
	req.header.Set("Accept-Encoding", "gzip, deflate, br")
	bb := blackboard.New()

	c := runInconsistencyDetector(context.Background(), bb, req)

	if c.BotEvidence > 0.3 {
		t.Fatalf("expected low evidence for a consistent browser request, got %f", c.BotEvidence)
	}
}
