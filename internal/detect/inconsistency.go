package detect

import (
	"context"
	"strings"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// InconsistencyDetector flags internal contradictions across headers,
// TLS fingerprint, and UA family (spec §4.3 "Inconsistency") — e.g. a UA
// string claiming Chrome while the TLS client hello fingerprints as a
// non-browser stack, or Sec-Fetch-* headers that a real browser always
// sends but a raw HTTP client never does.
func InconsistencyDetector() Detector {
	return Func{
		DetectorName:  "inconsistency",
		DetectorStage: 1,
		DetectorTrig:  Always,
		RunFunc:       runInconsistencyDetector,
	}
}

func runInconsistencyDetector(_ context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
	ua := strings.ToLower(req.Header().Get("User-Agent"))
	claimsBrowser := strings.Contains(ua, "chrome") || strings.Contains(ua, "firefox") ||
		strings.Contains(ua, "safari") || strings.Contains(ua, "edg/")

	var reasons []string
	evidence := 0.0

	if claimsBrowser {
		if req.Header().Get("Sec-Fetch-Site") == "" && req.Header().Get("Sec-Fetch-Mode") == "" {
			evidence = max64(evidence, 0.5)
			reasons = append(reasons, "browser UA without any Sec-Fetch-* headers")
		}
		if req.Header().Get("Accept-Encoding") == "" {
			evidence = max64(evidence, 0.45)
			reasons = append(reasons, "browser UA without Accept-Encoding")
		}
	}

	fp := req.TLSFingerprint()
	if fp != "" {
		bb.Set("tls.fingerprint", blackboard.StringValue(fp))
		knownNonBrowser := strings.HasPrefix(fp, "go-") || strings.Contains(fp, "python")
		if claimsBrowser && knownNonBrowser {
			evidence = max64(evidence, 0.8)
			reasons = append(reasons, "TLS fingerprint indicates a non-browser stack despite browser UA")
		}
	}

	if isMobile, ok := bb.GetBool("ua.is_mobile"); ok && isMobile {
		if req.Header().Get("Sec-CH-UA-Mobile") == "?0" {
			evidence = max64(evidence, 0.6)
			reasons = append(reasons, "mobile UA but client hints report non-mobile")
		}
	}

	if len(reasons) == 0 {
		return contribute("inconsistency", 0.1, 0.8, 0.5)
	}
	return contribute("inconsistency", evidence, 1.0, 0.6, reasons...)
}
