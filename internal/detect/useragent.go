package detect

import (
	"context"
	"strings"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// knownBotTokens are substrings that claim a known automated client.
// There is no UA-parsing library anywhere in the retrieval pack this
// module was grounded on, so this is a deliberate, documented stdlib-only
// heuristic (see DESIGN.md).
var knownBotTokens = []string{
	"bot", "spider", "crawl", "slurp", "curl/", "wget/", "python-requests",
	"go-http-client", "scrapy", "headlesschrome", "phantomjs", "httpclient",
}

var suspiciousEmptyOrGeneric = []string{"", "-", "mozilla/5.0", "unknown"}

// UserAgentDetector contributes heuristics over the User-Agent string and
// header shape (spec §4.3 "UA/header shape").
func UserAgentDetector() Detector {
	return Func{
		DetectorName:  "ua_header_shape",
		DetectorStage: 0,
		DetectorTrig:  Always,
		RunFunc:       runUserAgentDetector,
	}
}

func runUserAgentDetector(_ context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
	ua := req.Header().Get("User-Agent")
	bb.Set("ua.raw", blackboard.StringValue(ua))

	lower := strings.ToLower(strings.TrimSpace(ua))
	var reasons []string
	evidence := 0.0

	for _, tok := range knownBotTokens {
		if strings.Contains(lower, tok) {
			evidence = 0.6
			reasons = append(reasons, "user-agent token: "+tok)
			break
		}
	}

	for _, generic := range suspiciousEmptyOrGeneric {
		if lower == generic {
			evidence = max64(evidence, 0.5)
			reasons = append(reasons, "generic or empty user-agent")
			break
		}
	}

	headerCount := len(req.Header())
	bb.Set("headers.count", blackboard.IntValue(int64(headerCount)))
	if headerCount < 3 {
		evidence = max64(evidence, 0.4)
		reasons = append(reasons, "unusually few headers")
	}

	if req.Header().Get("Accept") == "" {
		evidence = max64(evidence, 0.3)
		reasons = append(reasons, "missing Accept header")
	}
	if req.Header().Get("Accept-Language") == "" {
		evidence = max64(evidence, 0.2)
		reasons = append(reasons, "missing Accept-Language header")
	}

	bb.Set("ua.is_mobile", blackboard.BoolValue(strings.Contains(lower, "mobile")))

	if len(reasons) == 0 {
		return contribute("ua_header_shape", 0.1, 1.0, 0.6)
	}
	return contribute("ua_header_shape", evidence, 1.0, 0.7, reasons...)
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
