package detect

import (
	"context"
	"strconv"
	"strings"

	"github.com/scottgal/stylobot-sub004/internal/blackboard"
	"github.com/scottgal/stylobot-sub004/internal/reqview"
)

// HoneypotSource reports whether a path is a seeded honeypot route that
// no legitimate client would ever discover or request.
type HoneypotSource interface {
	IsHoneypot(path string) bool
}

// IntentDetector contributes after-response signals: repeated 404
// scanning, honeypot hits, and authentication failures (spec §4.3
// "Intent/response"). It runs at the final stage, after a response
// status is available on the blackboard (written by the orchestrator
// once the upstream handler has produced one).
func IntentDetector(honeypots HoneypotSource) Detector {
	return Func{
		DetectorName:  "intent",
		DetectorStage: 3,
		DetectorTrig: func(bb *blackboard.Blackboard) bool {
			_, ok := bb.GetInt("response.status")
			return ok
		},
		RunFunc: func(ctx context.Context, bb *blackboard.Blackboard, req reqview.Request) blackboard.Contribution {
			return runIntentDetector(bb, req, honeypots)
		},
	}
}

func runIntentDetector(bb *blackboard.Blackboard, req reqview.Request, honeypots HoneypotSource) blackboard.Contribution {
	status, _ := bb.GetInt("response.status")
	path := req.Path()

	if honeypots != nil && honeypots.IsHoneypot(path) {
		return earlyExit("intent", 0.98, 1.0, blackboard.Blacklisted, "honeypot route was requested")
	}

	notFoundStreak, _ := bb.GetInt("intent.not_found_streak")
	authFailStreak, _ := bb.GetInt("intent.auth_fail_streak")

	switch {
	case status == 404:
		notFoundStreak++
		bb.Set("intent.not_found_streak", blackboard.IntValue(notFoundStreak))
	case status != 404 && status < 400:
		notFoundStreak = 0
		bb.Set("intent.not_found_streak", blackboard.IntValue(0))
	}

	switch status {
	case 401, 403:
		authFailStreak++
		bb.Set("intent.auth_fail_streak", blackboard.IntValue(authFailStreak))
	case 200:
		authFailStreak = 0
		bb.Set("intent.auth_fail_streak", blackboard.IntValue(0))
	}

	var reasons []string
	evidence := 0.0

	if notFoundStreak >= 5 {
		evidence = max64(evidence, 0.65)
		reasons = append(reasons, "repeated 404 responses ("+strconv.FormatInt(notFoundStreak, 10)+" in a row), suggests path scanning")
	}
	if authFailStreak >= 5 {
		evidence = max64(evidence, 0.7)
		reasons = append(reasons, "repeated auth failures ("+strconv.FormatInt(authFailStreak, 10)+" in a row), suggests credential probing")
	}
	if looksLikeScanTarget(path) && status == 404 {
		evidence = max64(evidence, 0.5)
		reasons = append(reasons, "request targeted a common vulnerability-scan path and got 404")
	}

	if len(reasons) == 0 {
		return contribute("intent", 0.1, 0.6, 0.4)
	}
	return contribute("intent", evidence, 1.0, 0.65, reasons...)
}

var scanTargetSubstrings = []string{
	"/.env", "/wp-login", "/wp-admin", "/.git/", "/phpmyadmin",
	"/.aws/credentials", "/xmlrpc.php", "/.ssh/", "/config.php.bak",
}

func looksLikeScanTarget(path string) bool {
	lower := strings.ToLower(path)
	for _, s := range scanTargetSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
