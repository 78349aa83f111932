package policy

import (
	"sort"
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

// PathEntry is one path→policy mapping entry (spec §3 "Path→Policy
// Mapping").
type PathEntry struct {
	Pattern       string
	PolicyName    string
	IsUserDefined bool
}

// PathMapping is an ordered set of path entries plus the static-asset
// extension set, sorted once (at SetMapping time) by the spec's
// specificity rule so Resolve is a simple first-match linear scan.
type PathMapping struct {
	entries          []PathEntry
	staticExtensions map[string]bool
	staticEnabled    bool
}

// NewPathMapping sorts entries by specificity (user-defined first, then
// slash count descending, with +10 for an exact non-wildcard pattern)
// and records the static-asset extension set.
func NewPathMapping(entries []PathEntry, staticExtensions []string, staticEnabled bool) PathMapping {
	sorted := append([]PathEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsUserDefined != sorted[j].IsUserDefined {
			return sorted[i].IsUserDefined
		}
		return specificity(sorted[i].Pattern) > specificity(sorted[j].Pattern)
	})

	exts := make(map[string]bool, len(staticExtensions))
	for _, e := range staticExtensions {
		exts[strings.ToLower(e)] = true
	}
	return PathMapping{entries: sorted, staticExtensions: exts, staticEnabled: staticEnabled}
}

func specificity(pattern string) int {
	s := strings.Count(pattern, "/")
	if !strings.ContainsAny(pattern, "*?") {
		s += 10
	}
	return s
}

// Resolve returns the first matching policy name for path, honoring the
// static-asset short-circuit when enabled.
func (m PathMapping) Resolve(path string) (string, bool) {
	if m.staticEnabled && m.isStaticAsset(path) {
		return "static", true
	}
	for _, e := range m.entries {
		if matchPath(e.Pattern, path) {
			return e.PolicyName, true
		}
	}
	return "", false
}

func (m PathMapping) isStaticAsset(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return false
	}
	return m.staticExtensions[strings.ToLower(path[idx+1:])]
}

func matchPath(pattern, path string) bool {
	lowerPattern := strings.ToLower(pattern)
	lowerPath := strings.ToLower(path)

	if !strings.ContainsAny(pattern, "*?") {
		return lowerPattern == lowerPath
	}

	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return strings.HasPrefix(path, prefix+"/") || path == prefix
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		rest := strings.TrimPrefix(path, prefix+"/")
		return rest != path && !strings.Contains(rest, "/")
	}

	return wildcard.Match(pattern, path)
}
