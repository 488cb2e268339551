package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// fallbackIdent is used when a label sanitizes to nothing at all.
const fallbackIdent = "col_unnamed"

var nonIdentRun = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeIdent turns arbitrary text into a safe SQL identifier:
// lowercase letters, digits and underscores only, never starting with a
// digit. Deterministic and idempotent — sanitizing an already-sanitized
// identifier returns it unchanged.
func SanitizeIdent(label string) string {
	s := strings.ToLower(label)
	s = nonIdentRun.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	if s == "" {
		return fallbackIdent
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "col_" + s
	}
	return s
}

// dedupIdents sanitizes every header and makes the results pairwise
// distinct by suffixing _1, _2, … onto later duplicates. The output is
// positional: out[i] is the identifier for headers[i], so re-running the
// same header list always reproduces the same names.
func dedupIdents(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]bool, len(headers))

	for i, h := range headers {
		name := SanitizeIdent(h)
		if seen[name] {
			for n := 1; ; n++ {
				candidate := fmt.Sprintf("%s_%d", name, n)
				if !seen[candidate] {
					name = candidate
					break
				}
			}
		}
		seen[name] = true
		out[i] = name
	}
	return out
}
