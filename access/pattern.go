package access

import (
	"strings"

	"github.com/substratehq/substrate/internal/vpath"
)

// matchPattern reports whether a grant pattern covers a path. Matching
// is case-insensitive: path identity in storage is case-sensitive,
// but administrative patterns are not. A trailing
// separator on the pattern is ignored, so "/data/" and "/data" guard
// the same address and "/data/**" guards the subtree.
func matchPattern(pattern string, p vpath.Path) bool {
	pat := splitPattern(pattern)
	segs := strings.Split(strings.Trim(p.MatchKey(), vpath.Separator), vpath.Separator)
	if len(segs) == 1 && segs[0] == "" {
		segs = nil
	}
	return matchSegments(pat, segs)
}

func splitPattern(pattern string) []string {
	pattern = strings.ToLower(strings.Trim(pattern, vpath.Separator))
	if pattern == "" {
		return nil
	}
	return strings.Split(pattern, vpath.Separator)
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "**":
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pat[1:], segs[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(segs) == 0 {
				return false
			}
		default:
			if len(segs) == 0 || segs[0] != pat[0] {
				return false
			}
		}
		pat = pat[1:]
		segs = segs[1:]
	}
	return len(segs) == 0
}

// specificity orders candidate grants for reporting: literal segments
// beat single-segment wildcards, which beat subtree wildcards.
func specificity(pattern string) int {
	score := 0
	for _, seg := range splitPattern(pattern) {
		switch seg {
		case "**":
			// no points
		case "*":
			score += 1
		default:
			score += 2
		}
	}
	return score
}
