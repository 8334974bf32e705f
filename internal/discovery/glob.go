package discovery

import "strings"

// MatchGlob implements the case-insensitive '*'/'?' wildcard matching
// original_source/src/discovery/discovery.c uses for viFindRsrc's search
// expression, distinct from filepath.Match (which is case-sensitive and
// treats '/' specially).
func MatchGlob(pattern, s string) bool {
	return matchGlob([]rune(strings.ToUpper(pattern)), []rune(strings.ToUpper(s)))
}

func matchGlob(pattern, s []rune) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	switch pattern[0] {
	case '*':
		if matchGlob(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if matchGlob(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return matchGlob(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return matchGlob(pattern[1:], s[1:])
	}
}
