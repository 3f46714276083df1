// Package router implements routing rule management and the resolution
// engine that picks an upstream provider for each gateway request.
package router

// matchGlob reports whether s matches pattern, where '*' matches any run of
// characters (including none and including '/') and every other character
// matches itself. This is the full pattern language routing rules support;
// model names and request paths are matched the same way.
func matchGlob(pattern, s string) bool {
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star, mark = pi, si
			pi++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		case star >= 0:
			mark++
			si = mark
			pi = star + 1
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
