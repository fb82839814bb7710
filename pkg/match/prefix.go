package match

import "strings"

// globOpeners are the characters that start a doublestar construct.
const globOpeners = "*?[{"

// HasGlob reports whether pattern contains an unescaped glob
// metacharacter. Backslash-escaped metacharacters count as literals, so
// a key spelled "data/file\*.txt" is a plain key, not a pattern.
func HasGlob(pattern string) bool {
	return globStart(normalizePattern(pattern)) >= 0
}

// StaticPrefix returns the longest literal key prefix of a glob, cut
// back to a whole-segment boundary so it can seed a server-side Prefix
// filter. Escape backslashes are stripped from the result: stored keys
// carry the literal characters, never the escapes.
//
//	data/2024/**/*.parquet  ->  data/2024/
//	logs/app-{a,b}/*.log    ->  logs/
//	exact/path/file.txt     ->  exact/path/file.txt
//	*.json                  ->  ""
func StaticPrefix(pattern string) string {
	pattern = normalizePattern(pattern)
	i := globStart(pattern)
	if i < 0 {
		return stripEscapes(pattern)
	}
	// Cutting mid-segment would leave a prefix like "data/2024-" that
	// matches sibling segments; back up to the last separator.
	cut := strings.LastIndex(pattern[:i], "/")
	if cut < 0 {
		return ""
	}
	return stripEscapes(pattern[:cut+1])
}

// globStart returns the index of the first unescaped metacharacter, or
// -1 when the pattern is fully literal.
func globStart(pattern string) int {
	escaped := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case strings.IndexByte(globOpeners, c) >= 0:
			return i
		}
	}
	return -1
}

// stripEscapes removes the backslashes protecting metacharacters,
// leaving the literal characters behind.
func stripEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte(escapable, s[i+1]) >= 0 {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
