// Package match selects and filters object keys for bulk commands.
//
// Selection is glob-based with doublestar semantics over bucket-relative
// keys; filters narrow the selection further by size, modification time,
// or path regex.
package match

import "strings"

// escapable lists the characters a backslash may protect in a glob.
const escapable = `*?[]{}\`

// normalizePattern rewrites Windows-style separators in a glob to
// forward slashes. A backslash escaping a metacharacter (or another
// backslash) is kept, so filenames containing literal '*' or '?' stay
// matchable. A backslash directly before "**" is a separator, since
// "**" only recurses as a whole segment. Keys themselves are never
// normalized: stored object keys are opaque strings.
func normalizePattern(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if strings.HasPrefix(p[i+1:], "**") {
			b.WriteByte('/')
			continue
		}
		if i+1 < len(p) && strings.IndexByte(escapable, p[i+1]) >= 0 {
			i++
			b.WriteByte('\\')
			b.WriteByte(p[i])
			continue
		}
		b.WriteByte('/')
	}
	return b.String()
}

// hiddenKey reports whether any segment of the key starts with a dot.
func hiddenKey(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
