// Package s3path models bucket/key paths for S3-backed filesystems.
//
// A path is "bucket" or "bucket/key". The empty path denotes the root
// (the collection of all buckets). Keys use '/' as the separator; a
// trailing slash is normalized away on parse and re-added only where the
// wire protocol requires it (directory markers, some backend probes).
package s3path

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Sep is the key segment separator.
const Sep = "/"

// ErrInvalidPath indicates a string could not be parsed as a bucket/key path.
var ErrInvalidPath = errors.New("invalid S3 path")

var uriLikeRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// Path is a parsed S3 location.
//
// Bucket is empty only for the root path. Key may be empty (the bucket
// itself) and never carries a trailing slash.
type Path struct {
	Bucket string
	Key    string
}

// Parse splits a "bucket/key" string into a Path.
//
// URI-like strings (anything matching "scheme://") and strings with a
// leading '/' are rejected. A trailing '/' is stripped before parsing.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, nil
	}
	if uriLikeRE.MatchString(s) {
		return Path{}, fmt.Errorf("%w: expected a bucket/key pair, got a URI: %q", ErrInvalidPath, s)
	}
	if strings.HasPrefix(s, Sep) {
		return Path{}, fmt.Errorf("%w: path cannot start with a slash: %q", ErrInvalidPath, s)
	}
	s = strings.TrimSuffix(s, Sep)

	bucket, key, _ := strings.Cut(s, Sep)
	p := Path{Bucket: bucket, Key: key}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

// ParseURI parses an "s3://bucket/key" URI into a Path.
// Only the "s3" scheme is accepted.
func ParseURI(s string) (Path, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %q: %v", ErrInvalidPath, s, err)
	}
	if u.Scheme != "s3" {
		return Path{}, fmt.Errorf("%w: unsupported scheme %q in %q", ErrInvalidPath, u.Scheme, s)
	}
	if u.Host == "" {
		return Path{}, fmt.Errorf("%w: missing bucket in %q", ErrInvalidPath, s)
	}
	joined := u.Host
	if p := strings.TrimPrefix(u.Path, Sep); p != "" {
		joined += Sep + p
	}
	return Parse(joined)
}

// Validate rejects keys with empty, "." or ".." segments.
func (p Path) Validate() error {
	if p.Key == "" {
		return nil
	}
	for _, seg := range strings.Split(p.Key, Sep) {
		switch seg {
		case "":
			return fmt.Errorf("%w: empty segment in key %q", ErrInvalidPath, p.Key)
		case ".", "..":
			return fmt.Errorf("%w: key %q must not contain %q", ErrInvalidPath, p.Key, seg)
		}
	}
	return nil
}

// IsRoot reports whether p denotes the root of the bucket namespace.
func (p Path) IsRoot() bool { return p.Bucket == "" }

// IsBucketOnly reports whether p names a bucket with no key.
func (p Path) IsBucketOnly() bool { return p.Bucket != "" && p.Key == "" }

// HasParent reports whether the path has a non-bucket parent, i.e. the
// key contains at least one separator.
func (p Path) HasParent() bool {
	return strings.Contains(p.Key, Sep)
}

// Parent returns the path one level up. The receiver must have a
// non-empty key; the parent of a single-segment key is the bucket.
func (p Path) Parent() Path {
	idx := strings.LastIndex(p.Key, Sep)
	if idx < 0 {
		return Path{Bucket: p.Bucket}
	}
	return Path{Bucket: p.Bucket, Key: p.Key[:idx]}
}

// String renders the canonical "bucket/key" form with no trailing slash.
func (p Path) String() string {
	if p.Key == "" {
		return p.Bucket
	}
	return p.Bucket + Sep + p.Key
}

// ToURL renders the "s3://bucket/key" URI form.
func (p Path) ToURL() string {
	return "s3://" + p.String()
}

// URLEncoded percent-encodes each key segment individually, preserving
// the separators between them.
func URLEncoded(key string) string {
	if key == "" {
		return ""
	}
	segs := strings.Split(key, Sep)
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, Sep)
}

// EnsureTrailingSlash appends the separator unless already present.
// Directory markers and some backend probes use trailing-slash keys.
func EnsureTrailingSlash(key string) string {
	if key == "" || strings.HasSuffix(key, Sep) {
		return key
	}
	return key + Sep
}

// TrimTrailingSlash removes a single trailing separator if present.
func TrimTrailingSlash(key string) string {
	return strings.TrimSuffix(key, Sep)
}

// Depth counts the number of separators in key. A top-level key has
// depth zero.
func Depth(key string) int {
	return strings.Count(key, Sep)
}

// Child joins a relative segment onto p's key.
func (p Path) Child(seg string) Path {
	if p.Key == "" {
		return Path{Bucket: p.Bucket, Key: seg}
	}
	return Path{Bucket: p.Bucket, Key: p.Key + Sep + seg}
}
