package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/nimbusfs/pkg/match"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedScheme indicates the URI scheme is not s3.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// ObjectURI is a parsed storage path.
//
// Accepted forms:
//   - s3://bucket/key/path.txt
//   - s3://bucket/prefix/
//   - s3://bucket/prefix/**/*.parquet
//   - bucket/key (scheme optional)
type ObjectURI struct {
	// Bucket is the bucket name.
	Bucket string

	// Key is the object key or prefix. May be empty for bucket root.
	Key string

	// Pattern is set if the key portion contains glob characters.
	// When set, Key is the literal prefix up to and including the last
	// "/" before the first glob character.
	Pattern string
}

// String returns the URI in canonical s3:// form.
func (u *ObjectURI) String() string {
	if u.Pattern != "" {
		return fmt.Sprintf("s3://%s/%s", u.Bucket, u.Pattern)
	}
	if u.Key != "" {
		return fmt.Sprintf("s3://%s/%s", u.Bucket, u.Key)
	}
	return fmt.Sprintf("s3://%s/", u.Bucket)
}

// Path returns the "bucket/key" form used by the filesystem layer.
func (u *ObjectURI) Path() string {
	key := strings.TrimSuffix(u.Key, "/")
	if key == "" {
		return u.Bucket
	}
	return u.Bucket + "/" + key
}

// IsPattern reports whether the URI contains glob pattern characters.
func (u *ObjectURI) IsPattern() bool {
	return u.Pattern != ""
}

// IsPrefix reports whether the URI names a prefix (trailing / or bare
// bucket).
func (u *ObjectURI) IsPrefix() bool {
	return strings.HasSuffix(u.Key, "/") || u.Key == ""
}

// ParseURI parses a storage path into its components. The s3:// scheme
// is optional; any other scheme is rejected.
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	// Split the scheme by hand: glob characters like ? confuse
	// url.Parse.
	remainder := uri
	if idx := strings.Index(uri, "://"); idx != -1 {
		scheme := strings.ToLower(uri[:idx])
		if scheme != "s3" {
			return nil, fmt.Errorf("%w: %s (supported: s3)", ErrUnsupportedScheme, scheme)
		}
		remainder = uri[idx+3:]
	}
	if remainder == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}

	var bucket, key string
	if idx := strings.Index(remainder, "/"); idx == -1 {
		bucket = remainder
	} else {
		bucket = remainder[:idx]
		key = remainder[idx+1:]
	}
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if strings.ContainsAny(bucket, "*?[]{}\\") {
		return nil, fmt.Errorf("%w: bucket name may not contain glob characters: %q", ErrInvalidURI, bucket)
	}

	result := &ObjectURI{Bucket: bucket}

	// Escape-aware glob detection: \* is a literal asterisk, not a
	// pattern.
	if match.HasGlob(key) {
		result.Pattern = key
		result.Key = match.StaticPrefix(key)
	} else {
		result.Key = match.StaticPrefix(key)
	}

	return result, nil
}
