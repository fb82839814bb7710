package cmd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantErr     error
		errContains string
		want        *ObjectURI
	}{
		{
			name: "simple bucket",
			uri:  "s3://my-bucket",
			want: &ObjectURI{Bucket: "my-bucket"},
		},
		{
			name: "bucket with trailing slash",
			uri:  "s3://my-bucket/",
			want: &ObjectURI{Bucket: "my-bucket"},
		},
		{
			name: "bucket with key",
			uri:  "s3://my-bucket/path/to/object.txt",
			want: &ObjectURI{Bucket: "my-bucket", Key: "path/to/object.txt"},
		},
		{
			name: "bucket with prefix",
			uri:  "s3://my-bucket/path/to/prefix/",
			want: &ObjectURI{Bucket: "my-bucket", Key: "path/to/prefix/"},
		},
		{
			name: "scheme optional",
			uri:  "my-bucket/path/to/object.txt",
			want: &ObjectURI{Bucket: "my-bucket", Key: "path/to/object.txt"},
		},
		{
			name: "bare bucket without scheme",
			uri:  "my-bucket",
			want: &ObjectURI{Bucket: "my-bucket"},
		},
		{
			name: "glob pattern",
			uri:  "s3://my-bucket/data/2024/**/*.parquet",
			want: &ObjectURI{
				Bucket:  "my-bucket",
				Key:     "data/2024/",
				Pattern: "data/2024/**/*.parquet",
			},
		},
		{
			name: "star pattern at root",
			uri:  "s3://my-bucket/*.txt",
			want: &ObjectURI{Bucket: "my-bucket", Pattern: "*.txt"},
		},
		{
			name: "question mark pattern",
			uri:  "s3://my-bucket/data/file?.csv",
			want: &ObjectURI{
				Bucket:  "my-bucket",
				Key:     "data/",
				Pattern: "data/file?.csv",
			},
		},
		{
			name: "escaped glob is literal",
			uri:  `s3://my-bucket/data/file\*.txt`,
			want: &ObjectURI{Bucket: "my-bucket", Key: "data/file*.txt"},
		},
		{
			name: "uppercase scheme",
			uri:  "S3://my-bucket/path",
			want: &ObjectURI{Bucket: "my-bucket", Key: "path"},
		},
		{
			name:        "empty URI",
			uri:         "",
			wantErr:     ErrInvalidURI,
			errContains: "empty",
		},
		{
			name:    "unsupported scheme",
			uri:     "gs://bucket/key",
			wantErr: ErrUnsupportedScheme,
		},
		{
			name:    "scheme without bucket",
			uri:     "s3://",
			wantErr: ErrMissingBucket,
		},
		{
			name:    "slash without bucket",
			uri:     "s3:///key",
			wantErr: ErrMissingBucket,
		},
		{
			name:    "glob in bucket name",
			uri:     "s3://buck*t/key",
			wantErr: ErrInvalidURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURI(tt.uri)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectURIString(t *testing.T) {
	tests := []struct {
		name string
		uri  *ObjectURI
		want string
	}{
		{
			name: "bucket root",
			uri:  &ObjectURI{Bucket: "b"},
			want: "s3://b/",
		},
		{
			name: "object",
			uri:  &ObjectURI{Bucket: "b", Key: "k/v.txt"},
			want: "s3://b/k/v.txt",
		},
		{
			name: "pattern",
			uri:  &ObjectURI{Bucket: "b", Key: "k/", Pattern: "k/*.txt"},
			want: "s3://b/k/*.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.uri.String())
		})
	}
}

func TestObjectURIPath(t *testing.T) {
	assert.Equal(t, "b", (&ObjectURI{Bucket: "b"}).Path())
	assert.Equal(t, "b/k", (&ObjectURI{Bucket: "b", Key: "k"}).Path())
	assert.Equal(t, "b/k/v", (&ObjectURI{Bucket: "b", Key: "k/v/"}).Path())
}

func TestObjectURIPredicates(t *testing.T) {
	assert.True(t, (&ObjectURI{Bucket: "b"}).IsPrefix())
	assert.True(t, (&ObjectURI{Bucket: "b", Key: "k/"}).IsPrefix())
	assert.False(t, (&ObjectURI{Bucket: "b", Key: "k"}).IsPrefix())
	assert.True(t, (&ObjectURI{Bucket: "b", Pattern: "*.txt"}).IsPattern())
	assert.False(t, (&ObjectURI{Bucket: "b", Key: "k"}).IsPattern())
}
