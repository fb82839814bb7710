package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/nimbusfs/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestFSOptionsMapping(t *testing.T) {
	cfg := &config.Config{
		S3: config.S3Config{
			Region:            "eu-west-1",
			Endpoint:          "minio.local:9000",
			Scheme:            "http",
			PathStyle:         true,
			AccessKey:         "AK",
			SecretKey:         "SK",
			SessionToken:      "ST",
			MaxConnections:    16,
			BackgroundWrites:  true,
			AllowBucketCreate: true,
			ListRateLimit:     2.5,
		},
	}

	opts := fsOptions(cfg)

	assert.Equal(t, "eu-west-1", opts.Region)
	assert.Equal(t, "minio.local:9000", opts.EndpointOverride)
	assert.Equal(t, "http", opts.Scheme)
	assert.False(t, opts.ForceVirtualAddressing)
	assert.Equal(t, "AK", opts.AccessKey)
	assert.Equal(t, "SK", opts.SecretKey)
	assert.Equal(t, "ST", opts.SessionToken)
	assert.Equal(t, 16, opts.IOConcurrency)
	assert.True(t, opts.BackgroundWrites)
	assert.True(t, opts.AllowBucketCreation)
	assert.False(t, opts.AllowBucketDeletion)
	assert.Equal(t, 2.5, opts.ListRateLimit)
	assert.NotNil(t, opts.Logger)
}

func TestFSOptionsVirtualAddressing(t *testing.T) {
	cfg := &config.Config{
		S3: config.S3Config{Endpoint: "s3-compat.example.com", PathStyle: false},
	}
	assert.True(t, fsOptions(cfg).ForceVirtualAddressing)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500µs", formatDuration(500*time.Microsecond))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
}
