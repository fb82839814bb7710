package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadataFlags(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		metadata, err := parseMetadataFlags(nil)
		require.NoError(t, err)
		assert.Nil(t, metadata)
	})

	t.Run("pairs", func(t *testing.T) {
		metadata, err := parseMetadataFlags([]string{
			"Content-Type=text/csv",
			"Cache-Control=max-age=3600",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"Content-Type":  "text/csv",
			"Cache-Control": "max-age=3600",
		}, metadata)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, err := parseMetadataFlags([]string{"no-separator"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no-separator")
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := parseMetadataFlags([]string{"=value"})
		require.Error(t, err)
	})
}
