package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticPrefix(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"data/2024/**/*.parquet", "data/2024/"},
		{"*.json", ""},
		{"logs/app-{a,b}/*.log", "logs/"},
		{"exact/path/file.txt", "exact/path/file.txt"},
		{"data/[0-9]*/*.csv", "data/"},
		{"prefix/", "prefix/"},
		{"", ""},
		// A glob mid-segment must not leave a partial segment behind.
		{"data/2024-*/part.csv", "data/"},
		{"report?.csv", ""},
		// Escaped metacharacters are literal key bytes.
		{`data/file\*.txt`, "data/file*.txt"},
		{`data/\[backup\]/*.log`, "data/[backup]/"},
		{`data/file\*-*.txt`, "data/"},
		// Windows separators normalize before derivation.
		{`data\2024\**`, "data/2024/"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, StaticPrefix(tt.pattern))
		})
	}
}

func TestHasGlob(t *testing.T) {
	tests := []struct {
		pattern string
		want    bool
	}{
		{"data/**/*.parquet", true},
		{"report?.csv", true},
		{"data/[0-9]/x", true},
		{"logs/app-{a,b}/x", true},
		{"path/to/file.txt", false},
		{"", false},
		{`data/file\*.txt`, false},
		{`data/file\?.csv`, false},
		{`data\2024\file.txt`, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, HasGlob(tt.pattern))
		})
	}
}
