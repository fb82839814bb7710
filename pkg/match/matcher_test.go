package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRequiresIncludes(t *testing.T) {
	_, err := Compile(Rules{})
	require.ErrorIs(t, err, ErrNoInclude)

	_, err = Compile(Rules{Exclude: []string{"**/tmp/**"}})
	require.ErrorIs(t, err, ErrNoInclude)
}

func TestCompileRejectsBadGlobs(t *testing.T) {
	_, err := Compile(Rules{Include: []string{"data/[invalid"}})
	require.ErrorIs(t, err, ErrBadPattern)
	assert.Contains(t, err.Error(), "data/[invalid")

	_, err = Compile(Rules{Include: []string{"**"}, Exclude: []string{"{a,"}})
	require.ErrorIs(t, err, ErrBadPattern)
}

func TestSelectorMatch(t *testing.T) {
	tests := []struct {
		name  string
		rules Rules
		key   string
		want  bool
	}{
		{
			name:  "include hit",
			rules: Rules{Include: []string{"data/**/*.parquet"}},
			key:   "data/2024/part-0.parquet",
			want:  true,
		},
		{
			name:  "include miss",
			rules: Rules{Include: []string{"data/**/*.parquet"}},
			key:   "logs/app.log",
			want:  false,
		},
		{
			name:  "any include suffices",
			rules: Rules{Include: []string{"*.csv", "*.json"}},
			key:   "report.json",
			want:  true,
		},
		{
			name: "exclude overrides include",
			rules: Rules{
				Include: []string{"data/**"},
				Exclude: []string{"**/tmp/**"},
			},
			key:  "data/tmp/scratch.bin",
			want: false,
		},
		{
			name:  "hidden segment dropped by default",
			rules: Rules{Include: []string{"**"}},
			key:   "data/.cache/blob",
			want:  false,
		},
		{
			name:  "hidden segment kept with MatchHidden",
			rules: Rules{Include: []string{"**"}, MatchHidden: true},
			key:   "data/.cache/blob",
			want:  true,
		},
		{
			name:  "hidden leaf dropped by default",
			rules: Rules{Include: []string{"**"}},
			key:   "data/.gitignore",
			want:  false,
		},
		{
			name:  "escaped asterisk matches literally",
			rules: Rules{Include: []string{`data/file\*.txt`}},
			key:   "data/file*.txt",
			want:  true,
		},
		{
			name:  "escaped asterisk is not a wildcard",
			rules: Rules{Include: []string{`data/file\*.txt`}},
			key:   "data/fileX.txt",
			want:  false,
		},
		{
			name:  "windows separators in pattern",
			rules: Rules{Include: []string{`data\2024\**`}},
			key:   "data/2024/part-0.parquet",
			want:  true,
		},
		{
			name:  "single star stays within a segment",
			rules: Rules{Include: []string{"data/*.csv"}},
			key:   "data/2024/part.csv",
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Compile(tt.rules)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Match(tt.key))
		})
	}
}
