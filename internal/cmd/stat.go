package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

var statCmd = &cobra.Command{
	Use:   "stat <uri>",
	Short: "Report metadata for a path",
	Long: `Report metadata for a bucket, directory or object.

Examples:
  nimbusfs stat s3://bucket/data/file.parquet
  nimbusfs stat s3://bucket/data/ --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runStat,
}

var statOutput string

func init() {
	rootCmd.AddCommand(statCmd)
	statCmd.Flags().StringVarP(&statOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

type statReport struct {
	Path      string     `json:"path" yaml:"path"`
	Kind      string     `json:"kind" yaml:"kind"`
	Size      *int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Modified  *time.Time `json:"modified,omitempty" yaml:"modified,omitempty"`
	ETag      string     `json:"etag,omitempty" yaml:"etag,omitempty"`
	VersionID string     `json:"version_id,omitempty" yaml:"version_id,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() {
		return cliError("invalid URI", fmt.Errorf("stat takes an exact path, not a pattern: %s", args[0]))
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	info, err := fs.GetFileInfo(ctx, parsed.Path())
	if err != nil {
		return cliError("stat "+parsed.Path(), err)
	}
	if info.Type == s3fs.FileTypeNotFound {
		return cliError("stat "+parsed.Path(), s3fs.ErrNotFound)
	}

	report := statReport{
		Path:      info.Path,
		Kind:      info.Type.String(),
		ETag:      info.ETag,
		VersionID: info.VersionID,
	}
	if info.Size >= 0 {
		size := info.Size
		report.Size = &size
	}
	if !info.MTime.IsZero() {
		mtime := info.MTime.UTC()
		report.Modified = &mtime
	}

	out := cmd.OutOrStdout()
	switch statOutput {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer func() { _ = enc.Close() }()
		return enc.Encode(report)
	default:
		return cliError("invalid --output value", fmt.Errorf("expected yaml or json, got %q", statOutput))
	}
}
