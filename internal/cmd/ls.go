package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

var lsCmd = &cobra.Command{
	Use:   "ls <uri>",
	Short: "List entries under a bucket or prefix",
	Long: `List entries under a bucket, prefix or glob pattern.

Examples:
  nimbusfs ls s3://bucket/
  nimbusfs ls s3://bucket/data/ --recursive --output table
  nimbusfs ls 's3://bucket/logs/**/*.gz' --min-size 1MB
  nimbusfs ls s3://bucket/ --include '**/*.parquet' --exclude '**/tmp/**'`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

var (
	lsRecursive    bool
	lsDepth        int
	lsAllowMissing bool
	lsIncludes     []string
	lsExcludes     []string
	lsHidden       bool
	lsMinSize      string
	lsMaxSize      string
	lsAfter        string
	lsBefore       string
	lsPathRegex    string
	lsOutput       string
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "R", false, "Descend into subdirectories")
	lsCmd.Flags().IntVar(&lsDepth, "depth", 0, "Max recursion depth (0=unlimited)")
	lsCmd.Flags().BoolVar(&lsAllowMissing, "allow-missing", false, "Treat a missing prefix as an empty listing")
	lsCmd.Flags().StringArrayVar(&lsIncludes, "include", nil, "Include glob pattern (repeatable)")
	lsCmd.Flags().StringArrayVar(&lsExcludes, "exclude", nil, "Exclude glob pattern (repeatable)")
	lsCmd.Flags().BoolVar(&lsHidden, "hidden", false, "Match dot-prefixed path segments")
	lsCmd.Flags().StringVar(&lsMinSize, "min-size", "", "Minimum object size (e.g. 1KB, 100MiB)")
	lsCmd.Flags().StringVar(&lsMaxSize, "max-size", "", "Maximum object size")
	lsCmd.Flags().StringVar(&lsAfter, "modified-after", "", "Only objects modified at or after this time (ISO 8601)")
	lsCmd.Flags().StringVar(&lsBefore, "modified-before", "", "Only objects modified before this time (ISO 8601)")
	lsCmd.Flags().StringVar(&lsPathRegex, "path-regex", "", "Regex applied to entry paths after glob matching")
	lsCmd.Flags().StringVarP(&lsOutput, "output", "o", "jsonl", "Output format (jsonl|table)")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}

	matcher, err := buildLsMatcher(parsed)
	if err != nil {
		return cliError("invalid include/exclude patterns", err)
	}

	filter, err := buildLsFilter()
	if err != nil {
		return cliError("invalid filter", err)
	}

	sel := s3fs.FileSelector{
		BaseDir:       parsed.Path(),
		Recursive:     lsRecursive || parsed.IsPattern(),
		MaxRecursion:  lsDepth,
		AllowNotFound: lsAllowMissing,
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	stream, err := fs.Stream(ctx, sel)
	if err != nil {
		return cliError("list "+sel.BaseDir, err)
	}
	defer stream.Close()

	var sink lsSink
	switch lsOutput {
	case "jsonl":
		sink = newLsJSONLSink(cmd.OutOrStdout())
	case "table":
		sink = newLsTableSink(cmd.OutOrStdout())
	default:
		return cliError("invalid --output value", fmt.Errorf("expected jsonl or table, got %q", lsOutput))
	}

	start := time.Now()
	var found, matched, bytes int64

	for {
		batch, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = sink.close(ctx, lsTotals{})
			return cliError("list "+sel.BaseDir, err)
		}
		for _, info := range batch {
			found++
			if matcher != nil && !matcher.Match(entryKey(parsed.Bucket, info)) {
				continue
			}
			if filter != nil && !filter.Match(info) {
				continue
			}
			matched++
			if info.IsFile() && info.Size > 0 {
				bytes += info.Size
			}
			if err := sink.entry(ctx, info); err != nil {
				return cliError("write output", err)
			}
		}
	}

	return sink.close(ctx, lsTotals{
		base:     sel.BaseDir,
		found:    found,
		matched:  matched,
		bytes:    bytes,
		duration: time.Since(start),
	})
}

// entryKey is the bucket-relative key a glob pattern applies to.
func entryKey(bucket string, info s3fs.FileInfo) string {
	return strings.TrimPrefix(info.Path, bucket+"/")
}

func buildLsMatcher(uri *ObjectURI) (*match.Selector, error) {
	includes := append([]string(nil), lsIncludes...)
	if uri.IsPattern() {
		includes = append(includes, uri.Pattern)
	}
	if len(includes) == 0 && len(lsExcludes) == 0 {
		return nil, nil
	}
	if len(includes) == 0 {
		includes = []string{"**"}
	}
	return match.Compile(match.Rules{
		Include:     includes,
		Exclude:     lsExcludes,
		MatchHidden: lsHidden,
	})
}

func buildLsFilter() (match.Filter, error) {
	cfg := &match.FilterConfig{PathRegex: lsPathRegex}
	if lsMinSize != "" || lsMaxSize != "" {
		cfg.Size = &match.SizeFilterConfig{Min: lsMinSize, Max: lsMaxSize}
	}
	if lsAfter != "" || lsBefore != "" {
		cfg.Modified = &match.DateFilterConfig{After: lsAfter, Before: lsBefore}
	}
	if cfg.Size == nil && cfg.Modified == nil && cfg.PathRegex == "" {
		return nil, nil
	}
	return match.NewFilterFromConfig(cfg)
}

type lsTotals struct {
	base     string
	found    int64
	matched  int64
	bytes    int64
	duration time.Duration
}

type lsSink interface {
	entry(ctx context.Context, info s3fs.FileInfo) error
	close(ctx context.Context, totals lsTotals) error
}

type lsJSONLSink struct {
	w output.Writer
}

func newLsJSONLSink(out io.Writer) *lsJSONLSink {
	return &lsJSONLSink{w: output.NewJSONLWriter(out, uuid.NewString())}
}

func (s *lsJSONLSink) entry(ctx context.Context, info s3fs.FileInfo) error {
	return s.w.WriteEntry(ctx, output.EntryFromInfo(info))
}

func (s *lsJSONLSink) close(ctx context.Context, totals lsTotals) error {
	if totals.base != "" {
		if err := s.w.WriteSummary(ctx, &output.SummaryRecord{
			EntriesFound:   totals.found,
			EntriesMatched: totals.matched,
			BytesTotal:     totals.bytes,
			Duration:       totals.duration,
			DurationHuman:  formatDuration(totals.duration),
			Base:           totals.base,
		}); err != nil {
			return err
		}
	}
	return s.w.Close()
}

type lsTableSink struct {
	tw *tabwriter.Writer
}

func newLsTableSink(out io.Writer) *lsTableSink {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSIZE\tMODIFIED\tPATH")
	return &lsTableSink{tw: tw}
}

func (s *lsTableSink) entry(_ context.Context, info s3fs.FileInfo) error {
	size := "-"
	if info.Size >= 0 {
		size = match.FormatSize(info.Size)
	}
	mtime := "-"
	if !info.MTime.IsZero() {
		mtime = info.MTime.UTC().Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(s.tw, "%s\t%s\t%s\t%s\n", info.Type.String(), size, mtime, info.Path)
	return err
}

func (s *lsTableSink) close(_ context.Context, _ lsTotals) error {
	return s.tw.Flush()
}
