package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/nimbusfs/internal/observability"
	"github.com/3leaps/nimbusfs/pkg/match"
	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

var treeCmd = &cobra.Command{
	Use:   "tree <uri>",
	Short: "Per-directory rollup of a prefix",
	Long: `Summarize a prefix as a directory tree: direct file counts,
cumulative bytes and subdirectory counts per directory, traversed
breadth-first to a bounded depth.

Examples:
  nimbusfs tree s3://bucket/data/
  nimbusfs tree s3://bucket/data/ --depth 2 --output table
  nimbusfs tree s3://bucket/ --exclude '**/tmp/**' --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

var (
	treeDepth    int
	treeMaxDirs  int
	treeParallel int
	treeTimeout  time.Duration
	treeIncludes []string
	treeExcludes []string
	treeOutput   string
)

func init() {
	rootCmd.AddCommand(treeCmd)

	treeCmd.Flags().IntVar(&treeDepth, "depth", 0, "Traversal depth (0=direct children only)")
	treeCmd.Flags().IntVar(&treeMaxDirs, "max-dirs", 50_000, "Max directories to traverse before stopping")
	treeCmd.Flags().IntVar(&treeParallel, "parallel", 8, "Max concurrent directory listings")
	treeCmd.Flags().DurationVar(&treeTimeout, "timeout", 10*time.Minute, "Traversal timeout")
	treeCmd.Flags().StringArrayVar(&treeIncludes, "include", nil, "Include glob for traversal scope (repeatable)")
	treeCmd.Flags().StringArrayVar(&treeExcludes, "exclude", nil, "Exclude glob for traversal scope (repeatable)")
	treeCmd.Flags().StringVarP(&treeOutput, "output", "o", "jsonl", "Output format (jsonl|table)")
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	parsed, err := ParseURI(args[0])
	if err != nil {
		return cliError("invalid URI", err)
	}
	if parsed.IsPattern() {
		return cliError("invalid URI", fmt.Errorf("tree takes a prefix, not a pattern; use --include/--exclude for scoping"))
	}
	if treeParallel < 1 {
		return cliError("invalid --parallel value", fmt.Errorf("parallel must be >= 1"))
	}
	if treeMaxDirs < 1 {
		return cliError("invalid --max-dirs value", fmt.Errorf("max-dirs must be >= 1"))
	}

	allowDir, err := buildTreeScopeFilter(treeIncludes, treeExcludes)
	if err != nil {
		return cliError("invalid include/exclude patterns", err)
	}

	if treeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, treeTimeout)
		defer cancel()
	}

	fs, err := newFileSystem(ctx)
	if err != nil {
		return cliError("connect to storage", err)
	}
	defer func() { _ = fs.Close() }()

	var sink treeSink
	switch treeOutput {
	case "jsonl":
		sink = &treeJSONLSink{w: output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString())}
	case "table":
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tDEPTH\tFILES\tBYTES\tDIRS")
		sink = &treeTableSink{tw: tw}
	default:
		return cliError("invalid --output value", fmt.Errorf("expected jsonl or table, got %q", treeOutput))
	}

	start := time.Now()
	totals, err := traverseTree(ctx, fs, parsed, allowDir, sink)
	if err != nil {
		return cliError("traverse "+parsed.Path(), err)
	}

	return sink.close(ctx, treeRunTotals{
		base:     parsed.Path(),
		totals:   totals,
		duration: time.Since(start),
	})
}

// treeTotals aggregates across the whole traversal.
type treeTotals struct {
	dirs    int64
	files   int64
	bytes   int64
	partial bool
}

type treeRunTotals struct {
	base     string
	totals   treeTotals
	duration time.Duration
}

type treeSink interface {
	dir(ctx context.Context, rec *output.DirSummaryRecord) error
	close(ctx context.Context, run treeRunTotals) error
}

// traverseTree walks directories breadth-first, one listing per
// directory, bounded by depth and max-dirs.
func traverseTree(ctx context.Context, fs *s3fs.FileSystem, root *ObjectURI, allowDir func(string) bool, sink treeSink) (treeTotals, error) {
	var (
		totals  treeTotals
		mu      sync.Mutex
		visited = 1
	)

	current := []string{root.Path()}

	for depth := 0; depth <= treeDepth; depth++ {
		if len(current) == 0 {
			break
		}

		var (
			next   []string
			nextMu sync.Mutex
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(treeParallel)

		for _, dir := range current {
			g.Go(func() error {
				rec, children, err := summarizeDir(gctx, fs, dir, depth)
				if err != nil {
					return err
				}

				mu.Lock()
				totals.dirs++
				totals.files += rec.Files
				totals.bytes += rec.Bytes
				err = sink.dir(gctx, rec)
				mu.Unlock()
				if err != nil {
					return err
				}

				if depth >= treeDepth {
					return nil
				}

				for _, child := range children {
					if !allowDir(strings.TrimPrefix(child, root.Bucket+"/")) {
						continue
					}
					nextMu.Lock()
					if visited >= treeMaxDirs {
						mu.Lock()
						totals.partial = true
						mu.Unlock()
						nextMu.Unlock()
						break
					}
					visited++
					next = append(next, child)
					nextMu.Unlock()
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return totals, err
		}

		sort.Strings(next)
		current = next

		observability.CLILogger.Debug("Tree level complete",
			zap.Int("depth", depth),
			zap.Int("next", len(next)),
		)
	}

	return totals, ctx.Err()
}

// summarizeDir lists a directory non-recursively and rolls up its
// direct children.
func summarizeDir(ctx context.Context, fs *s3fs.FileSystem, dir string, depth int) (*output.DirSummaryRecord, []string, error) {
	infos, err := fs.ListInfo(ctx, s3fs.FileSelector{BaseDir: dir})
	if err != nil {
		// A directory discovered in a parent listing can vanish before
		// its own listing runs.
		if errors.Is(err, s3fs.ErrNotFound) {
			return &output.DirSummaryRecord{Path: dir, Depth: depth}, nil, nil
		}
		return nil, nil, err
	}

	rec := &output.DirSummaryRecord{Path: dir, Depth: depth}
	var children []string
	for _, info := range infos {
		switch {
		case info.IsFile():
			rec.Files++
			if info.Size > 0 {
				rec.Bytes += info.Size
			}
		case info.IsDirectory():
			rec.Dirs++
			children = append(children, info.Path)
		}
	}
	return rec, children, nil
}

func buildTreeScopeFilter(includes, excludes []string) (func(string) bool, error) {
	if len(includes) == 0 && len(excludes) == 0 {
		return func(string) bool { return true }, nil
	}
	if len(includes) == 0 {
		includes = []string{"**"}
	}
	sel, err := match.Compile(match.Rules{
		Include:     includes,
		Exclude:     excludes,
		MatchHidden: true,
	})
	if err != nil {
		return nil, err
	}
	return sel.Match, nil
}

type treeJSONLSink struct {
	w output.Writer
}

func (s *treeJSONLSink) dir(ctx context.Context, rec *output.DirSummaryRecord) error {
	return s.w.WriteDirSummary(ctx, rec)
}

func (s *treeJSONLSink) close(ctx context.Context, run treeRunTotals) error {
	if run.totals.partial {
		_ = s.w.WriteError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeInternal,
			Message: "traversal stopped at --max-dirs; results are partial",
			Path:    run.base,
		})
	}
	errCount := int64(0)
	if run.totals.partial {
		errCount = 1
	}
	if err := s.w.WriteSummary(ctx, &output.SummaryRecord{
		EntriesFound:   run.totals.files,
		EntriesMatched: run.totals.files,
		BytesTotal:     run.totals.bytes,
		Duration:       run.duration,
		DurationHuman:  formatDuration(run.duration),
		Errors:         errCount,
		Base:           run.base,
	}); err != nil {
		return err
	}
	return s.w.Close()
}

type treeTableSink struct {
	tw *tabwriter.Writer
}

func (s *treeTableSink) dir(_ context.Context, rec *output.DirSummaryRecord) error {
	_, err := fmt.Fprintf(s.tw, "%s\t%d\t%d\t%s\t%d\n",
		rec.Path, rec.Depth, rec.Files, match.FormatSize(rec.Bytes), rec.Dirs)
	return err
}

func (s *treeTableSink) close(_ context.Context, run treeRunTotals) error {
	if err := s.tw.Flush(); err != nil {
		return err
	}
	if run.totals.partial {
		observability.CLILogger.Warn("Traversal stopped at --max-dirs; results are partial",
			zap.String("base", run.base))
	}
	return nil
}
