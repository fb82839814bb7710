package s3fs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/nimbusfs/pkg/s3path"
)

// listPageSize is the ListObjectsV2 page size.
const listPageSize = 1000

// InfoStream is a lazy sequence of FileInfo batches produced by a
// listing. Batches arrive roughly one per result page; implicit
// directories are interleaved before the files that imply them.
type InfoStream struct {
	batches <-chan infoBatch
	cancel  context.CancelFunc
	err     error
	done    bool
}

type infoBatch struct {
	infos []FileInfo
	err   error
}

// Next returns the next batch. It returns io.EOF after the final batch.
// A listing error is returned in place of a batch and again on every
// later call.
func (s *InfoStream) Next() ([]FileInfo, error) {
	if s.done {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	batch, ok := <-s.batches
	if !ok {
		s.done = true
		return nil, io.EOF
	}
	if batch.err != nil {
		s.done = true
		s.err = batch.err
		s.cancel()
		return nil, batch.err
	}
	return batch.infos, nil
}

// Close abandons the stream. Pending pages are cancelled.
func (s *InfoStream) Close() {
	s.done = true
	s.cancel()
}

// Stream begins a listing described by sel and returns the lazily
// produced entries. The returned stream must be drained or closed.
func (fs *FileSystem) Stream(ctx context.Context, sel FileSelector) (*InfoStream, error) {
	base, err := selectorBase(sel.BaseDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan infoBatch, 4)
	emit := func(infos []FileInfo) error {
		if len(infos) == 0 {
			return nil
		}
		select {
		case ch <- infoBatch{infos: infos}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(ch)
		if err := fs.generate(ctx, base, sel, emit); err != nil {
			select {
			case ch <- infoBatch{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return &InfoStream{batches: ch, cancel: cancel}, nil
}

// ListInfo runs the listing to completion and returns every entry.
func (fs *FileSystem) ListInfo(ctx context.Context, sel FileSelector) ([]FileInfo, error) {
	stream, err := fs.Stream(ctx, sel)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var infos []FileInfo
	for {
		batch, err := stream.Next()
		if err == io.EOF {
			return infos, nil
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, batch...)
	}
}

// selectorBase parses a selector base dir, allowing the empty string
// (all buckets) that Parse rejects.
func selectorBase(baseDir string) (s3path.Path, error) {
	if baseDir == "" {
		return s3path.Path{}, nil
	}
	return s3path.Parse(baseDir)
}

// generate drives one listing: a single bucket walk, or the full-bucket
// fan-out when the base is empty.
func (fs *FileSystem) generate(ctx context.Context, base s3path.Path, sel FileSelector, emit func([]FileInfo) error) error {
	if base.IsRoot() {
		return fs.generateAllBuckets(ctx, sel, emit)
	}

	lister := &bucketLister{
		fs:       fs,
		bucket:   base.Bucket,
		baseKey:  base.Key,
		sel:      sel,
		emitted:  map[string]struct{}{},
		maxDepth: sel.maxRecursion(),
	}
	if err := lister.run(ctx, emit); err != nil {
		return err
	}
	// A whole-bucket walk has an empty key prefix and never raises
	// not-found; a missing bucket already failed the page request.
	if base.Key != "" && !lister.sawAny && !sel.AllowNotFound {
		return fmt.Errorf("%w: no entries under %s", ErrNotFound, base)
	}
	return nil
}

// generateAllBuckets emits every bucket as a directory and, when the
// selector is recursive, walks each bucket's subtree in parallel. The
// emit sink must tolerate concurrent producers.
func (fs *FileSystem) generateAllBuckets(ctx context.Context, sel FileSelector, emit func([]FileInfo) error) error {
	lock, err := fs.holder.Lock()
	if err != nil {
		return err
	}
	out, err := lock.Client().ListBuckets(ctx, &s3.ListBucketsInput{})
	lock.Unlock()
	if err != nil {
		return opError("ListBuckets", "", "", err)
	}

	infos := make([]FileInfo, 0, len(out.Buckets))
	buckets := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		name := aws.ToString(b.Name)
		buckets = append(buckets, name)
		fi := FileInfo{Path: name, Type: FileTypeDirectory, Size: -1}
		if b.CreationDate != nil {
			fi.MTime = *b.CreationDate
		}
		infos = append(infos, fi)
	}
	if err := emit(infos); err != nil {
		return err
	}
	if !sel.Recursive {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.opts.ioConcurrency())
	for _, bucket := range buckets {
		lister := &bucketLister{
			fs:       fs,
			bucket:   bucket,
			sel:      sel,
			emitted:  map[string]struct{}{},
			maxDepth: sel.maxRecursion(),
		}
		g.Go(func() error { return lister.run(gctx, emit) })
	}
	return g.Wait()
}

// bucketLister walks one bucket prefix, classifying each page and
// synthesizing implicit directories as it goes.
type bucketLister struct {
	fs       *FileSystem
	bucket   string
	baseKey  string
	sel      FileSelector
	maxDepth int

	// emitted tracks directory keys (no trailing slash, bucket-relative)
	// already produced, so each directory appears exactly once per
	// listing.
	emitted map[string]struct{}

	// sawAny is set when any entry was observed, including the prefix
	// marker itself, which is skipped but still proves existence.
	sawAny bool
}

// keyPrefix returns the ListObjectsV2 prefix: the base key with a
// trailing slash, or empty for a whole-bucket walk.
func (l *bucketLister) keyPrefix() string {
	if l.baseKey == "" {
		return ""
	}
	return l.baseKey + "/"
}

func (l *bucketLister) run(ctx context.Context, emit func([]FileInfo) error) error {
	prefix := l.keyPrefix()
	var token *string
	for {
		if err := l.fs.waitListPage(ctx); err != nil {
			return err
		}

		page, err := l.listPage(ctx, prefix, token)
		if err != nil {
			return err
		}

		batch := l.classifyPage(page, prefix)
		if err := emit(batch); err != nil {
			return err
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		token = page.NextContinuationToken
	}
}

// listPage issues one ListObjectsV2 request under its own client lock.
func (l *bucketLister) listPage(ctx context.Context, prefix string, token *string) (*s3.ListObjectsV2Output, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:            aws.String(l.bucket),
		MaxKeys:           aws.Int32(listPageSize),
		ContinuationToken: token,
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if !l.sel.Recursive {
		input.Delimiter = aws.String("/")
	}

	lock, err := l.fs.holder.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Move().Unlock()

	out, err := lock.Client().ListObjectsV2(ctx, input)
	if err != nil {
		return nil, opError("ListObjectsV2", l.bucket, prefix, err)
	}
	return out, nil
}

// classifyPage turns one result page into FileInfo entries.
func (l *bucketLister) classifyPage(page *s3.ListObjectsV2Output, prefix string) []FileInfo {
	var batch []FileInfo

	for _, cp := range page.CommonPrefixes {
		key := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
		l.sawAny = true
		batch = l.appendDir(batch, key)
	}

	for _, obj := range page.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix {
			// The base directory's own marker: proof of existence only.
			l.sawAny = true
			continue
		}
		l.sawAny = true

		if strings.HasSuffix(key, "/") && aws.ToInt64(obj.Size) == 0 {
			batch = l.appendDir(batch, strings.TrimSuffix(key, "/"))
			continue
		}

		if depth := nestingDepth(key, prefix); depth > l.maxDepth {
			// Too deep to emit as a file; its ancestor at the depth
			// limit still surfaces as a directory.
			batch = l.appendDir(batch, truncateKey(key, prefix, l.maxDepth))
			continue
		}

		batch = l.appendParents(batch, key, prefix)
		batch = append(batch, l.fileInfo(obj))
	}
	return batch
}

// appendDir emits key as a directory along with any unseen parents
// between it and the prefix base.
func (l *bucketLister) appendDir(batch []FileInfo, key string) []FileInfo {
	batch = l.appendParents(batch, key, l.keyPrefix())
	if _, ok := l.emitted[key]; ok {
		return batch
	}
	l.emitted[key] = struct{}{}
	return append(batch, FileInfo{
		Path: l.bucket + "/" + key,
		Type: FileTypeDirectory,
		Size: -1,
	})
}

// appendParents synthesizes the implicit directories between key and the
// prefix base, outermost first.
func (l *bucketLister) appendParents(batch []FileInfo, key, prefix string) []FileInfo {
	var missing []string
	parent := key
	for {
		idx := strings.LastIndexByte(parent, '/')
		if idx < 0 {
			break
		}
		parent = parent[:idx]
		if parent+"/" == prefix || parent == strings.TrimSuffix(prefix, "/") {
			break
		}
		if _, ok := l.emitted[parent]; ok {
			break
		}
		missing = append(missing, parent)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		l.emitted[missing[i]] = struct{}{}
		batch = append(batch, FileInfo{
			Path: l.bucket + "/" + missing[i],
			Type: FileTypeDirectory,
			Size: -1,
		})
	}
	return batch
}

func (l *bucketLister) fileInfo(obj types.Object) FileInfo {
	key := strings.TrimSuffix(aws.ToString(obj.Key), "/")
	fi := FileInfo{
		Path: l.bucket + "/" + key,
		Type: FileTypeFile,
		Size: aws.ToInt64(obj.Size),
		ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
	}
	if obj.LastModified != nil {
		fi.MTime = *obj.LastModified
	}
	return fi
}

// nestingDepth is the number of directory levels between prefix and key;
// a key directly inside the prefix has depth zero.
func nestingDepth(key, prefix string) int {
	rest := strings.TrimPrefix(key, prefix)
	rest = strings.TrimSuffix(rest, "/")
	return strings.Count(rest, "/")
}

// truncateKey cuts key to its ancestor at maxDepth below prefix.
func truncateKey(key, prefix string, maxDepth int) string {
	rest := strings.TrimPrefix(key, prefix)
	segments := strings.Split(rest, "/")
	keep := maxDepth + 1
	if keep > len(segments) {
		keep = len(segments)
	}
	return prefix + strings.Join(segments[:keep], "/")
}
