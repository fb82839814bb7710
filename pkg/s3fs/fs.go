package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusfs/pkg/s3path"
)

// directoryContentType marks zero-byte objects that stand in for
// directories.
const directoryContentType = "application/x-directory"

// deleteBatchSize is the DeleteObjects per-request key limit.
const deleteBatchSize = 1000

// FileSystem presents an S3 endpoint as a hierarchical filesystem:
// buckets are top-level directories, key prefixes are subdirectories,
// and zero-byte trailing-slash objects mark directories that would
// otherwise be empty.
//
// All methods are safe for concurrent use. After Finalize, every method
// fails with ErrFinalized.
type FileSystem struct {
	opts    Options
	holder  *ClientHolder
	log     *zap.Logger
	metrics *fsMetrics
	limiter *rate.Limiter
	region  string
	id      string
}

// New connects a FileSystem using opts. The S3 client is built once and
// shared by every operation until Close or Finalize.
func New(ctx context.Context, opts Options) (*FileSystem, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	client, region, err := buildClient(ctx, &opts)
	if err != nil {
		return nil, err
	}
	holder, err := newClientHolder(client)
	if err != nil {
		return nil, err
	}

	fs := &FileSystem{
		opts:    opts,
		holder:  holder,
		metrics: newFSMetrics(opts.MetricsRegisterer),
		region:  region,
		id:      uuid.NewString(),
	}
	fs.log = opts.logger().With(zap.String("fs_id", fs.id))
	if opts.ListRateLimit > 0 {
		fs.limiter = rate.NewLimiter(rate.Limit(opts.ListRateLimit), 1)
	}

	fs.log.Debug("filesystem connected",
		zap.String("region", region),
		zap.String("endpoint", opts.EndpointOverride))
	return fs, nil
}

// Close releases the filesystem's client. In-flight calls finish first;
// subsequent calls fail with ErrFinalized.
func (fs *FileSystem) Close() error {
	fs.holder.Close()
	return nil
}

// Region returns the region a bucket lives in.
func (fs *FileSystem) Region(ctx context.Context, bucket string) (string, error) {
	lock, err := fs.holder.Lock()
	if err != nil {
		return "", err
	}
	defer lock.Move().Unlock()

	out, err := lock.Client().HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return "", opError("HeadBucket", bucket, "", err)
	}
	if r := aws.ToString(out.BucketRegion); r != "" {
		return r, nil
	}
	return fs.region, nil
}

// waitListPage applies the configured listing rate limit.
func (fs *FileSystem) waitListPage(ctx context.Context) error {
	if fs.limiter == nil {
		return nil
	}
	return fs.limiter.Wait(ctx)
}

// applySSEC fills the SSE-C request fields when a customer key is
// configured. The pointers are the input struct's own fields.
func (fs *FileSystem) applySSEC(alg, key, keyMD5 **string) {
	a, k, m, ok := fs.opts.sseCustomerHeaders()
	if !ok {
		return
	}
	*alg = aws.String(a)
	*key = aws.String(k)
	*keyMD5 = aws.String(m)
}

// GetFileInfo stats a single path. Missing paths are reported as a
// FileTypeNotFound entry, not an error; only wire-level failures error.
func (fs *FileSystem) GetFileInfo(ctx context.Context, path string) (FileInfo, error) {
	p, err := s3path.Parse(path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := fs.statPath(ctx, p)
	fs.metrics.observeOp("GetFileInfo", err)
	return info, err
}

func (fs *FileSystem) statPath(ctx context.Context, p s3path.Path) (FileInfo, error) {
	if p.IsRoot() {
		return FileInfo{Path: "", Type: FileTypeDirectory, Size: -1}, nil
	}
	if p.IsBucketOnly() {
		return fs.statBucket(ctx, p)
	}
	return fs.statObject(ctx, p)
}

func (fs *FileSystem) statBucket(ctx context.Context, p s3path.Path) (FileInfo, error) {
	lock, err := fs.holder.Lock()
	if err != nil {
		return FileInfo{}, err
	}
	_, err = lock.Client().HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.Bucket)})
	lock.Unlock()
	if err != nil {
		if isNotFoundErr(err) {
			return FileInfo{Path: p.String(), Type: FileTypeNotFound, Size: -1}, nil
		}
		return FileInfo{}, opError("HeadBucket", p.Bucket, "", err)
	}
	return FileInfo{Path: p.String(), Type: FileTypeDirectory, Size: -1}, nil
}

func (fs *FileSystem) statObject(ctx context.Context, p s3path.Path) (FileInfo, error) {
	out, err := fs.headObject(ctx, p.Bucket, p.Key)
	if err == nil {
		return fs.infoFromHead(p, p.Key, out), nil
	}
	if !isNotFoundErr(err) {
		return FileInfo{}, opError("HeadObject", p.Bucket, p.Key, err)
	}

	// The plain key is absent. On MinIO an empty directory is visible
	// only through a trailing-slash HEAD; other backends surface their
	// markers in the prefix probe below.
	if fs.opts.backend() == BackendMinio && !strings.HasSuffix(p.Key, "/") {
		marker := s3path.EnsureTrailingSlash(p.Key)
		if _, merr := fs.headObject(ctx, p.Bucket, marker); merr == nil {
			return FileInfo{Path: p.String(), Type: FileTypeDirectory, Size: -1}, nil
		} else if !isNotFoundErr(merr) {
			return FileInfo{}, opError("HeadObject", p.Bucket, marker, merr)
		}
	}

	nonEmpty, err := fs.prefixExists(ctx, p.Bucket, p.Key)
	if err != nil {
		return FileInfo{}, err
	}
	if nonEmpty {
		return FileInfo{Path: p.String(), Type: FileTypeDirectory, Size: -1}, nil
	}
	return FileInfo{Path: p.String(), Type: FileTypeNotFound, Size: -1}, nil
}

func (fs *FileSystem) headObject(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	lock, err := fs.holder.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Move().Unlock()

	input := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)
	return lock.Client().HeadObject(ctx, input)
}

// prefixExists probes for any object under key's prefix with a one-key
// listing.
func (fs *FileSystem) prefixExists(ctx context.Context, bucket, key string) (bool, error) {
	lock, err := fs.holder.Lock()
	if err != nil {
		return false, err
	}
	defer lock.Move().Unlock()

	out, err := lock.Client().ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(strings.TrimSuffix(key, "/") + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		if isNotFoundErr(err) {
			return false, nil
		}
		return false, opError("ListObjectsV2", bucket, key, err)
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

// infoFromHead classifies a HEAD result. A zero-byte object with a
// trailing-slash key or a directory content type is a directory; any
// object with a payload is a file.
func (fs *FileSystem) infoFromHead(p s3path.Path, key string, out *s3.HeadObjectOutput) FileInfo {
	fi := FileInfo{
		Path:      p.String(),
		Type:      FileTypeFile,
		Size:      aws.ToInt64(out.ContentLength),
		ETag:      strings.Trim(aws.ToString(out.ETag), `"`),
		VersionID: aws.ToString(out.VersionId),
	}
	if out.LastModified != nil {
		fi.MTime = *out.LastModified
	}
	if fi.Size == 0 &&
		(strings.HasSuffix(key, "/") || strings.HasPrefix(aws.ToString(out.ContentType), directoryContentType)) {
		fi.Type = FileTypeDirectory
		fi.Size = -1
	}
	return fi
}

// CreateDir creates a directory at path. Bucket-only paths create the
// bucket itself when bucket creation is allowed. With recursive, every
// missing ancestor marker is created as well.
func (fs *FileSystem) CreateDir(ctx context.Context, path string, recursive bool) error {
	p, err := s3path.Parse(path)
	if err != nil {
		return err
	}
	err = fs.createDir(ctx, p, recursive)
	fs.metrics.observeOp("CreateDir", err)
	return err
}

func (fs *FileSystem) createDir(ctx context.Context, p s3path.Path, recursive bool) error {
	if p.IsRoot() {
		return fmt.Errorf("%w: cannot create the root directory", ErrInvalidState)
	}
	if p.IsBucketOnly() {
		return fs.createBucket(ctx, p.Bucket)
	}

	if fs.opts.checkDirectoryExistence() {
		info, err := fs.statPath(ctx, p)
		if err != nil {
			return err
		}
		switch info.Type {
		case FileTypeDirectory:
			return nil
		case FileTypeFile:
			return fmt.Errorf("%w: %s exists and is not a directory", ErrAlreadyExists, p)
		}
	}

	if recursive {
		return fs.createDirRecursive(ctx, p)
	}

	parent := p.Parent()
	info, err := fs.statPath(ctx, parent)
	if err != nil {
		return err
	}
	if info.Type != FileTypeDirectory {
		return fmt.Errorf("%w: parent directory %s does not exist", ErrNotFound, parent)
	}
	return fs.putDirectoryMarker(ctx, p)
}

// createDirRecursive walks upward to the first existing ancestor, then
// creates every missing marker on the way back down.
func (fs *FileSystem) createDirRecursive(ctx context.Context, p s3path.Path) error {
	info, err := fs.statPath(ctx, s3path.Path{Bucket: p.Bucket})
	if err != nil {
		return err
	}
	if info.Type == FileTypeNotFound {
		if err := fs.createBucket(ctx, p.Bucket); err != nil {
			return err
		}
	}

	var missing []s3path.Path
	for cur := p; cur.Key != ""; cur = cur.Parent() {
		info, err := fs.statPath(ctx, cur)
		if err != nil {
			return err
		}
		switch info.Type {
		case FileTypeDirectory:
		case FileTypeFile:
			return fmt.Errorf("%w: %s exists and is not a directory", ErrAlreadyExists, cur)
		default:
			missing = append(missing, cur)
			continue
		}
		break
	}

	for i := len(missing) - 1; i >= 0; i-- {
		if err := fs.putDirectoryMarker(ctx, missing[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) createBucket(ctx context.Context, bucket string) error {
	if !fs.opts.AllowBucketCreation {
		return fmt.Errorf("%w: bucket %q does not exist and bucket creation is disabled",
			ErrInvalidState, bucket)
	}

	lock, err := fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if fs.region != "" && fs.region != DefaultRegion {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(fs.region),
		}
	}
	if _, err := lock.Client().CreateBucket(ctx, input); err != nil {
		if isAlreadyExistsErr(err) {
			return nil
		}
		return opError("CreateBucket", bucket, "", err)
	}
	fs.log.Info("bucket created", zap.String("bucket", bucket))
	return nil
}

// putDirectoryMarker uploads the zero-byte trailing-slash object that
// represents an otherwise empty directory.
func (fs *FileSystem) putDirectoryMarker(ctx context.Context, p s3path.Path) error {
	lock, err := fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	marker := s3path.EnsureTrailingSlash(p.Key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.Bucket),
		Key:         aws.String(marker),
		Body:        bytes.NewReader(nil),
		ContentType: aws.String(directoryContentType),
	}
	fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)

	if _, err := lock.Client().PutObject(ctx, input); err != nil {
		return opError("PutObject", p.Bucket, marker, err)
	}
	return nil
}

// ensureParentExists recreates the parent's directory marker. Deleting
// the last object under a prefix would otherwise make the parent
// directory vanish.
func (fs *FileSystem) ensureParentExists(ctx context.Context, p s3path.Path) error {
	parent := p.Parent()
	if parent.Key == "" {
		return nil
	}
	return fs.putDirectoryMarker(ctx, parent)
}

// DeleteDir removes the directory at path and everything under it.
// Bucket-only paths additionally delete the bucket when bucket deletion
// is allowed; the root is not deletable.
func (fs *FileSystem) DeleteDir(ctx context.Context, path string) error {
	p, err := s3path.Parse(path)
	if err != nil {
		return err
	}
	err = fs.deleteDir(ctx, p)
	fs.metrics.observeOp("DeleteDir", err)
	return err
}

func (fs *FileSystem) deleteDir(ctx context.Context, p s3path.Path) error {
	if p.IsRoot() {
		return fmt.Errorf("%w: cannot delete all buckets", ErrNotImplemented)
	}
	if p.IsBucketOnly() {
		if !fs.opts.AllowBucketDeletion {
			return fmt.Errorf("%w: bucket deletion is disabled", ErrInvalidState)
		}
		if err := fs.deleteContentsUnder(ctx, p, true); err != nil {
			return err
		}
		return fs.deleteBucket(ctx, p.Bucket)
	}

	if err := fs.deleteContentsUnder(ctx, p, true); err != nil {
		return err
	}
	if err := fs.deleteObjectQuiet(ctx, p.Bucket, s3path.EnsureTrailingSlash(p.Key)); err != nil {
		return err
	}
	return fs.ensureParentExists(ctx, p)
}

func (fs *FileSystem) deleteBucket(ctx context.Context, bucket string) error {
	lock, err := fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	if _, err := lock.Client().DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return opError("DeleteBucket", bucket, "", err)
	}
	fs.log.Info("bucket deleted", zap.String("bucket", bucket))
	return nil
}

// DeleteDirContents removes everything under path while keeping the
// directory itself: its marker is recreated afterwards. A missing
// directory is an error unless missingDirOK.
func (fs *FileSystem) DeleteDirContents(ctx context.Context, path string, missingDirOK bool) error {
	p, err := s3path.Parse(path)
	if err != nil {
		return err
	}
	err = fs.deleteDirContents(ctx, p, missingDirOK)
	fs.metrics.observeOp("DeleteDirContents", err)
	return err
}

func (fs *FileSystem) deleteDirContents(ctx context.Context, p s3path.Path, missingDirOK bool) error {
	if p.IsRoot() {
		return fmt.Errorf("%w: cannot delete the contents of all buckets", ErrNotImplemented)
	}

	if err := fs.deleteContentsUnder(ctx, p, false); err != nil {
		if missingDirOK && errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if p.Key == "" {
		return nil
	}
	return fs.putDirectoryMarker(ctx, p)
}

// DeleteRootDirContents would wipe every bucket; it is not supported.
func (fs *FileSystem) DeleteRootDirContents(ctx context.Context) error {
	return fs.deleteDirContents(ctx, s3path.Path{}, false)
}

// deleteContentsUnder lists p recursively and deletes every returned
// entry in DeleteObjects batches.
func (fs *FileSystem) deleteContentsUnder(ctx context.Context, p s3path.Path, missingDirOK bool) error {
	infos, err := fs.ListInfo(ctx, FileSelector{
		BaseDir:       p.String(),
		Recursive:     true,
		AllowNotFound: missingDirOK,
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		key := strings.TrimPrefix(info.Path, p.Bucket+"/")
		if info.IsDirectory() {
			key = s3path.EnsureTrailingSlash(key)
		}
		keys = append(keys, key)
	}
	return fs.deleteKeys(ctx, p.Bucket, keys)
}

// deleteKeys removes keys in batches, aggregating per-key failures into
// a single error.
func (fs *FileSystem) deleteKeys(ctx context.Context, bucket string, keys []string) error {
	var failed []string
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		lock, err := fs.holder.Lock()
		if err != nil {
			return err
		}
		out, err := lock.Client().DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		lock.Unlock()
		if err != nil {
			return opError("DeleteObjects", bucket, "", err)
		}
		for _, derr := range out.Errors {
			failed = append(failed,
				fmt.Sprintf("%s: %s", aws.ToString(derr.Key), aws.ToString(derr.Code)))
		}
	}
	if len(failed) > 0 {
		return opError("DeleteObjects", bucket, "",
			fmt.Errorf("failed to delete %d key(s): %s", len(failed), strings.Join(failed, "; ")))
	}
	return nil
}

func (fs *FileSystem) deleteObjectQuiet(ctx context.Context, bucket, key string) error {
	lock, err := fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	if _, err := lock.Client().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return opError("DeleteObject", bucket, key, err)
	}
	return nil
}

// DeleteFile removes a single object. Missing objects and directories
// are rejected before the delete is issued.
func (fs *FileSystem) DeleteFile(ctx context.Context, path string) error {
	p, err := s3path.Parse(path)
	if err != nil {
		return err
	}
	err = fs.deleteFile(ctx, p)
	fs.metrics.observeOp("DeleteFile", err)
	return err
}

func (fs *FileSystem) deleteFile(ctx context.Context, p s3path.Path) error {
	if p.Key == "" {
		return fmt.Errorf("%w: %s is not a file", ErrNotAFile, p)
	}

	info, err := fs.statPath(ctx, p)
	if err != nil {
		return err
	}
	switch info.Type {
	case FileTypeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	case FileTypeDirectory:
		return fmt.Errorf("%w: %s is a directory", ErrNotAFile, p)
	}

	if err := fs.deleteObjectQuiet(ctx, p.Bucket, p.Key); err != nil {
		return err
	}
	return fs.ensureParentExists(ctx, p)
}

// Move renames a file by copying it and deleting the source. Moving
// directories is not implemented; moving a path onto itself is a no-op.
func (fs *FileSystem) Move(ctx context.Context, src, dest string) error {
	sp, err := s3path.Parse(src)
	if err != nil {
		return err
	}
	dp, err := s3path.Parse(dest)
	if err != nil {
		return err
	}
	err = fs.move(ctx, sp, dp)
	fs.metrics.observeOp("Move", err)
	return err
}

func (fs *FileSystem) move(ctx context.Context, src, dest s3path.Path) error {
	if src == dest {
		return nil
	}
	if src.Key == "" || dest.Key == "" {
		return fmt.Errorf("%w: moving buckets", ErrNotImplemented)
	}

	info, err := fs.statPath(ctx, src)
	if err != nil {
		return err
	}
	switch info.Type {
	case FileTypeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	case FileTypeDirectory:
		return fmt.Errorf("%w: moving directories", ErrNotImplemented)
	}

	if err := fs.copyObject(ctx, src, dest); err != nil {
		return err
	}
	if err := fs.deleteObjectQuiet(ctx, src.Bucket, src.Key); err != nil {
		return err
	}
	return fs.ensureParentExists(ctx, src)
}

// CopyFile copies a single object server-side.
func (fs *FileSystem) CopyFile(ctx context.Context, src, dest string) error {
	sp, err := s3path.Parse(src)
	if err != nil {
		return err
	}
	dp, err := s3path.Parse(dest)
	if err != nil {
		return err
	}
	if sp.Key == "" || dp.Key == "" {
		return fmt.Errorf("%w: copy requires object paths", ErrNotAFile)
	}
	err = fs.copyObject(ctx, sp, dp)
	fs.metrics.observeOp("CopyFile", err)
	return err
}

func (fs *FileSystem) copyObject(ctx context.Context, src, dest s3path.Path) error {
	lock, err := fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	input := &s3.CopyObjectInput{
		Bucket:     aws.String(dest.Bucket),
		Key:        aws.String(dest.Key),
		CopySource: aws.String(src.Bucket + "/" + s3path.URLEncoded(src.Key)),
	}
	// SSE-C must be presented for the source being read and the
	// destination being written.
	fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)
	fs.applySSEC(&input.CopySourceSSECustomerAlgorithm, &input.CopySourceSSECustomerKey, &input.CopySourceSSECustomerKeyMD5)

	if _, err := lock.Client().CopyObject(ctx, input); err != nil {
		return opError("CopyObject", dest.Bucket, dest.Key, err)
	}
	return nil
}

// OpenInputStream opens path for sequential reading.
func (fs *FileSystem) OpenInputStream(ctx context.Context, path string) (*InputFile, error) {
	return fs.OpenInputFile(ctx, path)
}

// OpenInputFile opens path for random-access reading. The object's size
// and metadata are fetched up front.
func (fs *FileSystem) OpenInputFile(ctx context.Context, path string) (*InputFile, error) {
	p, err := s3path.Parse(path)
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotAFile, p)
	}
	f, err := newInputFile(ctx, fs, p, -1)
	fs.metrics.observeOp("OpenInputFile", err)
	return f, err
}

// OpenInputFileWithInfo opens the file described by a prior listing or
// stat, reusing its size to skip the HEAD round trip.
func (fs *FileSystem) OpenInputFileWithInfo(ctx context.Context, info FileInfo) (*InputFile, error) {
	if !info.IsFile() {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotAFile, info.Path)
	}
	p, err := s3path.Parse(info.Path)
	if err != nil {
		return nil, err
	}
	f, err := newInputFile(ctx, fs, p, info.Size)
	fs.metrics.observeOp("OpenInputFile", err)
	return f, err
}

// OpenOutputStream opens path for writing. metadata augments the
// filesystem's default write metadata for this object.
func (fs *FileSystem) OpenOutputStream(ctx context.Context, path string, metadata map[string]string) (*OutputStream, error) {
	p, err := s3path.Parse(path)
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		return nil, fmt.Errorf("%w: %s is not a file", ErrNotAFile, p)
	}
	s, err := newOutputStream(ctx, fs, p, metadata)
	fs.metrics.observeOp("OpenOutputStream", err)
	return s, err
}

// OpenAppendStream is not supported: S3 objects are immutable.
func (fs *FileSystem) OpenAppendStream(ctx context.Context, path string) (*OutputStream, error) {
	return nil, fmt.Errorf("%w: append is not supported", ErrNotImplemented)
}
