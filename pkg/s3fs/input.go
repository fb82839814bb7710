package s3fs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/nimbusfs/pkg/s3path"
)

// InputFile is a random-access reader over a single S3 object.
//
// Every ReadAt issues one ranged GET covering exactly the requested
// span, truncated at EOF. InputFile is not safe for concurrent use of
// the cursor methods (Read/Seek); ReadAt is independent of the cursor.
type InputFile struct {
	fs   *FileSystem
	path s3path.Path

	// ctx is captured at open time because io.ReaderAt has no context
	// parameter. ReadAtContext accepts an explicit one.
	ctx context.Context

	size     int64
	metadata map[string]string

	pos    int64
	closed bool
}

var (
	_ io.Reader   = (*InputFile)(nil)
	_ io.ReaderAt = (*InputFile)(nil)
	_ io.Seeker   = (*InputFile)(nil)
	_ io.Closer   = (*InputFile)(nil)
)

// newInputFile opens path for reading. When knownSize is non-negative
// the HEAD round trip is elided and Metadata() is empty; otherwise HEAD
// fetches both size and metadata, surfacing ErrNotFound for a missing
// object.
func newInputFile(ctx context.Context, fs *FileSystem, path s3path.Path, knownSize int64) (*InputFile, error) {
	f := &InputFile{fs: fs, path: path, ctx: ctx, size: knownSize, metadata: map[string]string{}}
	if knownSize >= 0 {
		return f, nil
	}

	lock, err := fs.holder.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Move().Unlock()

	input := &s3.HeadObjectInput{
		Bucket: aws.String(path.Bucket),
		Key:    aws.String(path.Key),
	}
	fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)

	out, err := lock.Client().HeadObject(ctx, input)
	if err != nil {
		return nil, opError("HeadObject", path.Bucket, path.Key, err)
	}
	f.size = aws.ToInt64(out.ContentLength)
	f.metadata = readMetadataOf(out)
	return f, nil
}

// readMetadataOf flattens the HEAD result into the documented read-side
// metadata keys.
func readMetadataOf(out *s3.HeadObjectOutput) map[string]string {
	md := map[string]string{
		"Content-Length": fmt.Sprintf("%d", aws.ToInt64(out.ContentLength)),
	}
	if v := aws.ToString(out.CacheControl); v != "" {
		md["Cache-Control"] = v
	}
	if v := aws.ToString(out.ContentType); v != "" {
		md["Content-Type"] = v
	}
	if v := aws.ToString(out.ContentLanguage); v != "" {
		md["Content-Language"] = v
	}
	if v := aws.ToString(out.ETag); v != "" {
		md["ETag"] = strings.Trim(v, `"`)
	}
	if v := aws.ToString(out.VersionId); v != "" {
		md["VersionId"] = v
	}
	if out.LastModified != nil {
		md["Last-Modified"] = out.LastModified.UTC().Format(time.RFC3339)
	}
	if out.Expires != nil {
		md["Expires"] = out.Expires.UTC().Format(time.RFC3339)
	}
	return md
}

// Size returns the object length in bytes.
func (f *InputFile) Size() int64 { return f.size }

// Metadata returns the HEAD metadata, or an empty map when the open was
// info-backed and HEAD was skipped.
func (f *InputFile) Metadata() map[string]string { return f.metadata }

// Read reads up to len(p) bytes from the cursor position.
func (f *InputFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == nil && n < len(p) && f.pos >= f.size {
		err = io.EOF
	}
	return n, err
}

// ReadAt reads len(p) bytes at offset off via a single ranged GET.
// Reads past EOF are truncated; a read starting at or beyond EOF
// returns 0, io.EOF. The context captured at open time applies.
func (f *InputFile) ReadAt(p []byte, off int64) (int, error) {
	return f.ReadAtContext(f.ctx, p, off)
}

// ReadAtContext is ReadAt with an explicit context.
func (f *InputFile) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("%w: read on closed file %s", ErrInvalidState, f.path)
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative read offset %d", ErrInvalidState, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	nbytes := int64(len(p))
	if remaining := f.size - off; remaining <= 0 {
		return 0, io.EOF
	} else if nbytes > remaining {
		nbytes = remaining
	}

	lock, err := f.fs.holder.Lock()
	if err != nil {
		return 0, err
	}
	defer lock.Move().Unlock()

	input := &s3.GetObjectInput{
		Bucket: aws.String(f.path.Bucket),
		Key:    aws.String(f.path.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+nbytes-1)),
	}
	f.fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)

	out, err := lock.Client().GetObject(ctx, input)
	if err != nil {
		return 0, opError("GetObject", f.path.Bucket, f.path.Key, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:nbytes])
	f.fs.metrics.bytesRead.Add(float64(n))
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		return n, opError("GetObject", f.path.Bucket, f.path.Key, err)
	}
	if int64(n)+off >= f.size && int64(len(p)) > nbytes {
		return n, io.EOF
	}
	return n, nil
}

// Seek repositions the cursor per io.Seeker semantics. Negative
// resulting positions are rejected.
func (f *InputFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, fmt.Errorf("%w: seek on closed file %s", ErrInvalidState, f.path)
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.size + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrInvalidState, whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("%w: seek to negative position %d", ErrInvalidState, pos)
	}
	f.pos = pos
	return pos, nil
}

// Close marks the file closed. No server-side state is held open.
func (f *InputFile) Close() error {
	f.closed = true
	return nil
}
