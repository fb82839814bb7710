package s3fs

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/pkg/s3path"
)

// Multipart upload geometry. The part size matches the server-side
// minimum usable chunk for steady throughput; the threshold keeps any
// payload that fits inside a single part on the one-request PUT path.
const (
	// PartUploadSize is the fixed size of every non-final part.
	PartUploadSize int64 = 10 * 1024 * 1024

	// multipartThreshold is the largest payload uploaded as a single PUT
	// when delayed open is enabled.
	multipartThreshold = PartUploadSize - 1

	// maxUploadParts is the server-imposed part count limit.
	maxUploadParts = 10000
)

type streamState int32

const (
	streamOpen streamState = iota
	streamClosing
	streamClosed
	streamFailed
)

// OutputStream writes an object through buffered multipart uploads.
//
// Writes coalesce into a PartUploadSize buffer; full parts are
// dispatched as UploadPart requests, inline or through background
// workers depending on Options.BackgroundWrites. Close reconciles the
// completed parts in order and issues CompleteMultipartUpload, or falls
// back to a single PUT for small payloads when delayed open is enabled.
//
// External writers are assumed single-threaded per stream; the internal
// mutex protects only the background-completion rendezvous.
type OutputStream struct {
	fs       *FileSystem
	path     s3path.Path
	ctx      context.Context
	metadata writeMetadata
	log      *zap.Logger

	backgroundWrites bool
	allowDelayedOpen bool

	uploadID     string
	nextPartNum  int32
	cur          bytes.Buffer
	totalWritten int64
	state        streamState

	// Background-upload rendezvous. done is created fresh each time
	// inProgress rises from zero and closed when it returns to zero; the
	// close happens with mu released because completion callbacks may
	// re-enter the stream.
	mu         sync.Mutex
	parts      []types.CompletedPart
	inProgress int
	uploadErr  error
	done       chan struct{}

	sem chan struct{}
}

// newOutputStream opens path for writing. Unless delayed open is
// enabled, the multipart upload is created immediately so permission
// errors surface at open time rather than at close.
func newOutputStream(ctx context.Context, fs *FileSystem, path s3path.Path, md map[string]string) (*OutputStream, error) {
	meta, err := parseWriteMetadata(fs.opts.DefaultMetadata, md)
	if err != nil {
		return nil, err
	}
	s := &OutputStream{
		fs:               fs,
		path:             path,
		ctx:              ctx,
		metadata:         meta,
		log:              fs.log.With(zap.String("bucket", path.Bucket), zap.String("key", path.Key)),
		backgroundWrites: fs.opts.BackgroundWrites,
		allowDelayedOpen: fs.opts.AllowDelayedOpen,
		nextPartNum:      1,
		sem:              make(chan struct{}, fs.opts.ioConcurrency()),
	}
	if !s.allowDelayedOpen {
		if err := s.createMultipartUpload(ctx); err != nil {
			return nil, err
		}
	}
	fs.metrics.openStreams.Inc()
	return s, nil
}

// UploadID exposes the multipart upload id, empty until one is created.
func (s *OutputStream) UploadID() string { return s.uploadID }

// BytesWritten returns the total payload accepted so far.
func (s *OutputStream) BytesWritten() int64 { return s.totalWritten }

// Write buffers p into the current part, dispatching every full part.
// Chunks of at least PartUploadSize bypass the buffer when it is empty.
func (s *OutputStream) Write(p []byte) (int, error) {
	if s.state != streamOpen {
		return 0, fmt.Errorf("%w: write on closed stream %s", ErrInvalidState, s.path)
	}
	written := len(p)

	// Top up a partial current part first.
	if s.cur.Len() > 0 {
		toCopy := PartUploadSize - int64(s.cur.Len())
		if toCopy > int64(len(p)) {
			toCopy = int64(len(p))
		}
		s.cur.Write(p[:toCopy])
		p = p[toCopy:]
		if int64(s.cur.Len()) < PartUploadSize {
			s.totalWritten += int64(written)
			return written, nil
		}
		if err := s.dispatchCurrent(); err != nil {
			return 0, err
		}
	}

	// Whole parts go out directly, skipping the buffer copy in
	// synchronous mode (background mode copies for ownership).
	for int64(len(p)) >= PartUploadSize {
		if err := s.dispatchPart(p[:PartUploadSize], false); err != nil {
			return 0, err
		}
		p = p[PartUploadSize:]
	}

	if len(p) > 0 {
		s.cur.Write(p)
	}
	s.totalWritten += int64(written)
	return written, nil
}

// dispatchCurrent sends the buffered part and resets the buffer.
func (s *OutputStream) dispatchCurrent() error {
	data := s.cur.Bytes()
	err := s.dispatchPart(data, !s.backgroundWrites)
	s.cur = bytes.Buffer{}
	return err
}

// dispatchPart assigns the next part number and uploads data. owned
// reports whether data remains valid after return; background mode
// copies unowned data before handing it to a worker.
func (s *OutputStream) dispatchPart(data []byte, owned bool) error {
	if err := s.createMultipartUpload(s.ctx); err != nil {
		s.state = streamFailed
		return err
	}
	partNum := s.nextPartNum
	if int(partNum) > maxUploadParts {
		s.state = streamFailed
		return opError("UploadPart", s.path.Bucket, s.path.Key,
			fmt.Errorf("upload requires more than %d parts", maxUploadParts))
	}
	s.nextPartNum++

	if !s.backgroundWrites {
		etag, err := s.uploadPart(s.ctx, partNum, data)
		if err != nil {
			s.state = streamFailed
			return err
		}
		s.recordPart(partNum, etag)
		return nil
	}

	buf := data
	if !owned {
		buf = make([]byte, len(data))
		copy(buf, data)
	}

	s.mu.Lock()
	s.inProgress++
	if s.inProgress == 1 {
		s.done = make(chan struct{})
	}
	s.mu.Unlock()

	go func() {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		etag, err := s.uploadPart(s.ctx, partNum, buf)

		s.mu.Lock()
		if err != nil {
			if s.uploadErr == nil {
				s.uploadErr = err
			}
		} else {
			s.placePartLocked(partNum, etag)
		}
		s.inProgress--
		var signal chan struct{}
		if s.inProgress == 0 {
			signal = s.done
		}
		s.mu.Unlock()

		if signal != nil {
			close(signal)
		}
	}()
	return nil
}

// uploadPart performs one UploadPart round trip.
func (s *OutputStream) uploadPart(ctx context.Context, partNum int32, data []byte) (string, error) {
	lock, err := s.fs.holder.Lock()
	if err != nil {
		return "", err
	}
	defer lock.Move().Unlock()

	input := &s3.UploadPartInput{
		Bucket:        aws.String(s.path.Bucket),
		Key:           aws.String(s.path.Key),
		UploadId:      aws.String(s.uploadID),
		PartNumber:    aws.Int32(partNum),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	s.fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)

	out, err := lock.Client().UploadPart(ctx, input)
	if err != nil {
		return "", opError("UploadPart", s.path.Bucket, s.path.Key, err)
	}
	s.fs.metrics.bytesWritten.Add(float64(len(data)))
	s.fs.metrics.partsUploaded.Inc()
	return aws.ToString(out.ETag), nil
}

func (s *OutputStream) recordPart(partNum int32, etag string) {
	s.mu.Lock()
	s.placePartLocked(partNum, etag)
	s.mu.Unlock()
}

// placePartLocked stores the completed part at partNum-1, growing the
// dense vector on demand. Parts land in number order regardless of
// completion order.
func (s *OutputStream) placePartLocked(partNum int32, etag string) {
	idx := int(partNum) - 1
	for len(s.parts) <= idx {
		s.parts = append(s.parts, types.CompletedPart{})
	}
	s.parts[idx] = types.CompletedPart{
		PartNumber: aws.Int32(partNum),
		ETag:       aws.String(etag),
	}
}

// awaitPendingUploads blocks until every dispatched background part has
// completed, returning the accumulated status.
func (s *OutputStream) awaitPendingUploads() error {
	s.mu.Lock()
	if s.inProgress == 0 {
		err := s.uploadErr
		s.mu.Unlock()
		return err
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}

	s.mu.Lock()
	err := s.uploadErr
	s.mu.Unlock()
	return err
}

// createMultipartUpload starts the multipart upload if one is not
// already in progress.
func (s *OutputStream) createMultipartUpload(ctx context.Context) error {
	if s.uploadID != "" {
		return nil
	}
	lock, err := s.fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.path.Bucket),
		Key:    aws.String(s.path.Key),
	}
	s.metadata.applyToCreateMultipart(input)
	s.fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)

	out, err := lock.Client().CreateMultipartUpload(ctx, input)
	if err != nil {
		return opError("CreateMultipartUpload", s.path.Bucket, s.path.Key, err)
	}
	s.uploadID = aws.ToString(out.UploadId)
	s.log.Debug("multipart upload created", zap.String("upload_id", s.uploadID))
	return nil
}

// Close flushes buffered data, waits for background parts, completes the
// upload and releases the stream. On failure the stream transitions to
// Failed and any created multipart upload is aborted.
func (s *OutputStream) Close() error {
	switch s.state {
	case streamClosed:
		return nil
	case streamFailed:
		return s.Abort()
	}
	s.state = streamClosing

	if err := s.finishUpload(); err != nil {
		_ = s.Abort()
		return err
	}
	s.state = streamClosed
	s.fs.metrics.openStreams.Dec()
	return nil
}

func (s *OutputStream) finishUpload() error {
	// Small payloads with no multipart in progress go out as one PUT.
	if s.uploadID == "" {
		if s.totalWritten > multipartThreshold {
			// Overflow always creates the upload first.
			return fmt.Errorf("%w: %d bytes buffered without a multipart upload",
				ErrInvalidState, s.totalWritten)
		}
		return s.putSingle(s.ctx, s.cur.Bytes())
	}

	if s.cur.Len() > 0 {
		if err := s.dispatchCurrent(); err != nil {
			return err
		}
	}
	// The server rejects a completion with zero parts.
	if s.nextPartNum == 1 {
		if err := s.dispatchPart(nil, true); err != nil {
			return err
		}
	}
	if err := s.awaitPendingUploads(); err != nil {
		return err
	}
	return s.completeUpload(s.ctx)
}

// putSingle uploads the whole payload as one PutObject request.
func (s *OutputStream) putSingle(ctx context.Context, data []byte) error {
	lock, err := s.fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.path.Bucket),
		Key:           aws.String(s.path.Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	s.metadata.applyToPut(input)
	s.fs.applySSEC(&input.SSECustomerAlgorithm, &input.SSECustomerKey, &input.SSECustomerKeyMD5)

	if _, err := lock.Client().PutObject(ctx, input); err != nil {
		return opError("PutObject", s.path.Bucket, s.path.Key, err)
	}
	s.fs.metrics.bytesWritten.Add(float64(len(data)))
	return nil
}

// completeUpload sends CompleteMultipartUpload, treating HTTP 200
// responses with embedded <Error> bodies as failures and consulting the
// configured retry strategy with the synthesized error.
func (s *OutputStream) completeUpload(ctx context.Context) error {
	s.mu.Lock()
	completed := make([]types.CompletedPart, len(s.parts))
	copy(completed, s.parts)
	s.mu.Unlock()

	for i, part := range completed {
		if part.PartNumber == nil {
			return opError("CompleteMultipartUpload", s.path.Bucket, s.path.Key,
				fmt.Errorf("part %d missing from completed set", i+1))
		}
	}

	strategy := s.fs.opts.retryStrategy()
	input := &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.path.Bucket),
		Key:             aws.String(s.path.Key),
		UploadId:        aws.String(s.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}

	for attempt := 0; ; attempt++ {
		err := s.completeOnce(ctx, input)
		if err == nil {
			return nil
		}
		detail := errorDetailOf(err)
		if !strategy.ShouldRetry(detail, attempt) {
			return opError("CompleteMultipartUpload", s.path.Bucket, s.path.Key, err)
		}
		delay := strategy.RetryDelay(detail, attempt)
		s.log.Warn("retrying multipart completion",
			zap.String("upload_id", s.uploadID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("code", detail.Code))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// completeOnce issues a single completion attempt. SDK-level retries are
// disabled so the strategy loop above owns every attempt, and the
// embedded-error middleware turns 200-with-<Error> bodies into errors.
func (s *OutputStream) completeOnce(ctx context.Context, input *s3.CompleteMultipartUploadInput) error {
	lock, err := s.fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	_, err = lock.Client().CompleteMultipartUpload(ctx, input,
		func(o *s3.Options) { o.Retryer = aws.NopRetryer{} },
		s3.WithAPIOptions(addEmbedded200ErrorMiddleware),
	)
	return err
}

// Abort cancels the upload: any created multipart upload is aborted and
// buffered data is dropped. Safe to call repeatedly.
func (s *OutputStream) Abort() error {
	if s.state == streamClosed {
		return nil
	}
	s.state = streamFailed
	s.cur = bytes.Buffer{}

	if err := s.awaitPendingUploads(); err != nil {
		s.log.Debug("pending uploads failed during abort", zap.Error(err))
	}

	if s.uploadID == "" {
		s.state = streamClosed
		s.fs.metrics.openStreams.Dec()
		return nil
	}

	lock, err := s.fs.holder.Lock()
	if err != nil {
		return err
	}
	defer lock.Move().Unlock()

	_, err = lock.Client().AbortMultipartUpload(s.ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.path.Bucket),
		Key:      aws.String(s.path.Key),
		UploadId: aws.String(s.uploadID),
	})
	s.uploadID = ""
	s.state = streamClosed
	s.fs.metrics.openStreams.Dec()
	if err != nil {
		return opError("AbortMultipartUpload", s.path.Bucket, s.path.Key, err)
	}
	return nil
}
