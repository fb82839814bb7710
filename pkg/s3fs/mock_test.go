package s3fs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeObject is one stored object in the fake backend.
type fakeObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// fakeUpload is one in-progress multipart upload.
type fakeUpload struct {
	bucket      string
	key         string
	contentType string
	parts       map[int32][]byte
	aborted     bool
}

// putRecord captures one PutObject for assertions.
type putRecord struct {
	bucket      string
	key         string
	contentType string
	size        int
}

// partRecord captures one UploadPart for assertions.
type partRecord struct {
	uploadID string
	partNum  int32
	size     int
}

// fakeS3 implements s3API with an in-memory object store.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]fakeObject
	uploads map[string]*fakeUpload
	nextID  int

	// completeErrs is popped once per CompleteMultipartUpload call;
	// a nil entry means that attempt succeeds.
	completeErrs []error

	// deleteFailures maps keys to error codes reported per-key from
	// DeleteObjects.
	deleteFailures map[string]string

	listCalls        int
	completeCalls    int
	deleteBatchSizes []int
	puts             []putRecord
	parts            []partRecord
	completedParts   []types.CompletedPart
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{
		buckets: map[string]map[string]fakeObject{},
		uploads: map[string]*fakeUpload{},
	}
	for _, b := range buckets {
		f.buckets[b] = map[string]fakeObject{}
	}
	return f
}

func (f *fakeS3) addObject(bucket, key string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket][key] = fakeObject{data: data, contentType: contentType, modified: time.Now()}
}

func (f *fakeS3) object(bucket, key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	return obj, ok
}

func (f *fakeS3) bucketFor(bucket string) (map[string]fakeObject, error) {
	objs, ok := f.buckets[bucket]
	if !ok {
		return nil, &types.NoSuchBucket{}
	}
	return objs, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{BucketRegion: aws.String("us-east-1")}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucketFor(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	obj, ok := objs[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String(`"fake-etag"`),
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucketFor(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	obj, ok := objs[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	data := obj.data
	if r := aws.ToString(params.Range); r != "" {
		var start, end int64
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("bad range %q", r)
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		if start > end {
			data = nil
		} else {
			data = data[start : end+1]
		}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := aws.ToString(params.Bucket)
	objs, berr := f.bucketFor(bucket)
	if berr != nil {
		return nil, berr
	}
	key := aws.ToString(params.Key)
	ct := aws.ToString(params.ContentType)
	objs[key] = fakeObject{data: data, contentType: ct, modified: time.Now()}
	f.puts = append(f.puts, putRecord{bucket: bucket, key: key, contentType: ct, size: len(data)})
	return &s3.PutObjectOutput{ETag: aws.String(`"fake-etag"`)}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	source := aws.ToString(params.CopySource)
	idx := strings.IndexByte(source, '/')
	srcObjs, err := f.bucketFor(source[:idx])
	if err != nil {
		return nil, err
	}
	obj, ok := srcObjs[source[idx+1:]]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	destObjs, err := f.bucketFor(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	destObjs[aws.ToString(params.Key)] = obj
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucketFor(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	delete(objs, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.bucketFor(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	f.deleteBatchSizes = append(f.deleteBatchSizes, len(params.Delete.Objects))

	out := &s3.DeleteObjectsOutput{}
	for _, ident := range params.Delete.Objects {
		key := aws.ToString(ident.Key)
		if code, ok := f.deleteFailures[key]; ok {
			out.Errors = append(out.Errors, types.Error{
				Key:  aws.String(key),
				Code: aws.String(code),
			})
			continue
		}
		delete(objs, key)
	}
	return out, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	objs, err := f.bucketFor(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	delimiter := aws.ToString(params.Delimiter)
	after := aws.ToString(params.ContinuationToken)
	maxKeys := int(aws.ToInt32(params.MaxKeys))
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	keys := make([]string, 0, len(objs))
	for k := range objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seenPrefixes := map[string]bool{}
	count := 0
	for _, k := range keys {
		if after != "" && k <= after {
			continue
		}
		if count >= maxKeys {
			out.IsTruncated = aws.Bool(true)
			break
		}
		if delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seenPrefixes[cp] {
					seenPrefixes[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
					count++
				}
				out.NextContinuationToken = aws.String(k)
				continue
			}
		}
		obj := objs[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			ETag:         aws.String(`"fake-etag"`),
			LastModified: aws.Time(obj.modified),
		})
		count++
		out.NextContinuationToken = aws.String(k)
	}
	if out.IsTruncated == nil {
		out.IsTruncated = aws.Bool(false)
		out.NextContinuationToken = nil
	}
	return out, nil
}

func (f *fakeS3) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.buckets))
	for name := range f.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := &s3.ListBucketsOutput{}
	for _, name := range names {
		out.Buckets = append(out.Buckets, types.Bucket{
			Name:         aws.String(name),
			CreationDate: aws.Time(time.Now()),
		})
	}
	return out, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := aws.ToString(params.Bucket)
	if _, ok := f.buckets[bucket]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[bucket] = map[string]fakeObject{}
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := aws.ToString(params.Bucket)
	if _, ok := f.buckets[bucket]; !ok {
		return nil, &types.NoSuchBucket{}
	}
	delete(f.buckets, bucket)
	return &s3.DeleteBucketOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.bucketFor(aws.ToString(params.Bucket)); err != nil {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{
		bucket:      aws.ToString(params.Bucket),
		key:         aws.ToString(params.Key),
		contentType: aws.ToString(params.ContentType),
		parts:       map[int32][]byte{},
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.UploadId)
	upload, ok := f.uploads[id]
	if !ok || upload.aborted {
		return nil, &types.NoSuchUpload{}
	}
	partNum := aws.ToInt32(params.PartNumber)
	upload.parts[partNum] = data
	f.parts = append(f.parts, partRecord{uploadID: id, partNum: partNum, size: len(data)})
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"%s-part-%d"`, id, partNum))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	if len(f.completeErrs) > 0 {
		err := f.completeErrs[0]
		f.completeErrs = f.completeErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	upload, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok || upload.aborted {
		return nil, &types.NoSuchUpload{}
	}
	f.completedParts = params.MultipartUpload.Parts

	var buf bytes.Buffer
	for _, part := range params.MultipartUpload.Parts {
		buf.Write(upload.parts[aws.ToInt32(part.PartNumber)])
	}
	f.buckets[upload.bucket][upload.key] = fakeObject{
		data:        buf.Bytes(),
		contentType: upload.contentType,
		modified:    time.Now(),
	}
	delete(f.uploads, aws.ToString(params.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	upload.aborted = true
	return &s3.AbortMultipartUploadOutput{}, nil
}

// newTestFS wires a FileSystem directly onto a fake client, bypassing
// the AWS config chain.
func newTestFS(t *testing.T, client s3API, opts Options) *FileSystem {
	t.Helper()
	resetFinalizerForTesting()

	holder, err := newClientHolder(client)
	require.NoError(t, err)

	fs := &FileSystem{
		opts:    opts,
		holder:  holder,
		log:     zap.NewNop(),
		metrics: newFSMetrics(nil),
		region:  DefaultRegion,
		id:      "test",
	}
	t.Cleanup(holder.Close)
	return fs
}
