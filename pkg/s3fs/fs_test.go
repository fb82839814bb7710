package s3fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileInfoRoot(t *testing.T) {
	fs := newTestFS(t, newFakeS3(), Options{})

	info, err := fs.GetFileInfo(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, FileTypeDirectory, info.Type)
}

func TestGetFileInfoBucket(t *testing.T) {
	fs := newTestFS(t, newFakeS3("bucket"), Options{})

	info, err := fs.GetFileInfo(context.Background(), "bucket")
	require.NoError(t, err)
	assert.Equal(t, FileTypeDirectory, info.Type)

	info, err = fs.GetFileInfo(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, FileTypeNotFound, info.Type)
}

func TestGetFileInfoFile(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "data.bin", []byte("payload"), "application/octet-stream")
	fs := newTestFS(t, fake, Options{})

	info, err := fs.GetFileInfo(context.Background(), "bucket/data.bin")
	require.NoError(t, err)
	assert.Equal(t, FileTypeFile, info.Type)
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, "fake-etag", info.ETag)
}

func TestGetFileInfoDirectoryMarker(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "dir/", nil, directoryContentType)
	fs := newTestFS(t, fake, Options{})

	info, err := fs.GetFileInfo(context.Background(), "bucket/dir")
	require.NoError(t, err)
	assert.Equal(t, FileTypeDirectory, info.Type)
}

func TestGetFileInfoMinioMarkerProbe(t *testing.T) {
	// MinIO resolves an empty directory with a trailing-slash HEAD
	// instead of a listing.
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "dir/", nil, directoryContentType)
	fs := newTestFS(t, fake, Options{Backend: BackendMinio})

	info, err := fs.GetFileInfo(context.Background(), "bucket/dir")
	require.NoError(t, err)
	assert.Equal(t, FileTypeDirectory, info.Type)
	assert.Zero(t, fake.listCalls)
}

func TestGetFileInfoImplicitDirectory(t *testing.T) {
	// No marker exists, only an object below the prefix.
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "dir/obj", []byte("x"), "")
	fs := newTestFS(t, fake, Options{})

	info, err := fs.GetFileInfo(context.Background(), "bucket/dir/")
	require.NoError(t, err)
	assert.Equal(t, FileTypeDirectory, info.Type)
}

func TestGetFileInfoNotFound(t *testing.T) {
	fs := newTestFS(t, newFakeS3("bucket"), Options{})

	info, err := fs.GetFileInfo(context.Background(), "bucket/missing")
	require.NoError(t, err)
	assert.Equal(t, FileTypeNotFound, info.Type)
}

func TestCreateDirIdempotent(t *testing.T) {
	fake := newFakeS3("bucket")
	fs := newTestFS(t, fake, Options{})

	for i := 0; i < 2; i++ {
		require.NoError(t, fs.CreateDir(context.Background(), "bucket/d1/d2", true), "pass %d", i)
	}

	info, err := fs.GetFileInfo(context.Background(), "bucket/d1/d2")
	require.NoError(t, err)
	assert.Equal(t, FileTypeDirectory, info.Type)

	obj, ok := fake.object("bucket", "d1/d2/")
	require.True(t, ok)
	assert.Empty(t, obj.data)
	assert.Equal(t, directoryContentType, obj.contentType)
}

func TestCreateDirRecursiveCreatesAncestors(t *testing.T) {
	fake := newFakeS3("bucket")
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.CreateDir(context.Background(), "bucket/a/b/c", true))
	for _, key := range []string{"a/", "a/b/", "a/b/c/"} {
		_, ok := fake.object("bucket", key)
		assert.True(t, ok, "marker %s", key)
	}
}

func TestCreateDirNonRecursiveNeedsParent(t *testing.T) {
	fake := newFakeS3("bucket")
	fs := newTestFS(t, fake, Options{})

	err := fs.CreateDir(context.Background(), "bucket/a/b", false)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, fs.CreateDir(context.Background(), "bucket/a", false))
	require.NoError(t, fs.CreateDir(context.Background(), "bucket/a/b", false))
}

func TestCreateDirRejectsFileCollision(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "occupied", []byte("file"), "")
	fs := newTestFS(t, fake, Options{CheckDirectoryExistenceBeforeCreation: true})

	err := fs.CreateDir(context.Background(), "bucket/occupied", true)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestCreateBucketGated(t *testing.T) {
	fake := newFakeS3()
	fs := newTestFS(t, fake, Options{})

	err := fs.CreateDir(context.Background(), "newbucket", false)
	require.Error(t, err)

	fs = newTestFS(t, fake, Options{AllowBucketCreation: true})
	require.NoError(t, fs.CreateDir(context.Background(), "newbucket", false))
	// Creating an existing bucket is idempotent.
	require.NoError(t, fs.CreateDir(context.Background(), "newbucket", false))
}

func TestDeleteDirRemovesSubtreeAndKeepsParent(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "p/d/", nil, directoryContentType)
	fake.addObject("bucket", "p/d/f1", []byte("1"), "")
	fake.addObject("bucket", "p/d/sub/f2", []byte("2"), "")
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.DeleteDir(context.Background(), "bucket/p/d"))

	for _, key := range []string{"p/d/", "p/d/f1", "p/d/sub/f2"} {
		_, ok := fake.object("bucket", key)
		assert.False(t, ok, "key %s should be gone", key)
	}
	// The parent marker is recreated so p does not vanish.
	_, ok := fake.object("bucket", "p/")
	assert.True(t, ok)
}

func TestDeleteDirRootAndBucketGating(t *testing.T) {
	fake := newFakeS3("bucket")
	fs := newTestFS(t, fake, Options{})

	err := fs.DeleteDir(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotImplemented))

	err = fs.DeleteDir(context.Background(), "bucket")
	require.Error(t, err, "bucket deletion is disabled by default")

	fs = newTestFS(t, fake, Options{AllowBucketDeletion: true})
	require.NoError(t, fs.DeleteDir(context.Background(), "bucket"))
	info, err := fs.GetFileInfo(context.Background(), "bucket")
	require.NoError(t, err)
	assert.Equal(t, FileTypeNotFound, info.Type)
}

func TestDeleteDirContentsBatches(t *testing.T) {
	fake := newFakeS3("bucket")
	for i := 0; i < 2500; i++ {
		fake.addObject("bucket", fmt.Sprintf("d/obj-%04d", i), []byte("x"), "")
	}
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.DeleteDirContents(context.Background(), "bucket/d", false))

	assert.Equal(t, []int{1000, 1000, 500}, fake.deleteBatchSizes)

	// The directory itself survives as a recreated marker.
	obj, ok := fake.object("bucket", "d/")
	require.True(t, ok)
	assert.Equal(t, directoryContentType, obj.contentType)

	infos, err := fs.ListInfo(context.Background(),
		FileSelector{BaseDir: "bucket/d", AllowNotFound: true})
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestDeleteDirContentsMissingDir(t *testing.T) {
	fake := newFakeS3("bucket")
	fs := newTestFS(t, fake, Options{})

	err := fs.DeleteDirContents(context.Background(), "bucket/absent", false)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, fs.DeleteDirContents(context.Background(), "bucket/absent", true))
	_, ok := fake.object("bucket", "absent/")
	assert.False(t, ok, "a missing directory must not be created")
}

func TestDeleteDirContentsAggregatesFailures(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "d/good", []byte("1"), "")
	fake.addObject("bucket", "d/locked", []byte("2"), "")
	fake.deleteFailures = map[string]string{"d/locked": "AccessDenied"}
	fs := newTestFS(t, fake, Options{})

	err := fs.DeleteDirContents(context.Background(), "bucket/d", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d/locked")
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestDeleteFile(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "d/f", []byte("x"), "")
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.DeleteFile(context.Background(), "bucket/d/f"))
	_, ok := fake.object("bucket", "d/f")
	assert.False(t, ok)
	// Parent marker recreated after the last child is removed.
	_, ok = fake.object("bucket", "d/")
	assert.True(t, ok)

	err := fs.DeleteFile(context.Background(), "bucket/d/f")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteFileRejectsDirectory(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "dir/", nil, directoryContentType)
	fs := newTestFS(t, fake, Options{})

	err := fs.DeleteFile(context.Background(), "bucket/dir")
	assert.True(t, errors.Is(err, ErrNotAFile))
}

func TestMoveFile(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "src/f", []byte("payload"), "")
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.Move(context.Background(), "bucket/src/f", "bucket/dst/f"))

	info, err := fs.GetFileInfo(context.Background(), "bucket/dst/f")
	require.NoError(t, err)
	assert.Equal(t, FileTypeFile, info.Type)

	info, err = fs.GetFileInfo(context.Background(), "bucket/src/f")
	require.NoError(t, err)
	assert.Equal(t, FileTypeNotFound, info.Type)
}

func TestMoveOntoItselfIsNoop(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "f", []byte("payload"), "")
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.Move(context.Background(), "bucket/f", "bucket/f"))

	obj, ok := fake.object("bucket", "f")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), obj.data)
}

func TestMoveDirectoryNotImplemented(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "dir/", nil, directoryContentType)
	fs := newTestFS(t, fake, Options{})

	err := fs.Move(context.Background(), "bucket/dir", "bucket/other")
	assert.True(t, errors.Is(err, ErrNotImplemented))
}

func TestCopyFile(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "orig", []byte("payload"), "")
	fs := newTestFS(t, fake, Options{})

	require.NoError(t, fs.CopyFile(context.Background(), "bucket/orig", "bucket/copy"))

	obj, ok := fake.object("bucket", "copy")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), obj.data)
	_, ok = fake.object("bucket", "orig")
	assert.True(t, ok, "copy must not delete the source")
}

func TestOpenInputFileReadsRanges(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "blob", []byte("0123456789"), "")
	fs := newTestFS(t, fake, Options{})

	f, err := fs.OpenInputFile(context.Background(), "bucket/blob")
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(10), f.Size())

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "3456", string(buf))

	// Reads past EOF truncate.
	n, err = f.ReadAt(buf, 8)
	assert.Equal(t, 2, n)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(buf[:n]))

	_, err = f.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
}

func TestOpenInputFileSequentialRead(t *testing.T) {
	fake := newFakeS3("bucket")
	payload := []byte("hello, nimbus")
	fake.addObject("bucket", "blob", payload, "")
	fs := newTestFS(t, fake, Options{})

	f, err := fs.OpenInputStream(context.Background(), "bucket/blob")
	require.NoError(t, err)
	defer f.Close()

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenInputFileWithInfoSkipsHead(t *testing.T) {
	fake := newFakeS3("bucket")
	fake.addObject("bucket", "blob", []byte("abcdef"), "")
	fs := newTestFS(t, fake, Options{})

	f, err := fs.OpenInputFileWithInfo(context.Background(),
		FileInfo{Path: "bucket/blob", Type: FileTypeFile, Size: 6})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(6), f.Size())
	assert.Empty(t, f.Metadata())
}

func TestOpenInputFileMissing(t *testing.T) {
	fs := newTestFS(t, newFakeS3("bucket"), Options{})

	_, err := fs.OpenInputFile(context.Background(), "bucket/absent")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestOpenAppendStreamNotImplemented(t *testing.T) {
	fs := newTestFS(t, newFakeS3("bucket"), Options{})

	_, err := fs.OpenAppendStream(context.Background(), "bucket/f")
	assert.True(t, errors.Is(err, ErrNotImplemented))
}

func TestRegion(t *testing.T) {
	fs := newTestFS(t, newFakeS3("bucket"), Options{})

	region, err := fs.Region(context.Background(), "bucket")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", region)
}
