package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/pkg/output"
	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

// ObjectStore is the filesystem surface the gateway handlers need.
// *s3fs.FileSystem satisfies it through FSStore.
type ObjectStore interface {
	Stat(ctx context.Context, path string) (s3fs.FileInfo, error)
	List(ctx context.Context, sel s3fs.FileSelector) ([]s3fs.FileInfo, error)
	Open(ctx context.Context, info s3fs.FileInfo) (io.ReadCloser, error)
	Create(ctx context.Context, path string, metadata map[string]string) (io.WriteCloser, error)
	Delete(ctx context.Context, path string) error
}

// FSStore adapts *s3fs.FileSystem to the ObjectStore interface.
type FSStore struct {
	FS *s3fs.FileSystem
}

func (s FSStore) Stat(ctx context.Context, path string) (s3fs.FileInfo, error) {
	return s.FS.GetFileInfo(ctx, path)
}

func (s FSStore) List(ctx context.Context, sel s3fs.FileSelector) ([]s3fs.FileInfo, error) {
	return s.FS.ListInfo(ctx, sel)
}

func (s FSStore) Open(ctx context.Context, info s3fs.FileInfo) (io.ReadCloser, error) {
	return s.FS.OpenInputFileWithInfo(ctx, info)
}

func (s FSStore) Create(ctx context.Context, path string, metadata map[string]string) (io.WriteCloser, error) {
	return s.FS.OpenOutputStream(ctx, path, metadata)
}

func (s FSStore) Delete(ctx context.Context, path string) error {
	return s.FS.DeleteFile(ctx, path)
}

// Objects serves the object and listing routes.
type Objects struct {
	Store ObjectStore
	Log   *zap.Logger
}

func objectPath(r *http.Request) string {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")
	if key == "" {
		return bucket
	}
	return bucket + "/" + key
}

// Get streams an object body.
func (h *Objects) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := objectPath(r)

	info, err := h.Store.Stat(ctx, path)
	if err != nil {
		WriteFSError(w, err)
		return
	}
	if info.Type == s3fs.FileTypeNotFound {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "no such object: "+path)
		return
	}
	if !info.IsFile() {
		WriteError(w, http.StatusConflict, "NOT_A_FILE", path+" is a directory")
		return
	}

	in, err := h.Store.Open(ctx, info)
	if err != nil {
		WriteFSError(w, err)
		return
	}
	defer func() { _ = in.Close() }()

	setObjectHeaders(w, info)
	if _, err := io.Copy(w, in); err != nil {
		// Headers are gone; all we can do is log.
		h.Log.Warn("object stream aborted", zap.String("path", path), zap.Error(err))
	}
}

// Head reports object metadata without a body.
func (h *Objects) Head(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := objectPath(r)

	info, err := h.Store.Stat(ctx, path)
	if err != nil {
		WriteFSError(w, err)
		return
	}
	if info.Type == s3fs.FileTypeNotFound {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !info.IsFile() {
		w.WriteHeader(http.StatusConflict)
		return
	}

	setObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

// Put uploads an object from the request body.
func (h *Objects) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := objectPath(r)

	metadata := map[string]string{}
	for _, header := range []string{"Content-Type", "Cache-Control", "Content-Language"} {
		if v := r.Header.Get(header); v != "" {
			metadata[header] = v
		}
	}

	out, err := h.Store.Create(ctx, path, metadata)
	if err != nil {
		WriteFSError(w, err)
		return
	}

	written, err := io.Copy(out, r.Body)
	if err != nil {
		if a, ok := out.(interface{ Abort() error }); ok {
			_ = a.Abort()
		} else {
			_ = out.Close()
		}
		WriteError(w, http.StatusBadRequest, "UPLOAD_ABORTED", err.Error())
		return
	}
	if err := out.Close(); err != nil {
		WriteFSError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"path":  path,
		"bytes": written,
	})
}

// Delete removes an object.
func (h *Objects) Delete(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)
	if err := h.Store.Delete(r.Context(), path); err != nil {
		WriteFSError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns the entries under a bucket or prefix as JSON.
func (h *Objects) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := chi.URLParam(r, "bucket")

	base := bucket
	if prefix := strings.Trim(r.URL.Query().Get("prefix"), "/"); prefix != "" {
		base = bucket + "/" + prefix
	}

	sel := s3fs.FileSelector{
		BaseDir:       base,
		Recursive:     r.URL.Query().Get("recursive") == "true",
		AllowNotFound: r.URL.Query().Get("allow_not_found") == "true",
	}
	if depth := r.URL.Query().Get("depth"); depth != "" {
		n, err := strconv.Atoi(depth)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid depth: "+depth)
			return
		}
		sel.MaxRecursion = n
	}

	infos, err := h.Store.List(ctx, sel)
	if err != nil {
		WriteFSError(w, err)
		return
	}

	entries := make([]*output.EntryRecord, len(infos))
	for i, info := range infos {
		entries[i] = output.EntryFromInfo(info)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"base":    base,
		"count":   len(entries),
		"entries": entries,
	})
}

func setObjectHeaders(w http.ResponseWriter, info s3fs.FileInfo) {
	if info.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.MTime.IsZero() {
		w.Header().Set("Last-Modified", info.MTime.UTC().Format(http.TimeFormat))
	}
}
