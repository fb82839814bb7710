// Package output provides JSONL output for listing and transfer results.
//
// Output is structured as typed record envelopes containing entries,
// errors, and summaries. Each line is a self-contained JSON object
// that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/nimbusfs/pkg/s3fs"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: nimbusfs.<type>.v<version>
const (
	// TypeEntry identifies filesystem entry records.
	TypeEntry = "nimbusfs.entry.v1"

	// TypeError identifies error records.
	TypeError = "nimbusfs.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "nimbusfs.summary.v1"

	// TypeDirSummary identifies per-directory rollup records.
	TypeDirSummary = "nimbusfs.dirsummary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "nimbusfs.entry.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this invocation.
	JobID string `json:"job_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// EntryRecord is the data payload for a single filesystem entry.
type EntryRecord struct {
	// Path is the canonical "bucket/key" form.
	Path string `json:"path"`

	// Kind is the entry classification: file, directory, or not-found.
	Kind string `json:"kind"`

	// Size is the object size in bytes; -1 when unknown.
	Size int64 `json:"size"`

	// MTime is the last-modified time, when the backend reports one.
	MTime *time.Time `json:"mtime,omitempty"`

	// ETag is the entity tag with surrounding quotes removed.
	ETag string `json:"etag,omitempty"`

	// VersionID is the object version, when versioning is enabled.
	VersionID string `json:"version_id,omitempty"`
}

// EntryFromInfo converts a listing entry into its output record.
func EntryFromInfo(info s3fs.FileInfo) *EntryRecord {
	rec := &EntryRecord{
		Path:      info.Path,
		Kind:      info.Type.String(),
		Size:      info.Size,
		ETag:      info.ETag,
		VersionID: info.VersionID,
	}
	if !info.MTime.IsZero() {
		t := info.MTime.UTC()
		rec.MTime = &t
	}
	return rec
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// allowing partial results when some operations fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the entry path related to this error, if applicable.
	Path string `json:"path,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the object or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a run with aggregate
// statistics.
type SummaryRecord struct {
	// EntriesFound is the total number of entries seen.
	EntriesFound int64 `json:"entries_found"`

	// EntriesMatched is the number of entries passing filters.
	EntriesMatched int64 `json:"entries_matched"`

	// BytesTotal is the cumulative size of matched files in bytes.
	BytesTotal int64 `json:"bytes_total"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Errors is the count of errors encountered.
	Errors int64 `json:"errors"`

	// Base is the path the run operated on.
	Base string `json:"base,omitempty"`
}

// DirSummaryRecord is the data payload for one directory rollup in a
// tree traversal.
type DirSummaryRecord struct {
	// Path is the directory path in "bucket/key" form.
	Path string `json:"path"`

	// Depth is the distance from the traversal root.
	Depth int `json:"depth"`

	// Files is the number of files directly under the directory.
	Files int64 `json:"files"`

	// Bytes is the cumulative size of those files.
	Bytes int64 `json:"bytes"`

	// Dirs is the number of immediate subdirectories.
	Dirs int64 `json:"dirs"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
