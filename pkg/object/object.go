// Package object contains the object storage interface.
// Implementations include S3-compatible services and SQLite.
package object

import (
	"context"
	"errors"
	"io"
	"time"
)

// MinPartSize is the smallest part S3 accepts for any multipart part but the last.
const MinPartSize = 5 << 20

// Object holds metadata about a stored item.
type Object struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	CustomMeta   map[string]string
}

// Range represents a byte range [Start, End] inclusive.
// If End < 0 the range is open-ended.
type Range struct {
	Start int64
	End   int64
}

// ListOptions narrows a listing. An empty Delimiter lists recursively.
type ListOptions struct {
	Prefix    string
	Delimiter string
	MaxKeys   int32
}

// ListResult is one page of a listing. CommonPrefixes end with the delimiter.
type ListResult struct {
	Objects        []Object
	CommonPrefixes []string
	Truncated      bool
}

// Part identifies an uploaded part of a multipart upload.
type Part struct {
	Number int32
	ETag   string
}

// Common errors returned by implementations.
var (
	ErrNotFound     = errors.New("object not found")
	ErrConflict     = errors.New("object already exists")
	ErrInvalidRange = errors.New("requested range not satisfiable")
)

// Lifecycle defines init/teardown behavior.
type Lifecycle interface {
	Init(ctx context.Context, param any) error
	Close(ctx context.Context) error
}

// Reader exposes read-related operations.
type Reader interface {
	// Get returns object metadata and a stream the caller must close.
	Get(ctx context.Context, key string, rng *Range) (Object, io.ReadCloser, error)
	// List returns at most opts.MaxKeys keys and common prefixes under opts.Prefix.
	List(ctx context.Context, opts ListOptions) (ListResult, error)
}

// Writer exposes write-related operations.
type Writer interface {
	// Put uploads content and returns stored metadata.
	Put(ctx context.Context, key string, r io.Reader, sizeHint int64, contentType string, meta map[string]string) (Object, error)
	// Copy duplicates src into dst within the same bucket.
	Copy(ctx context.Context, src, dst string) error
}

// Multipart exposes the chunked upload protocol.
type Multipart interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, number int32, r io.Reader, size int64) (Part, error)
	// CompleteMultipartUpload assembles parts, which must be in ascending order.
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) (Object, error)
}

// Deleter exposes delete behavior.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// ObjectStorage aggregates the full contract for object backends.
type ObjectStorage interface {
	Lifecycle
	Reader
	Writer
	Multipart
	Deleter
	// Stat returns metadata without streaming the body.
	Stat(ctx context.Context, key string) (Object, error)
}
