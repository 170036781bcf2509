package vfs

import (
	"fmt"

	"s3ftp/pkg/object"
)

// Options tune how a view talks to its backend. Zero fields take defaults,
// except MaxAppendOffset where zero allows no resume offset at all.
type Options struct {
	// BufferSize is the capacity of each writer's buffer and the size of
	// every non-final multipart part.
	BufferSize int
	// MinPartSize is the backend's minimum size for non-final parts.
	MinPartSize int64
	// MaxListKeys caps a single directory listing.
	MaxListKeys int32
	// MaxAppendOffset is the largest offset a writer may resume from.
	MaxAppendOffset int64
}

const (
	DefaultBufferSize      = 10 << 20
	DefaultMaxListKeys     = 10000
	DefaultMaxAppendOffset = 20 << 20
)

func (o Options) withDefaults() Options {
	if o.BufferSize == 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.MinPartSize == 0 {
		o.MinPartSize = object.MinPartSize
	}
	if o.MaxListKeys == 0 {
		o.MaxListKeys = DefaultMaxListKeys
	}
	return o
}

// Validate applies defaults and checks the buffer can hold a full part.
func (o Options) Validate() (Options, error) {
	o = o.withDefaults()
	if o.MinPartSize < 0 || o.MaxListKeys < 0 || o.MaxAppendOffset < 0 {
		return o, fmt.Errorf("vfs: negative option in %+v", o)
	}
	if int64(o.BufferSize) < o.MinPartSize {
		return o, fmt.Errorf("vfs: buffer size %d below minimum part size %d", o.BufferSize, o.MinPartSize)
	}
	return o, nil
}
