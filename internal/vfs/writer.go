package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sync"

	"s3ftp/pkg/object"
)

// Writer buffers an upload in memory. Bytes go out as a single put on
// Close unless they outgrow the buffer, in which case every full buffer
// becomes one part of a multipart upload.
//
// A Writer abandoned without Close leaves its multipart upload open.
type Writer struct {
	ctx         context.Context
	store       object.ObjectStorage
	key         string
	contentType string
	minPart     int64

	mu       sync.Mutex
	buf      []byte
	offset   int64 // pending append offset, cleared by the first write
	uploadID string
	next     int32
	parts    []object.Part
	closed   bool
	err      error
}

func newWriter(ctx context.Context, store object.ObjectStorage, key string, offset int64, opts Options) (*Writer, error) {
	if offset < 0 {
		return nil, fmt.Errorf("write %s: negative offset %d", key, offset)
	}
	if offset > opts.MaxAppendOffset {
		return nil, fmt.Errorf("write %s at %d, limit %d: %w", key, offset, opts.MaxAppendOffset, ErrOffsetTooLarge)
	}
	return &Writer{
		ctx:         ctx,
		store:       store,
		key:         key,
		contentType: mime.TypeByExtension(path.Ext(key)),
		minPart:     opts.MinPartSize,
		buf:         make([]byte, 0, opts.BufferSize),
		offset:      offset,
	}, nil
}

// Write buffers p. The first write of an append stream copies the kept
// prefix of the current object in ahead of p.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.err != nil {
		return 0, w.err
	}
	if err := w.resolveOffset(); err != nil {
		return 0, err
	}
	if err := w.buffer(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush uploads the buffer as a part once it is larger than the minimum
// part size. Smaller buffers stay put.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	if int64(len(w.buf)) <= w.minPart {
		return nil
	}
	return w.fail(w.uploadPart())
}

// Close writes the object. Later calls do nothing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	if err := w.resolveOffset(); err != nil {
		return err
	}

	if w.uploadID == "" {
		if _, err := w.store.Put(w.ctx, w.key, bytes.NewReader(w.buf), int64(len(w.buf)), w.contentType, nil); err != nil {
			return w.fail(fault("put", w.key, err))
		}
		w.buf = w.buf[:0]
		return nil
	}

	if len(w.buf) > 0 {
		if err := w.uploadPart(); err != nil {
			return w.fail(err)
		}
	}
	if _, err := w.store.CompleteMultipartUpload(w.ctx, w.key, w.uploadID, w.parts); err != nil {
		return w.fail(fault("complete upload", w.key, err))
	}
	return nil
}

// resolveOffset copies bytes [0, offset) of the current object through the
// buffer, once.
func (w *Writer) resolveOffset() error {
	if w.offset == 0 {
		return nil
	}
	off := w.offset
	w.offset = 0

	_, rc, err := w.store.Get(w.ctx, w.key, &object.Range{Start: 0, End: off - 1})
	if errors.Is(err, object.ErrInvalidRange) {
		return w.fail(fmt.Errorf("append %s at %d: %w", w.key, off, ErrOffsetTooLarge))
	}
	if err != nil {
		return w.fail(fault("append", w.key, err))
	}
	defer rc.Close()

	n, err := io.Copy(bufferSink{w}, io.LimitReader(rc, off))
	if err != nil {
		if errors.Is(err, ErrBackend) {
			return w.fail(err)
		}
		return w.fail(fault("append", w.key, err))
	}
	if n < off {
		return w.fail(fmt.Errorf("append %s at %d, object has %d bytes: %w", w.key, off, n, ErrOffsetTooLarge))
	}
	return nil
}

type bufferSink struct{ w *Writer }

func (s bufferSink) Write(p []byte) (int, error) {
	if err := s.w.buffer(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// buffer appends p, uploading the buffer as a part each time it is full
// and more bytes are waiting.
func (w *Writer) buffer(p []byte) error {
	for len(p) > 0 {
		if len(w.buf) == cap(w.buf) {
			if err := w.uploadPart(); err != nil {
				return w.fail(err)
			}
		}
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
	}
	return nil
}

func (w *Writer) uploadPart() error {
	if w.uploadID == "" {
		id, err := w.store.CreateMultipartUpload(w.ctx, w.key, w.contentType)
		if err != nil {
			return fault("create upload", w.key, err)
		}
		w.uploadID = id
	}

	w.next++
	part, err := w.store.UploadPart(w.ctx, w.key, w.uploadID, w.next, bytes.NewReader(w.buf), int64(len(w.buf)))
	if err != nil {
		return fault(fmt.Sprintf("upload part %d", w.next), w.key, err)
	}
	w.parts = append(w.parts, part)
	w.buf = w.buf[:0]
	return nil
}

// fail records err so that later calls report it instead of writing a
// corrupted object.
func (w *Writer) fail(err error) error {
	if err != nil && w.err == nil {
		w.err = err
	}
	return err
}
