package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"s3ftp/pkg/object"
)

const dirContentType = "application/x-directory"

// Entry is a file or directory key in the view's bucket. Metadata is
// fetched at most once per Entry and never refreshed, so entries should be
// created per operation and then dropped.
type Entry struct {
	s   *session
	key string

	exists  *bool
	size    int64
	modTime time.Time
}

// Key is the object key. Directory keys end with '/'.
func (e *Entry) Key() string { return e.key }

func (e *Entry) IsDirectory() bool { return strings.HasSuffix(e.key, "/") }

func (e *Entry) IsFile() bool { return !e.IsDirectory() }

// IsRoot reports whether the entry is the view's home directory.
func (e *Entry) IsRoot() bool { return e.key == e.s.home }

// Name is the last segment of the key. The root is named "/".
func (e *Entry) Name() string {
	if e.IsRoot() {
		return "/"
	}
	k := strings.TrimSuffix(e.key, "/")
	return k[strings.LastIndex(k, "/")+1:]
}

// PhysicalPath is the path handed to the authorizer: /<bucket>/<key>.
func (e *Entry) PhysicalPath() string {
	return "/" + e.s.bucket + "/" + strings.TrimPrefix(e.key, "/")
}

func (e *Entry) Owner() string { return e.s.principal.Name() }

func (e *Entry) Group() string { return e.s.bucket }

func (e *Entry) LinkCount() int {
	if e.IsDirectory() {
		return 3
	}
	return 1
}

// prefix is the listing prefix for a directory entry.
func (e *Entry) prefix() string {
	if e.key == "/" {
		return ""
	}
	return e.key
}

func (e *Entry) load(ctx context.Context) error {
	if e.exists != nil {
		return nil
	}

	if e.IsDirectory() {
		ok := true
		if !e.IsRoot() {
			var err error
			if ok, err = prefixExists(ctx, e.s.store, e.prefix()); err != nil {
				return fault("list", e.key, err)
			}
		}
		e.exists = &ok
		return nil
	}

	obj, err := e.s.store.Stat(ctx, e.key)
	if errors.Is(err, object.ErrNotFound) {
		ok := false
		e.exists = &ok
		return nil
	}
	if err != nil {
		return fault("head", e.key, err)
	}
	ok := true
	e.exists = &ok
	e.size = obj.Size
	e.modTime = obj.LastModified
	return nil
}

// Exists reports whether the key is present. A directory exists when any
// key shares its prefix; the root always exists.
func (e *Entry) Exists(ctx context.Context) (bool, error) {
	if err := e.load(ctx); err != nil {
		return false, err
	}
	return *e.exists, nil
}

// Size is the object size; directories report 0.
func (e *Entry) Size(ctx context.Context) (int64, error) {
	if err := e.load(ctx); err != nil {
		return 0, err
	}
	return e.size, nil
}

// LastModified is zero for directories not seen in a listing.
func (e *Entry) LastModified(ctx context.Context) (time.Time, error) {
	if err := e.load(ctx); err != nil {
		return time.Time{}, err
	}
	return e.modTime, nil
}

func (e *Entry) IsReadable(ctx context.Context) bool {
	ok, err := e.Exists(ctx)
	if err != nil {
		log.Printf("[vfs] readable %s: %v", e.PhysicalPath(), err)
		return false
	}
	return ok && e.s.principal.Authorize(e.PhysicalPath(), IntentRead)
}

func (e *Entry) IsWritable() bool {
	return e.s.principal.Authorize(e.PhysicalPath(), IntentWrite)
}

// IsRemovable is false for the root and for unwritable entries. A directory
// is removable only when nothing but its own marker lives under it.
func (e *Entry) IsRemovable(ctx context.Context) bool {
	if e.IsRoot() || !e.IsWritable() {
		return false
	}
	if e.IsFile() {
		return true
	}

	res, err := e.s.store.List(ctx, object.ListOptions{Prefix: e.prefix(), MaxKeys: 2})
	if err != nil {
		log.Printf("[vfs] removable %s: %v", e.PhysicalPath(), err)
		return false
	}
	if len(res.CommonPrefixes) > 0 {
		return false
	}
	for _, o := range res.Objects {
		if o.Key != e.key {
			return false
		}
	}
	return true
}

// Mkdir writes the zero byte marker for a directory key.
func (e *Entry) Mkdir(ctx context.Context) bool {
	if !e.IsDirectory() || e.IsRoot() {
		return false
	}
	if _, err := e.s.store.Put(ctx, e.key, bytes.NewReader(nil), 0, dirContentType, nil); err != nil {
		log.Printf("[vfs] mkdir %s: %v", e.PhysicalPath(), err)
		return false
	}
	ok := true
	e.exists = &ok
	return true
}

// Delete removes the key if IsRemovable allows it.
func (e *Entry) Delete(ctx context.Context) bool {
	if !e.IsRemovable(ctx) {
		return false
	}
	if err := e.s.store.Delete(ctx, e.key); err != nil {
		log.Printf("[vfs] delete %s: %v", e.PhysicalPath(), err)
		return false
	}
	ok := false
	e.exists = &ok
	return true
}

// Move copies the object to dst, confirms dst with a HEAD and deletes the
// source. A failure after the copy leaves both keys in place.
func (e *Entry) Move(ctx context.Context, dst *Entry) bool {
	if !dst.IsWritable() || !e.IsWritable() {
		return false
	}
	if e.IsDirectory() || dst.IsDirectory() {
		log.Printf("[vfs] move %s -> %s: directories cannot be moved", e.PhysicalPath(), dst.PhysicalPath())
		return false
	}
	if e.key == dst.key {
		return true
	}

	if err := e.s.store.Copy(ctx, e.key, dst.key); err != nil {
		log.Printf("[vfs] move %s -> %s: copy: %v", e.PhysicalPath(), dst.PhysicalPath(), err)
		return false
	}
	obj, err := e.s.store.Stat(ctx, dst.key)
	if err != nil {
		log.Printf("[vfs] move %s -> %s: verify: %v", e.PhysicalPath(), dst.PhysicalPath(), err)
		return false
	}
	if err := e.s.store.Delete(ctx, e.key); err != nil {
		log.Printf("[vfs] move %s -> %s: delete source: %v", e.PhysicalPath(), dst.PhysicalPath(), err)
		return false
	}

	gone, there := false, true
	e.exists = &gone
	dst.exists, dst.size, dst.modTime = &there, obj.Size, obj.LastModified
	return true
}

// ListFiles returns the directory's subdirectories followed by its files.
// The directory's own marker, when present, is among the files.
func (e *Entry) ListFiles(ctx context.Context) ([]*Entry, error) {
	if !e.IsDirectory() {
		return nil, fmt.Errorf("list %s: %w", e.key, ErrUnsupported)
	}

	res, err := e.s.store.List(ctx, object.ListOptions{
		Prefix:    e.prefix(),
		Delimiter: "/",
		MaxKeys:   e.s.opts.MaxListKeys,
	})
	if err != nil {
		return nil, fault("list", e.key, err)
	}
	if res.Truncated {
		log.Printf("[vfs] list %s: truncated at %d keys", e.PhysicalPath(), e.s.opts.MaxListKeys)
	}

	entries := make([]*Entry, 0, len(res.CommonPrefixes)+len(res.Objects))
	for _, p := range res.CommonPrefixes {
		entries = append(entries, e.s.listed(p, 0, time.Time{}))
	}
	for _, o := range res.Objects {
		entries = append(entries, e.s.listed(o.Key, o.Size, o.LastModified))
	}
	return entries, nil
}

// OpenReader streams the object from offset to its end. An offset at or
// past the end yields an empty stream.
func (e *Entry) OpenReader(ctx context.Context, offset int64) (io.ReadCloser, error) {
	if e.IsDirectory() {
		return nil, fmt.Errorf("read %s: %w", e.key, ErrUnsupported)
	}

	var rng *object.Range
	if offset > 0 {
		rng = &object.Range{Start: offset, End: -1}
	}
	_, rc, err := e.s.store.Get(ctx, e.key, rng)
	if errors.Is(err, object.ErrInvalidRange) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if err != nil {
		return nil, fault("get", e.key, err)
	}
	return rc, nil
}

// OpenWriter starts an upload that replaces the object. A non-zero offset
// keeps the first offset bytes of the current object.
func (e *Entry) OpenWriter(ctx context.Context, offset int64) (*Writer, error) {
	if e.IsDirectory() {
		return nil, fmt.Errorf("write %s: %w", e.key, ErrUnsupported)
	}
	return newWriter(ctx, e.s.store, e.key, offset, e.s.opts)
}
