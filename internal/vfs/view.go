// Package vfs presents a bucket of an object store as a hierarchical,
// per-session filesystem.
package vfs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"s3ftp/pkg/object"
	"s3ftp/pkg/pathbuilder"
)

// session is the state shared by a view and every entry it hands out.
type session struct {
	store     object.ObjectStorage
	bucket    string
	home      string // directory key of the root
	principal Principal
	opts      Options
}

func (s *session) entry(key string) *Entry {
	return &Entry{s: s, key: key}
}

func (s *session) listed(key string, size int64, modTime time.Time) *Entry {
	ok := true
	return &Entry{s: s, key: key, exists: &ok, size: size, modTime: modTime}
}

// View holds a session's root and working directory.
type View struct {
	s    *session
	root string

	mu       sync.Mutex
	cwd      string // relative to root
	disposed bool
}

// NewView roots a view at root inside bucket. The view owns store and closes
// it on Dispose.
func NewView(store object.ObjectStorage, bucket, root string, principal Principal, opts Options) (*View, error) {
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	b := pathbuilder.From(root)
	r, err := b.Build()
	if err != nil {
		return nil, err
	}
	home, _ := b.BuildDir()

	return &View{
		s: &session{
			store:     store,
			bucket:    bucket,
			home:      home,
			principal: principal,
			opts:      opts,
		},
		root: r,
	}, nil
}

// Home returns the root directory.
func (v *View) Home() *Entry {
	return v.s.entry(v.s.home)
}

// WorkingDirectory returns the current directory.
func (v *View) WorkingDirectory() *Entry {
	v.mu.Lock()
	cwd := v.cwd
	v.mu.Unlock()

	key, _ := pathbuilder.From(v.root).Resolve(cwd).BuildDir()
	return v.s.entry(key)
}

func (v *View) builder(target string) *pathbuilder.Builder {
	v.mu.Lock()
	cwd := v.cwd
	v.mu.Unlock()
	return pathbuilder.From(v.root).Resolve(cwd).Resolve(target)
}

// ChangeWorkingDirectory moves the working directory to target when it
// resolves to the root or to a prefix holding at least one key. It reports
// failure by returning false and leaves the working directory untouched.
func (v *View) ChangeWorkingDirectory(ctx context.Context, target string) bool {
	if v.isDisposed() {
		return false
	}
	b := v.builder(target)
	rel, err := b.Relative()
	if err != nil {
		return false
	}
	if !b.AtRoot() && !v.probe(ctx, b) {
		return false
	}

	v.mu.Lock()
	v.cwd = rel
	v.mu.Unlock()
	return true
}

// DirectoryExists reports whether path names a directory, without moving
// the working directory.
func (v *View) DirectoryExists(ctx context.Context, path string) bool {
	if v.isDisposed() {
		return false
	}
	b := v.builder(path)
	if _, err := b.Build(); err != nil {
		return false
	}
	return b.AtRoot() || v.probe(ctx, b)
}

func (v *View) probe(ctx context.Context, b *pathbuilder.Builder) bool {
	prefix, err := b.BuildDir()
	if err != nil {
		return false
	}
	ok, err := prefixExists(ctx, v.s.store, prefix)
	if err != nil {
		log.Printf("[vfs] probe %s/%s: %v", v.s.bucket, prefix, err)
		return false
	}
	return ok
}

// File resolves name against the working directory. A trailing '/' or a
// final dot segment yields a directory entry. Existence is not checked.
func (v *View) File(name string) (*Entry, error) {
	if v.isDisposed() {
		return nil, ErrClosed
	}
	b := v.builder(name)

	var (
		key string
		err error
	)
	if b.AtRoot() || dirForm(name) {
		key, err = b.BuildDir()
	} else {
		key, err = b.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", name, err)
	}
	return v.s.entry(key), nil
}

func dirForm(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || strings.HasSuffix(name, "/") {
		return true
	}
	last := name[strings.LastIndex(name, "/")+1:]
	last = strings.TrimSpace(last)
	return last == "." || last == ".."
}

// Dispose closes the backend client. Only the first call reaches the
// backend; the view is unusable afterwards.
func (v *View) Dispose() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed {
		return nil
	}
	v.disposed = true
	return v.s.store.Close(context.Background())
}

func (v *View) isDisposed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disposed
}

// Bucket returns the bucket the view is bound to.
func (v *View) Bucket() string { return v.s.bucket }

func prefixExists(ctx context.Context, store object.ObjectStorage, prefix string) (bool, error) {
	if prefix == "/" {
		prefix = ""
	}
	res, err := store.List(ctx, object.ListOptions{Prefix: prefix, MaxKeys: 1})
	if err != nil {
		return false, err
	}
	return len(res.Objects)+len(res.CommonPrefixes) > 0, nil
}
