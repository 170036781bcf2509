// Package pathbuilder normalizes slash separated paths below a fixed root.
package pathbuilder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned when a path climbs above its root.
var ErrInvalidPath = errors.New("invalid path")

// Builder accumulates path fragments on top of an immutable root.
type Builder struct {
	root  []string
	elems []string
	err   error
}

// From starts a builder rooted at base. The root is normalized itself, so
// "/a/b/" and "a/b" are the same root.
func From(base string) *Builder {
	b := &Builder{}
	b.apply(base, 0)
	b.root = b.elems
	b.elems = nil
	return b
}

// Resolve applies path to the builder. A leading '/' restarts at the root.
func (b *Builder) Resolve(path string) *Builder {
	if strings.HasPrefix(path, "/") {
		b.elems = nil
	}
	b.apply(path, len(b.root))
	return b
}

func (b *Builder) apply(path string, floor int) {
	if b.err != nil {
		return
	}
	full := b.full()
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimSpace(seg)
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(full) <= floor {
				b.err = fmt.Errorf("%w: %s escapes root", ErrInvalidPath, path)
				return
			}
			full = full[:len(full)-1]
		default:
			full = append(full, seg)
		}
	}
	b.elems = full[len(b.root):]
}

func (b *Builder) full() []string {
	full := make([]string, 0, len(b.root)+len(b.elems))
	full = append(full, b.root...)
	return append(full, b.elems...)
}

// Build joins the retained segments. The root alone builds to "".
func (b *Builder) Build() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return strings.Join(b.full(), "/"), nil
}

// BuildDir is Build with exactly one trailing separator. The root alone
// builds to "/".
func (b *Builder) BuildDir() (string, error) {
	p, err := b.Build()
	if err != nil {
		return "", err
	}
	return p + "/", nil
}

// Resolve normalizes fragments against current, both relative to root.
// The result includes the root segments.
func Resolve(root, current string, fragments ...string) (string, error) {
	b := From(root).Resolve(current)
	for _, f := range fragments {
		b.Resolve(f)
	}
	return b.Build()
}

// AtRoot reports whether the accumulated path is the root itself.
func (b *Builder) AtRoot() bool {
	return b.err == nil && len(b.elems) == 0
}

// Relative returns the accumulated segments below the root, joined by '/'.
func (b *Builder) Relative() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return strings.Join(b.elems, "/"), nil
}
