package vfs

import (
	"fmt"
	"strings"

	"s3ftp/pkg/pathbuilder"
)

// Home locates a user's root: a named store, a bucket and a key prefix.
type Home struct {
	Store  string
	Bucket string
	Path   string
}

// ParseHome parses "store:bucket" or "store:bucket/some/path".
func ParseHome(home string) (Home, error) {
	store, rest, ok := strings.Cut(home, ":")
	if !ok || strings.Contains(rest, ":") {
		return Home{}, fmt.Errorf("%w: %q", ErrInvalidHome, home)
	}

	h := Home{Store: strings.TrimSpace(store)}
	rest = strings.TrimSpace(rest)
	bucket, path, _ := strings.Cut(rest, "/")
	h.Bucket = strings.TrimSpace(bucket)
	if h.Store == "" || h.Bucket == "" {
		return Home{}, fmt.Errorf("%w: %q", ErrInvalidHome, home)
	}

	p, err := pathbuilder.From(path).Build()
	if err != nil {
		return Home{}, fmt.Errorf("%w: %q: %w", ErrInvalidHome, home, err)
	}
	h.Path = p
	return h, nil
}

func (h Home) String() string {
	if h.Path == "" {
		return h.Store + ":" + h.Bucket
	}
	return h.Store + ":" + h.Bucket + "/" + h.Path
}
