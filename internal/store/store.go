// Package store opens object storage clients for named stores.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"

	"s3ftp/pkg/object"
	"s3ftp/pkg/s3store"
	"s3ftp/pkg/sqlite"
)

const (
	DriverS3     = "s3"
	DriverSQLite = "sqlite"
)

var ErrUnknownStore = errors.New("store: unknown store")

// Config describes one store.
type Config struct {
	Driver    string `yaml:"driver"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	// PathStyle defaults to true; most self-hosted S3 services need it.
	PathStyle *bool `yaml:"path_style"`
	// Source is the sqlite DSN for the sqlite driver.
	Source string `yaml:"source"`
}

func (c Config) pathStyle() bool {
	return c.PathStyle == nil || *c.PathStyle
}

func (c Config) validate() error {
	switch c.Driver {
	case DriverS3:
		if (c.AccessKey == "") != (c.SecretKey == "") {
			return errors.New("access_key and secret_key must be set together")
		}
	case DriverSQLite:
		if c.Source == "" {
			return errors.New("source is required")
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	return nil
}

// Registry opens a fresh client per call, so every session owns its client.
type Registry struct {
	stores     map[string]Config
	instrument func(object.ObjectStorage) object.ObjectStorage
}

// Option configures a Registry.
type Option func(*Registry)

// WithInstrument wraps every opened client with fn.
func WithInstrument(fn func(object.ObjectStorage) object.ObjectStorage) Option {
	return func(r *Registry) { r.instrument = fn }
}

// New validates stores. A store without a driver is an s3 store.
func New(stores map[string]Config, opts ...Option) (*Registry, error) {
	r := &Registry{stores: make(map[string]Config, len(stores))}
	for name, c := range stores {
		if c.Driver == "" {
			c.Driver = DriverS3
		}
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		r.stores[name] = c
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Names lists configured stores in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Open returns a client for bucket in the named store.
func (r *Registry) Open(ctx context.Context, name, bucket string) (object.ObjectStorage, error) {
	c, ok := r.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}

	var (
		st  object.ObjectStorage
		cfg any
	)
	switch c.Driver {
	case DriverSQLite:
		st = &sqlite.Storage{}
		cfg = sqlite.Config{
			Source:         c.Source,
			Table:          tableFor(bucket),
			AllowOverwrite: true,
			MinPartSize:    object.MinPartSize,
		}
	default:
		st = &s3store.Storage{}
		cfg = s3store.Config{
			Endpoint:        c.Endpoint,
			AccessKey:       c.AccessKey,
			SecretAccessKey: c.SecretKey,
			Region:          c.Region,
			Bucket:          bucket,
			PathStyle:       c.pathStyle(),
		}
	}

	if err := st.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}
	log.Printf("[store] opened %s (%s) bucket %s", name, c.Driver, bucket)

	if r.instrument != nil {
		st = r.instrument(st)
	}
	return st, nil
}

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)

// tableFor maps a bucket name onto a sqlite table name.
func tableFor(bucket string) string {
	return "bucket_" + strings.ToLower(nonIdent.ReplaceAllString(bucket, "_"))
}
