// Package metrics instruments backend calls and sessions with prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"s3ftp/pkg/object"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "s3ftp"

// Collector owns the server's metrics and their registry.
type Collector struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	uploaded prometheus.Counter
	sessions prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Object storage requests by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Object storage request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes sent to object storage by puts and part uploads.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Logged in FTP sessions.",
		}),
	}
	c.registry.MustRegister(c.requests, c.duration, c.uploaded, c.sessions)
	return c
}

func (c *Collector) SessionStarted() { c.sessions.Inc() }

func (c *Collector) SessionEnded() { c.sessions.Dec() }

// Handler serves the registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (c *Collector) observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case errors.Is(err, object.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	c.requests.WithLabelValues(op, result).Inc()
	c.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Wrap instruments every call made through st.
func (c *Collector) Wrap(st object.ObjectStorage) object.ObjectStorage {
	return &instrumented{next: st, c: c}
}

type instrumented struct {
	next object.ObjectStorage
	c    *Collector
}

func (i *instrumented) Init(ctx context.Context, param any) error {
	return i.next.Init(ctx, param)
}

func (i *instrumented) Close(ctx context.Context) error {
	return i.next.Close(ctx)
}

func (i *instrumented) Get(ctx context.Context, key string, rng *object.Range) (object.Object, io.ReadCloser, error) {
	start := time.Now()
	obj, rc, err := i.next.Get(ctx, key, rng)
	i.c.observe("get", start, err)
	return obj, rc, err
}

func (i *instrumented) List(ctx context.Context, opts object.ListOptions) (object.ListResult, error) {
	start := time.Now()
	res, err := i.next.List(ctx, opts)
	i.c.observe("list", start, err)
	return res, err
}

func (i *instrumented) Stat(ctx context.Context, key string) (object.Object, error) {
	start := time.Now()
	obj, err := i.next.Stat(ctx, key)
	i.c.observe("head", start, err)
	return obj, err
}

func (i *instrumented) Put(ctx context.Context, key string, r io.Reader, sizeHint int64, contentType string, meta map[string]string) (object.Object, error) {
	start := time.Now()
	obj, err := i.next.Put(ctx, key, r, sizeHint, contentType, meta)
	i.c.observe("put", start, err)
	if err == nil && sizeHint > 0 {
		i.c.uploaded.Add(float64(sizeHint))
	}
	return obj, err
}

func (i *instrumented) Copy(ctx context.Context, src, dst string) error {
	start := time.Now()
	err := i.next.Copy(ctx, src, dst)
	i.c.observe("copy", start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.c.observe("delete", start, err)
	return err
}

func (i *instrumented) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	start := time.Now()
	id, err := i.next.CreateMultipartUpload(ctx, key, contentType)
	i.c.observe("create_multipart", start, err)
	return id, err
}

func (i *instrumented) UploadPart(ctx context.Context, key, uploadID string, number int32, r io.Reader, size int64) (object.Part, error) {
	start := time.Now()
	part, err := i.next.UploadPart(ctx, key, uploadID, number, r, size)
	i.c.observe("upload_part", start, err)
	if err == nil && size > 0 {
		i.c.uploaded.Add(float64(size))
	}
	return part, err
}

func (i *instrumented) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []object.Part) (object.Object, error) {
	start := time.Now()
	obj, err := i.next.CompleteMultipartUpload(ctx, key, uploadID, parts)
	i.c.observe("complete_multipart", start, err)
	return obj, err
}
