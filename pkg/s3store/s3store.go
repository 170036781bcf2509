// Package s3store implements Object interface for S3-compatible services.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"s3ftp/pkg/object"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

const defaultRegion = "us-east-1"

// Config holds connection details for one bucket.
type Config struct {
	Endpoint        string
	AccessKey       string
	SecretAccessKey string
	Region          string
	Bucket          string
	PathStyle       bool
}

// Storage implements object.ObjectStorage for a single bucket.
type Storage struct {
	client *s3.Client
	bucket string
}

// Init bootstraps the S3 client using static credentials when given, or the
// default credential chain otherwise.
func (s *Storage) Init(ctx context.Context, param any) error {
	cfg, ok := param.(Config)
	if !ok {
		if p, ok := param.(*Config); ok && p != nil {
			cfg = *p
		} else {
			return fmt.Errorf("s3store: unexpected config type %T", param)
		}
	}

	if cfg.Bucket == "" {
		return errors.New("s3store: Bucket is required")
	}
	if (cfg.AccessKey == "") != (cfg.SecretAccessKey == "") {
		return errors.New("s3store: AccessKey and SecretAccessKey must be set together")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("s3store: load config: %w", err)
	}

	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	s.bucket = cfg.Bucket
	return nil
}

// Close cleans up resources; the SDK client holds nothing to release.
func (s *Storage) Close(_ context.Context) error {
	s.client = nil
	return nil
}

// Put uploads the full object body.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, sizeHint int64, contentType string, meta map[string]string) (object.Object, error) {
	if err := s.ensureClient(); err != nil {
		return object.Object{}, err
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: cloneMeta(meta),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if sizeHint >= 0 {
		input.ContentLength = aws.Int64(sizeHint)
	}

	resp, err := s.client.PutObject(ctx, input)
	if err != nil {
		return object.Object{}, mapError(err)
	}

	obj := object.Object{
		Key:         key,
		ETag:        aws.ToString(resp.ETag),
		ContentType: contentType,
		CustomMeta:  cloneMeta(meta),
	}
	if sizeHint >= 0 {
		obj.Size = sizeHint
	}
	return obj, nil
}

// Copy duplicates src into dst within the bucket.
func (s *Storage) Copy(ctx context.Context, src, dst string) error {
	if err := s.ensureClient(); err != nil {
		return err
	}

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(copySource(s.bucket, src)),
	})
	return mapError(err)
}

// Get fetches metadata plus a streaming reader.
func (s *Storage) Get(ctx context.Context, key string, rng *object.Range) (object.Object, io.ReadCloser, error) {
	if err := s.ensureClient(); err != nil {
		return object.Object{}, nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rng != nil && (rng.Start > 0 || rng.End >= 0) {
		input.Range = aws.String(rangeHeader(*rng))
	}

	resp, err := s.client.GetObject(ctx, input)
	if err != nil {
		return object.Object{}, nil, mapError(err)
	}

	return responseToObject(key, resp), resp.Body, nil
}

// List returns one page of keys and common prefixes.
func (s *Storage) List(ctx context.Context, opts object.ListOptions) (object.ListResult, error) {
	if err := s.ensureClient(); err != nil {
		return object.ListResult{}, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(opts.MaxKeys)
	}

	resp, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return object.ListResult{}, mapError(err)
	}

	result := object.ListResult{Truncated: aws.ToBool(resp.IsTruncated)}
	for _, o := range resp.Contents {
		result.Objects = append(result.Objects, object.Object{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			ETag:         aws.ToString(o.ETag),
			LastModified: aws.ToTime(o.LastModified),
		})
	}
	for _, p := range resp.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(p.Prefix))
	}
	return result, nil
}

// Stat returns metadata only.
func (s *Storage) Stat(ctx context.Context, key string) (object.Object, error) {
	if err := s.ensureClient(); err != nil {
		return object.Object{}, err
	}

	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return object.Object{}, mapError(err)
	}

	return headToObject(key, resp), nil
}

// Delete removes an object.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.ensureClient(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return mapError(err)
}

// CreateMultipartUpload starts an upload and returns its id.
func (s *Storage) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if err := s.ensureClient(); err != nil {
		return "", err
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	resp, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", mapError(err)
	}
	return aws.ToString(resp.UploadId), nil
}

// UploadPart uploads one part of size bytes read from r.
func (s *Storage) UploadPart(ctx context.Context, key, uploadID string, number int32, r io.Reader, size int64) (object.Part, error) {
	if err := s.ensureClient(); err != nil {
		return object.Part{}, err
	}

	resp, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(number),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return object.Part{}, mapError(err)
	}
	return object.Part{Number: number, ETag: aws.ToString(resp.ETag)}, nil
}

// CompleteMultipartUpload finalizes the upload from parts in ascending order.
func (s *Storage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []object.Part) (object.Object, error) {
	if err := s.ensureClient(); err != nil {
		return object.Object{}, err
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		})
	}

	resp, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return object.Object{}, mapError(err)
	}
	return object.Object{Key: key, ETag: aws.ToString(resp.ETag)}, nil
}

func (s *Storage) ensureClient() error {
	if s.client == nil {
		return errors.New("s3store: client not initialized")
	}
	return nil
}

func responseToObject(key string, resp *s3.GetObjectOutput) object.Object {
	return object.Object{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         aws.ToString(resp.ETag),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
		CustomMeta:   cloneMeta(resp.Metadata),
	}
}

func headToObject(key string, resp *s3.HeadObjectOutput) object.Object {
	return object.Object{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         aws.ToString(resp.ETag),
		ContentType:  aws.ToString(resp.ContentType),
		LastModified: aws.ToTime(resp.LastModified),
		CustomMeta:   cloneMeta(resp.Metadata),
	}
}

func cloneMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}

// copySource is the URL-encoded "bucket/key" the CopyObject header expects.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

func rangeHeader(rng object.Range) string {
	if rng.End >= 0 {
		return fmt.Sprintf("bytes=%d-%d", rng.Start, rng.End)
	}
	return fmt.Sprintf("bytes=%d-", rng.Start)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return object.ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch strings.ToLower(apiErr.ErrorCode()) {
		case "nosuchkey", "notfound", "nosuchupload", "404":
			return object.ErrNotFound
		case "invalidrange":
			return fmt.Errorf("%w: %s", object.ErrInvalidRange, apiErr.ErrorMessage())
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return object.ErrNotFound
		case http.StatusRequestedRangeNotSatisfiable:
			return object.ErrInvalidRange
		}
	}

	return err
}

// Ensure Storage implements ObjectStorage interface.
var _ object.ObjectStorage = (*Storage)(nil)
