// Package sqlite implements object.ObjectStorage backed by SQLite.
package sqlite

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"strings"
	"time"

	"s3ftp/pkg/object"

	_ "modernc.org/sqlite"
)

const defaultMaxKeys = 1000

// ErrPartTooSmall is returned by CompleteMultipartUpload when a non-final
// part is below Config.MinPartSize.
var ErrPartTooSmall = errors.New("sqlite: part smaller than minimum part size")

// Config defines how the SQLite storage should be initialized.
type Config struct {
	// Source is the DSN/connection string, e.g. file:objects.db?cache=shared.
	Source string
	// Driver name registered with database/sql. Defaults to "sqlite".
	Driver string
	// Table to store objects. Defaults to "objects".
	Table string
	// AllowOverwrite controls whether Put replaces existing records.
	AllowOverwrite bool
	// MinPartSize, when positive, is enforced on every part but the last.
	MinPartSize int64
	// DB lets callers supply an existing *sql.DB connection.
	DB *sql.DB
}

// Storage satisfies object.ObjectStorage using a SQLite table.
type Storage struct {
	db             *sql.DB
	table          string
	allowOverwrite bool
	minPartSize    int64
	ownsDB         bool
}

// Init configures the storage and ensures the backing tables exist.
func (s *Storage) Init(ctx context.Context, param any) error {
	cfg, ok := param.(Config)
	if !ok {
		if p, ok := param.(*Config); ok && p != nil {
			cfg = *p
		} else {
			return fmt.Errorf("sqlite: unexpected config type %T", param)
		}
	}

	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Table == "" {
		cfg.Table = "objects"
	}
	if cfg.Source == "" && cfg.DB == nil {
		return errors.New("sqlite: Source is required")
	}

	table, err := sanitizeName(cfg.Table)
	if err != nil {
		return err
	}
	s.table = table
	s.allowOverwrite = cfg.AllowOverwrite
	s.minPartSize = cfg.MinPartSize

	if cfg.DB != nil {
		s.db = cfg.DB
	} else {
		db, err := sql.Open(cfg.Driver, cfg.Source)
		if err != nil {
			return fmt.Errorf("sqlite: open database: %w", err)
		}
		s.db = db
		s.ownsDB = true
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		etag TEXT,
		content_type TEXT,
		last_modified TEXT NOT NULL,
		meta TEXT
	)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_uploads (
		upload_id TEXT PRIMARY KEY,
		key TEXT NOT NULL,
		content_type TEXT,
		created_at TEXT NOT NULL
	)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_parts (
		upload_id TEXT NOT NULL,
		part_number INTEGER NOT NULL,
		data BLOB NOT NULL,
		etag TEXT NOT NULL,
		PRIMARY KEY (upload_id, part_number)
	)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}

	return nil
}

// Close releases the DB connection when owned by the storage.
func (s *Storage) Close(_ context.Context) error {
	if s.db != nil && s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Put stores an object; optionally overwrites existing content based on config.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string, meta map[string]string) (object.Object, error) {
	if err := s.ensureDB(); err != nil {
		return object.Object{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return object.Object{}, fmt.Errorf("sqlite: read content: %w", err)
	}
	return s.save(ctx, key, data, contentType, meta)
}

// Copy duplicates src into dst, keeping content type and metadata.
func (s *Storage) Copy(ctx context.Context, src, dst string) error {
	obj, rc, err := s.Get(ctx, src, nil)
	if err != nil {
		return err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("sqlite: read copy source: %w", err)
	}
	_, err = s.save(ctx, dst, data, obj.ContentType, obj.CustomMeta)
	return err
}

// Get retrieves the object data and metadata.
func (s *Storage) Get(ctx context.Context, key string, rng *object.Range) (object.Object, io.ReadCloser, error) {
	if err := s.ensureDB(); err != nil {
		return object.Object{}, nil, err
	}

	query := fmt.Sprintf(`SELECT size, etag, content_type, last_modified, meta, data FROM %s WHERE key = ?`, s.table)
	var (
		size         int64
		etag         sql.NullString
		contentType  sql.NullString
		lastModified string
		metaJSON     sql.NullString
		data         []byte
	)

	err := s.db.QueryRowContext(ctx, query, key).Scan(&size, &etag, &contentType, &lastModified, &metaJSON, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return object.Object{}, nil, object.ErrNotFound
	}
	if err != nil {
		return object.Object{}, nil, fmt.Errorf("sqlite: get object: %w", err)
	}

	obj, err := s.rowToObject(key, size, etag.String, contentType.String, lastModified, metaJSON.String)
	if err != nil {
		return object.Object{}, nil, err
	}

	slice, err := applyRange(data, rng)
	if err != nil {
		return object.Object{}, nil, err
	}

	return obj, io.NopCloser(bytes.NewReader(slice)), nil
}

// List walks keys under opts.Prefix in key order. With a delimiter, keys
// that contain it past the prefix are rolled up into common prefixes, and
// MaxKeys counts both objects and prefixes, as S3 does.
func (s *Storage) List(ctx context.Context, opts object.ListOptions) (object.ListResult, error) {
	if err := s.ensureDB(); err != nil {
		return object.ListResult{}, err
	}

	maxKeys := int(opts.MaxKeys)
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	// BINARY collation orders by bytes, so every key sharing the prefix
	// follows it contiguously.
	query := fmt.Sprintf(`SELECT key, size, etag, content_type, last_modified, meta FROM %s WHERE key >= ? ORDER BY key ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, query, opts.Prefix)
	if err != nil {
		return object.ListResult{}, fmt.Errorf("sqlite: list objects: %w", err)
	}
	defer rows.Close()

	var (
		result     object.ListResult
		count      int
		lastPrefix string
	)
	for rows.Next() {
		var (
			key          string
			size         int64
			etag         sql.NullString
			contentType  sql.NullString
			lastModified string
			metaJSON     sql.NullString
		)
		if err := rows.Scan(&key, &size, &etag, &contentType, &lastModified, &metaJSON); err != nil {
			return object.ListResult{}, fmt.Errorf("sqlite: scan object: %w", err)
		}
		if !strings.HasPrefix(key, opts.Prefix) {
			break
		}

		if opts.Delimiter != "" {
			rest := key[len(opts.Prefix):]
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				common := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if common == lastPrefix {
					continue
				}
				if count == maxKeys {
					result.Truncated = true
					break
				}
				lastPrefix = common
				result.CommonPrefixes = append(result.CommonPrefixes, common)
				count++
				continue
			}
		}

		if count == maxKeys {
			result.Truncated = true
			break
		}
		obj, err := s.rowToObject(key, size, etag.String, contentType.String, lastModified, metaJSON.String)
		if err != nil {
			return object.ListResult{}, err
		}
		result.Objects = append(result.Objects, obj)
		count++
	}
	if err := rows.Err(); err != nil {
		return object.ListResult{}, fmt.Errorf("sqlite: iterate objects: %w", err)
	}

	return result, nil
}

// Stat fetches metadata without streaming the body.
func (s *Storage) Stat(ctx context.Context, key string) (object.Object, error) {
	if err := s.ensureDB(); err != nil {
		return object.Object{}, err
	}

	query := fmt.Sprintf(`SELECT size, etag, content_type, last_modified, meta FROM %s WHERE key = ?`, s.table)
	var (
		size         int64
		etag         sql.NullString
		contentType  sql.NullString
		lastModified string
		metaJSON     sql.NullString
	)

	err := s.db.QueryRowContext(ctx, query, key).Scan(&size, &etag, &contentType, &lastModified, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return object.Object{}, object.ErrNotFound
	}
	if err != nil {
		return object.Object{}, fmt.Errorf("sqlite: stat object: %w", err)
	}

	return s.rowToObject(key, size, etag.String, contentType.String, lastModified, metaJSON.String)
}

// Delete removes an object by key. Deleting a missing key succeeds, as on S3.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("sqlite: delete object: %w", err)
	}
	return nil
}

// CreateMultipartUpload registers a new upload and returns its id.
func (s *Storage) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	if err := s.ensureDB(); err != nil {
		return "", err
	}

	id, err := generateUploadID()
	if err != nil {
		return "", fmt.Errorf("sqlite: generate upload id: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s_uploads (upload_id, key, content_type, created_at) VALUES (?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, query, id, key, nullIfEmpty(contentType), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("sqlite: create upload: %w", err)
	}
	return id, nil
}

// UploadPart stores one part. Re-uploading a part number replaces it.
func (s *Storage) UploadPart(ctx context.Context, key, uploadID string, number int32, r io.Reader, _ int64) (object.Part, error) {
	if err := s.ensureDB(); err != nil {
		return object.Part{}, err
	}
	if number < 1 {
		return object.Part{}, fmt.Errorf("sqlite: invalid part number %d", number)
	}
	if _, err := s.uploadKey(ctx, uploadID, key); err != nil {
		return object.Part{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return object.Part{}, fmt.Errorf("sqlite: read part: %w", err)
	}

	etag := hashETag(data)
	query := fmt.Sprintf(`INSERT OR REPLACE INTO %s_parts (upload_id, part_number, data, etag) VALUES (?, ?, ?, ?)`, s.table)
	if _, err := s.db.ExecContext(ctx, query, uploadID, number, data, etag); err != nil {
		return object.Part{}, fmt.Errorf("sqlite: upload part: %w", err)
	}
	return object.Part{Number: number, ETag: etag}, nil
}

// CompleteMultipartUpload concatenates the listed parts into the final object
// and discards the upload.
func (s *Storage) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []object.Part) (object.Object, error) {
	if err := s.ensureDB(); err != nil {
		return object.Object{}, err
	}
	if len(parts) == 0 {
		return object.Object{}, errors.New("sqlite: complete upload without parts")
	}

	contentType, err := s.uploadKey(ctx, uploadID, key)
	if err != nil {
		return object.Object{}, err
	}

	query := fmt.Sprintf(`SELECT data, etag FROM %s_parts WHERE upload_id = ? AND part_number = ?`, s.table)
	var body bytes.Buffer
	for i, p := range parts {
		if i > 0 && p.Number <= parts[i-1].Number {
			return object.Object{}, fmt.Errorf("sqlite: parts out of order at %d", p.Number)
		}

		var (
			data []byte
			etag string
		)
		err := s.db.QueryRowContext(ctx, query, uploadID, p.Number).Scan(&data, &etag)
		if errors.Is(err, sql.ErrNoRows) {
			return object.Object{}, fmt.Errorf("sqlite: part %d: %w", p.Number, object.ErrNotFound)
		}
		if err != nil {
			return object.Object{}, fmt.Errorf("sqlite: read part %d: %w", p.Number, err)
		}
		if p.ETag != "" && p.ETag != etag {
			return object.Object{}, fmt.Errorf("sqlite: part %d etag mismatch", p.Number)
		}
		if s.minPartSize > 0 && i < len(parts)-1 && int64(len(data)) < s.minPartSize {
			return object.Object{}, fmt.Errorf("%w: part %d has %d bytes", ErrPartTooSmall, p.Number, len(data))
		}
		body.Write(data)
	}

	obj, err := s.save(ctx, key, body.Bytes(), contentType, nil)
	if err != nil {
		return object.Object{}, err
	}

	for _, stmt := range []string{
		fmt.Sprintf(`DELETE FROM %s_parts WHERE upload_id = ?`, s.table),
		fmt.Sprintf(`DELETE FROM %s_uploads WHERE upload_id = ?`, s.table),
	} {
		if _, err := s.db.ExecContext(ctx, stmt, uploadID); err != nil {
			return object.Object{}, fmt.Errorf("sqlite: discard upload: %w", err)
		}
	}
	return obj, nil
}

// PendingUploads returns the ids of uploads that were started but never completed.
func (s *Storage) PendingUploads(ctx context.Context) ([]string, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT upload_id FROM %s_uploads ORDER BY created_at`, s.table))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list uploads: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan upload: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// uploadKey checks the upload exists for key and returns its content type.
func (s *Storage) uploadKey(ctx context.Context, uploadID, key string) (string, error) {
	query := fmt.Sprintf(`SELECT key, content_type FROM %s_uploads WHERE upload_id = ?`, s.table)
	var (
		stored      string
		contentType sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, uploadID).Scan(&stored, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite: upload %s: %w", uploadID, object.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: read upload: %w", err)
	}
	if stored != key {
		return "", fmt.Errorf("sqlite: upload %s belongs to %q, not %q", uploadID, stored, key)
	}
	return contentType.String, nil
}

func (s *Storage) save(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (object.Object, error) {
	metaJSON, err := encodeMeta(meta)
	if err != nil {
		return object.Object{}, err
	}

	now := time.Now().UTC()
	obj := object.Object{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         hashETag(data),
		ContentType:  contentType,
		LastModified: now,
		CustomMeta:   cloneMeta(meta),
	}

	query := fmt.Sprintf(`INSERT INTO %s (key, data, size, etag, content_type, last_modified, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table)
	if s.allowOverwrite {
		query += ` ON CONFLICT(key) DO UPDATE SET data=excluded.data, size=excluded.size, etag=excluded.etag, content_type=excluded.content_type, last_modified=excluded.last_modified, meta=excluded.meta`
	}

	_, err = s.db.ExecContext(ctx, query,
		key,
		data,
		obj.Size,
		nullIfEmpty(obj.ETag),
		nullIfEmpty(contentType),
		now.Format(time.RFC3339Nano),
		nullIfEmpty(metaJSON),
	)
	if err != nil {
		if isConflict(err) {
			return object.Object{}, object.ErrConflict
		}
		return object.Object{}, fmt.Errorf("sqlite: put object: %w", err)
	}

	return obj, nil
}

func (s *Storage) ensureDB() error {
	if s.db == nil {
		return errors.New("sqlite: storage not initialized")
	}
	return nil
}

func (s *Storage) rowToObject(key string, size int64, etag, contentType, lastModified, metaJSON string) (object.Object, error) {
	t, err := time.Parse(time.RFC3339Nano, lastModified)
	if err != nil {
		return object.Object{}, fmt.Errorf("sqlite: parse last_modified: %w", err)
	}

	metaMap, err := decodeMeta(metaJSON)
	if err != nil {
		return object.Object{}, err
	}

	return object.Object{
		Key:          key,
		Size:         size,
		ETag:         etag,
		ContentType:  contentType,
		LastModified: t,
		CustomMeta:   metaMap,
	}, nil
}

// applyRange slices data like an HTTP Range request: the end is clamped to
// the object size, a start past the end is unsatisfiable.
func applyRange(data []byte, rng *object.Range) ([]byte, error) {
	if rng == nil {
		return data, nil
	}
	if rng.Start < 0 {
		return nil, fmt.Errorf("sqlite: invalid range start %d: %w", rng.Start, object.ErrInvalidRange)
	}
	if rng.Start >= int64(len(data)) {
		return nil, fmt.Errorf("sqlite: range start %d beyond object size %d: %w", rng.Start, len(data), object.ErrInvalidRange)
	}
	end := rng.End
	if end < 0 || end >= int64(len(data)) {
		end = int64(len(data) - 1)
	}
	if end < rng.Start {
		return nil, fmt.Errorf("sqlite: invalid range end %d: %w", rng.End, object.ErrInvalidRange)
	}
	return data[rng.Start : end+1], nil
}

func generateUploadID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func encodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal metadata: %w", err)
	}
	return out, nil
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func sanitizeName(name string) (string, error) {
	if !tableName.MatchString(name) {
		return "", fmt.Errorf("sqlite: invalid table name %q", name)
	}
	return name, nil
}

func isConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

func cloneMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure Storage implements ObjectStorage interface.
var _ object.ObjectStorage = (*Storage)(nil)
