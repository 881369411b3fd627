package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS annotations (
	id         TEXT PRIMARY KEY,
	file_id    TEXT NOT NULL,
	page       INTEGER NOT NULL,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_annotations_file ON annotations(file_id, page);

CREATE TABLE IF NOT EXISTS ocr_cache (
	file_id    TEXT NOT NULL,
	page       INTEGER NOT NULL,
	words      TEXT NOT NULL,
	burned     INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (file_id, page)
);

CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS recency (
	file_id   TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	opened_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS hashes (
	file_id     TEXT PRIMARY KEY,
	hash        TEXT NOT NULL,
	page_count  INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
`

type config struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	now         func() time.Time
}

func defaults() config {
	return config{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		now:         time.Now,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

// SQLite is the Store implementation backed by modernc.org/sqlite.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the store at path with WAL journaling.
func Open(path string, opts ...Option) (*SQLite, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: exec schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &SQLite{db: db, now: cfg.now}, nil
}

// OpenMemory opens an in-memory store, mainly for tests.
func OpenMemory(opts ...Option) (*SQLite, error) {
	return Open(":memory:", opts...)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// PutAnnotation inserts or replaces an annotation.
func (s *SQLite) PutAnnotation(ctx context.Context, fileID string, ann model.Annotation) error {
	if ann.ID == "" {
		return errors.New("store: annotation without id")
	}
	body, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("store: encode annotation %s: %w", ann.ID, err)
	}
	err = exec(ctx, s.db, `
		INSERT INTO annotations (id, file_id, page, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET file_id = excluded.file_id, page = excluded.page,
			body = excluded.body, updated_at = excluded.updated_at`,
		ann.ID, fileID, ann.Page, string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put annotation %s: %w", ann.ID, err)
	}
	return nil
}

// DeleteAnnotation removes an annotation. Deleting a missing id is not an error.
func (s *SQLite) DeleteAnnotation(ctx context.Context, fileID, id string) error {
	if err := exec(ctx, s.db, `DELETE FROM annotations WHERE file_id = ? AND id = ?`, fileID, id); err != nil {
		return fmt.Errorf("store: delete annotation %s: %w", id, err)
	}
	return nil
}

// Annotations lists the annotations of a document ordered by page.
func (s *SQLite) Annotations(ctx context.Context, fileID string) ([]model.Annotation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM annotations WHERE file_id = ? ORDER BY page, id`, fileID)
	if err != nil {
		return nil, fmt.Errorf("store: list annotations: %w", err)
	}
	defer rows.Close()

	var out []model.Annotation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan annotation: %w", err)
		}
		var ann model.Annotation
		if err := json.Unmarshal([]byte(body), &ann); err != nil {
			return nil, fmt.Errorf("store: decode annotation: %w", err)
		}
		ann.Source = model.FromLocal
		out = append(out, ann)
	}
	return out, rows.Err()
}

// PutOCR stores the words of a page and marks it pending (not burned).
func (s *SQLite) PutOCR(ctx context.Context, fileID string, page int, words []model.OCRWord) error {
	if words == nil {
		words = []model.OCRWord{}
	}
	body, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("store: encode ocr page %d: %w", page, err)
	}
	err = exec(ctx, s.db, `
		INSERT INTO ocr_cache (file_id, page, words, burned, updated_at) VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(file_id, page) DO UPDATE SET words = excluded.words, burned = 0,
			updated_at = excluded.updated_at`,
		fileID, page, string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put ocr page %d: %w", page, err)
	}
	return nil
}

// OCR returns the cached words of one page.
func (s *SQLite) OCR(ctx context.Context, fileID string, page int) (OCRPage, bool, error) {
	var (
		body   string
		burned int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT words, burned FROM ocr_cache WHERE file_id = ? AND page = ?`, fileID, page).
		Scan(&body, &burned)
	if errors.Is(err, sql.ErrNoRows) {
		return OCRPage{}, false, nil
	}
	if err != nil {
		return OCRPage{}, false, fmt.Errorf("store: get ocr page %d: %w", page, err)
	}
	p := OCRPage{Page: page, Burned: burned != 0}
	if err := json.Unmarshal([]byte(body), &p.Words); err != nil {
		return OCRPage{}, false, fmt.Errorf("store: decode ocr page %d: %w", page, err)
	}
	return p, true, nil
}

// OCRPages returns every cached page of a document ordered by page.
func (s *SQLite) OCRPages(ctx context.Context, fileID string) ([]OCRPage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page, words, burned FROM ocr_cache WHERE file_id = ? ORDER BY page`, fileID)
	if err != nil {
		return nil, fmt.Errorf("store: list ocr pages: %w", err)
	}
	defer rows.Close()

	var out []OCRPage
	for rows.Next() {
		var (
			p      OCRPage
			body   string
			burned int
		)
		if err := rows.Scan(&p.Page, &body, &burned); err != nil {
			return nil, fmt.Errorf("store: scan ocr page: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &p.Words); err != nil {
			return nil, fmt.Errorf("store: decode ocr page %d: %w", p.Page, err)
		}
		p.Burned = burned != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetOCRBurned flips the burned flag of the given pages in one transaction.
func (s *SQLite) SetOCRBurned(ctx context.Context, fileID string, pages []int, burned bool) error {
	if len(pages) == 0 {
		return nil
	}
	flag := 0
	if burned {
		flag = 1
	}
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)

	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE ocr_cache SET burned = ? WHERE file_id = ? AND page = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range sorted {
			if _, err := stmt.ExecContext(ctx, flag, fileID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: set burned: %w", err)
	}
	return nil
}

// PutBlob stores an opaque binary under key.
func (s *SQLite) PutBlob(ctx context.Context, key string, data []byte) error {
	err := exec(ctx, s.db, `
		INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, data, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put blob %s: %w", key, err)
	}
	return nil
}

// Blob returns the binary stored under key.
func (s *SQLite) Blob(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get blob %s: %w", key, err)
	}
	return data, true, nil
}

// Touch records that a document was opened now.
func (s *SQLite) Touch(ctx context.Context, fileID, name string) error {
	err := exec(ctx, s.db, `
		INSERT INTO recency (file_id, name, opened_at) VALUES (?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN recency.name ELSE excluded.name END,
			opened_at = excluded.opened_at`,
		fileID, name, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: touch %s: %w", fileID, err)
	}
	return nil
}

// Recent lists documents by most recent use.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]RecentFile, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, name, opened_at FROM recency ORDER BY opened_at DESC, file_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list recent: %w", err)
	}
	defer rows.Close()

	var out []RecentFile
	for rows.Next() {
		var (
			r  RecentFile
			ms int64
		)
		if err := rows.Scan(&r.FileID, &r.Name, &ms); err != nil {
			return nil, fmt.Errorf("store: scan recent: %w", err)
		}
		r.OpenedAt = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutHash records the content fingerprint of the last successful save.
func (s *SQLite) PutHash(ctx context.Context, fileID string, rec HashRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now()
	}
	err := exec(ctx, s.db, `
		INSERT INTO hashes (file_id, hash, page_count, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET hash = excluded.hash, page_count = excluded.page_count,
			recorded_at = excluded.recorded_at`,
		fileID, rec.Hash, rec.PageCount, rec.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: put hash %s: %w", fileID, err)
	}
	return nil
}

// Hash returns the recorded fingerprint of a document.
func (s *SQLite) Hash(ctx context.Context, fileID string) (HashRecord, bool, error) {
	var (
		rec HashRecord
		ms  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, page_count, recorded_at FROM hashes WHERE file_id = ?`, fileID).
		Scan(&rec.Hash, &rec.PageCount, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return HashRecord{}, false, nil
	}
	if err != nil {
		return HashRecord{}, false, fmt.Errorf("store: get hash %s: %w", fileID, err)
	}
	rec.RecordedAt = time.UnixMilli(ms)
	return rec, true, nil
}
