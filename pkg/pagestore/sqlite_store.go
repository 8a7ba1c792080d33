// Package pagestore persists fetched pages in SQLite.
package pagestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const pagesSchema = `
CREATE TABLE IF NOT EXISTS pages (
	url_hash       TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	fetched_at     DATETIME NOT NULL,
	content_type   TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	title          TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '',
	status_code    INTEGER NOT NULL DEFAULT 0,
	revision       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pages_content_hash ON pages(content_hash);`

// Every write stamps the row with the next store-wide revision
const nextRevision = `(SELECT COALESCE(MAX(revision), 0) + 1 FROM pages)`

const pageColumns = `url_hash, url, fetched_at, content_type, content_length, title, content, content_hash, metadata, status_code`

// Store is the page persistence contract the coordinator writes through
type Store interface {
	Insert(ctx context.Context, page *models.PageRecord) error
	UpdateByHash(ctx context.Context, urlHash string, page *models.PageRecord) error
	ListAllText(ctx context.Context) ([]models.PageText, error)
	Count(ctx context.Context) (int, error)
	Revision(ctx context.Context) (int64, error)
	Close() error
}

// SQLiteStore is a Store in a single SQLite file
type SQLiteStore struct {
	db   *sqlx.DB
	path string
	log  *logrus.Entry
}

type pageRow struct {
	URLHash       string    `db:"url_hash"`
	URL           string    `db:"url"`
	FetchedAt     time.Time `db:"fetched_at"`
	ContentType   string    `db:"content_type"`
	ContentLength int64     `db:"content_length"`
	Title         string    `db:"title"`
	Content       string    `db:"content"`
	ContentHash   string    `db:"content_hash"`
	Metadata      string    `db:"metadata"`
	StatusCode    int       `db:"status_code"`
}

// OpenSQLite opens or creates the page database at path
func OpenSQLite(path string, logger *logrus.Entry) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("cannot create page store directory %s: %w", dir, err)
		}
	}
	db, err := sqlx.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("%w: opening page store %s: %w", utils.ErrDatabase, path, err)
	}
	// One writer; the coordinator serializes saves anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enabling WAL: %w", utils.ErrDatabase, err)
	}
	if _, err := db.ExecContext(ctx, pagesSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: creating pages table: %w", utils.ErrDatabase, err)
	}
	if err := addRevisionColumn(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infof("Page store opened at %s", path)
	return &SQLiteStore{db: db, path: path, log: logger}, nil
}

// addRevisionColumn upgrades page databases created without the revision column
func addRevisionColumn(ctx context.Context, db *sqlx.DB) error {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pragma_table_info('pages') WHERE name = 'revision'`); err != nil {
		return fmt.Errorf("%w: inspecting pages table: %w", utils.ErrDatabase, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE pages ADD COLUMN revision INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("%w: adding revision column: %w", utils.ErrDatabase, err)
	}
	return nil
}

// Insert writes page; a second fetch of the same URL replaces its row
func (s *SQLiteStore) Insert(ctx context.Context, page *models.PageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`, revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, `+nextRevision+`)
		ON CONFLICT(url_hash) DO UPDATE SET
			url = excluded.url,
			fetched_at = excluded.fetched_at,
			content_type = excluded.content_type,
			content_length = excluded.content_length,
			title = excluded.title,
			content = excluded.content,
			content_hash = excluded.content_hash,
			metadata = excluded.metadata,
			status_code = excluded.status_code,
			revision = excluded.revision`,
		page.URLHash, page.URL, page.FetchedAt.UTC(), page.ContentType, page.ContentLength,
		page.Title, page.Content, page.ContentHash, page.Metadata, page.StatusCode)
	if err != nil {
		return fmt.Errorf("%w: inserting page %s: %w", utils.ErrDatabase, page.URL, err)
	}
	return nil
}

// UpdateByHash overwrites the row keyed by urlHash with page's content, keeping the row's key
func (s *SQLiteStore) UpdateByHash(ctx context.Context, urlHash string, page *models.PageRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET
			url = ?, fetched_at = ?, content_type = ?, content_length = ?, title = ?,
			content = ?, content_hash = ?, metadata = ?, status_code = ?,
			revision = `+nextRevision+`
		WHERE url_hash = ?`,
		page.URL, page.FetchedAt.UTC(), page.ContentType, page.ContentLength, page.Title,
		page.Content, page.ContentHash, page.Metadata, page.StatusCode, urlHash)
	if err != nil {
		return fmt.Errorf("%w: updating page %s: %w", utils.ErrDatabase, urlHash, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: updating page %s: %w", utils.ErrDatabase, urlHash, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: page '%s'", utils.ErrNotFound, urlHash)
	}
	return nil
}

// Get returns the page keyed by urlHash
func (s *SQLiteStore) Get(ctx context.Context, urlHash string) (*models.PageRecord, error) {
	var row pageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pageColumns+` FROM pages WHERE url_hash = ?`, urlHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: page '%s'", utils.ErrNotFound, urlHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get page %s: %w", utils.ErrDatabase, urlHash, err)
	}
	page := models.PageRecord(row)
	return &page, nil
}

// ListAllText returns the extracted text of every stored page, ordered by key
func (s *SQLiteStore) ListAllText(ctx context.Context) ([]models.PageText, error) {
	var rows []struct {
		URLHash string `db:"url_hash"`
		Content string `db:"content"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT url_hash, content FROM pages ORDER BY url_hash`); err != nil {
		return nil, fmt.Errorf("%w: listing page text: %w", utils.ErrDatabase, err)
	}
	out := make([]models.PageText, len(rows))
	for i, r := range rows {
		out[i] = models.PageText{URLHash: r.URLHash, Content: r.Content}
	}
	return out, nil
}

// Count returns the number of stored pages
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pages`); err != nil {
		return 0, fmt.Errorf("%w: counting pages: %w", utils.ErrDatabase, err)
	}
	return n, nil
}

// Revision returns the revision of the latest write; it changes whenever any process writes a page
func (s *SQLiteStore) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.GetContext(ctx, &rev, `SELECT COALESCE(MAX(revision), 0) FROM pages`); err != nil {
		return 0, fmt.Errorf("%w: reading page revision: %w", utils.ErrDatabase, err)
	}
	return rev, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database
func (s *SQLiteStore) Close() error {
	s.log.Info("Closing page store...")
	return s.db.Close()
}
