package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/crawl-frontier/pkg/models"
	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS link_frontier (
	url_hash        TEXT PRIMARY KEY,
	url             TEXT NOT NULL,
	lease_owner     TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL DEFAULT 'pending',
	added_at        TIMESTAMPTZ NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TIMESTAMPTZ NULL,
	priority        INTEGER NOT NULL DEFAULT 0,
	depth           INTEGER NOT NULL DEFAULT 0,
	seq             BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_link_frontier_claim ON link_frontier (state, priority DESC, seq ASC);
CREATE TABLE IF NOT EXISTS link_finished (
	url_hash    TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	crawler_id  TEXT NOT NULL,
	state       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crawlers (
	crawler_id TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

const linkColumns = `url_hash, url, lease_owner, state, added_at, attempts, last_attempt_at, priority, depth, seq`

// linkRow mirrors link_frontier; last_attempt_at is NULL until the first claim
type linkRow struct {
	URLHash       string       `db:"url_hash"`
	URL           string       `db:"url"`
	LeaseOwner    string       `db:"lease_owner"`
	State         string       `db:"state"`
	AddedAt       time.Time    `db:"added_at"`
	Attempts      int          `db:"attempts"`
	LastAttemptAt sql.NullTime `db:"last_attempt_at"`
	Priority      int          `db:"priority"`
	Depth         int          `db:"depth"`
	Seq           int64        `db:"seq"`
}

func (r linkRow) record() *models.LinkRecord {
	rec := &models.LinkRecord{
		URLHash:    r.URLHash,
		URL:        r.URL,
		LeaseOwner: r.LeaseOwner,
		State:      models.LinkState(r.State),
		AddedAt:    r.AddedAt,
		Attempts:   r.Attempts,
		Priority:   r.Priority,
		Depth:      r.Depth,
		Seq:        uint64(r.Seq),
	}
	if r.LastAttemptAt.Valid {
		rec.LastAttemptAt = r.LastAttemptAt.Time
	}
	return rec
}

// PostgresStore implements CoordinationStore on PostgreSQL so that workers on many hosts share one frontier
type PostgresStore struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// NewPostgresStore connects to dsn, verifies the connection and ensures the schema exists
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Entry) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening postgres: %w", utils.ErrDatabase, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connecting to postgres: %w", utils.ErrDatabase, err)
	}
	store := NewPostgresStoreFromDB(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Postgres frontier store ready.")
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool
func NewPostgresStoreFromDB(db *sqlx.DB, logger *logrus.Entry) *PostgresStore {
	return &PostgresStore{db: db, log: logger}
}

// EnsureSchema creates the frontier, finished-log and crawler tables if missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("%w: creating schema: %w", utils.ErrDatabase, err)
	}
	return nil
}

// Insert implements LinkStore
func (s *PostgresStore) Insert(ctx context.Context, rec *models.LinkRecord) (bool, error) {
	if rec.AddedAt.IsZero() {
		rec.AddedAt = time.Now()
	}
	query := `
		INSERT INTO link_frontier (url_hash, url, state, added_at, attempts, priority, depth)
		SELECT $1, $2, 'pending', $3, 0, $4, $5
		WHERE NOT EXISTS (SELECT 1 FROM link_finished WHERE url_hash = $1)
		ON CONFLICT (url_hash) DO NOTHING
		RETURNING seq`

	var seq int64
	err := s.db.QueryRowxContext(ctx, query, rec.URLHash, rec.URL, rec.AddedAt, rec.Priority, rec.Depth).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: inserting link '%s': %w", utils.ErrDatabase, rec.URLHash, err)
	}
	rec.Seq = uint64(seq)
	rec.State = models.LinkStatePending
	rec.LeaseOwner = ""
	rec.Attempts = 0
	return true, nil
}

// Claim implements LinkStore. The inner SELECT locks one row and skips rows other
// claimers hold, so concurrent claims never return the same record.
func (s *PostgresStore) Claim(ctx context.Context, workerID string, now time.Time, leaseTimeout time.Duration) (*models.LinkRecord, error) {
	query := `
		UPDATE link_frontier SET
			state = 'leased',
			lease_owner = $1,
			attempts = attempts + 1,
			last_attempt_at = $2
		WHERE url_hash = (
			SELECT url_hash FROM link_frontier
			WHERE state = 'pending'
			   OR ($4 AND state = 'leased' AND last_attempt_at <= $3)
			ORDER BY priority DESC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + linkColumns

	cutoff := now.Add(-leaseTimeout)
	var row linkRow
	err := s.db.GetContext(ctx, &row, query, workerID, now, cutoff, leaseTimeout > 0)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.ErrFrontierEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claiming link for '%s': %w", utils.ErrDatabase, workerID, err)
	}
	return row.record(), nil
}

// Transition implements LinkStore
func (s *PostgresStore) Transition(ctx context.Context, urlHash, workerID string, to models.LinkState) (*models.LinkRecord, error) {
	if !validTarget(to) {
		return nil, fmt.Errorf("invalid transition target '%s'", to)
	}
	query := `
		UPDATE link_frontier SET
			state = $1,
			lease_owner = CASE WHEN $1 = 'pending' THEN '' ELSE lease_owner END
		WHERE url_hash = $2 AND state = 'leased' AND lease_owner = $3
		RETURNING ` + linkColumns

	var row linkRow
	err := s.db.GetContext(ctx, &row, query, string(to), urlHash, workerID)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, urlHash)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: link '%s' is %s (owner '%s')", utils.ErrLeaseLost, urlHash, current.State, current.LeaseOwner)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: transition of '%s' to %s: %w", utils.ErrDatabase, urlHash, to, err)
	}
	return row.record(), nil
}

// Remove implements LinkStore
func (s *PostgresStore) Remove(ctx context.Context, urlHash, crawlerID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin remove: %w", utils.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	var removed struct {
		URL   string `db:"url"`
		State string `db:"state"`
	}
	err = tx.GetContext(ctx, &removed, `DELETE FROM link_frontier WHERE url_hash = $1 RETURNING url, state`, urlHash)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: link '%s'", utils.ErrNotFound, urlHash)
	}
	if err != nil {
		return fmt.Errorf("%w: deleting link '%s': %w", utils.ErrDatabase, urlHash, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO link_finished (url_hash, url, finished_at, crawler_id, state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (url_hash) DO NOTHING`,
		urlHash, removed.URL, time.Now(), crawlerID, removed.State)
	if err != nil {
		return fmt.Errorf("%w: recording finished link '%s': %w", utils.ErrDatabase, urlHash, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit remove: %w", utils.ErrDatabase, err)
	}
	return nil
}

// Get implements LinkStore
func (s *PostgresStore) Get(ctx context.Context, urlHash string) (*models.LinkRecord, error) {
	var row linkRow
	err := s.db.GetContext(ctx, &row, `SELECT `+linkColumns+` FROM link_frontier WHERE url_hash = $1`, urlHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: link '%s'", utils.ErrNotFound, urlHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get link '%s': %w", utils.ErrDatabase, urlHash, err)
	}
	return row.record(), nil
}

// GetFinished implements LinkStore
func (s *PostgresStore) GetFinished(ctx context.Context, urlHash string) (*models.FinishedRecord, error) {
	var rec models.FinishedRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT url_hash, url, finished_at, crawler_id, state FROM link_finished WHERE url_hash = $1`, urlHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: finished link '%s'", utils.ErrNotFound, urlHash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get finished link '%s': %w", utils.ErrDatabase, urlHash, err)
	}
	return &rec, nil
}

// Stats implements LinkStore
func (s *PostgresStore) Stats(ctx context.Context) (models.FrontierStats, error) {
	var stats models.FrontierStats
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT state, COUNT(*) AS count FROM link_frontier GROUP BY state`); err != nil {
		return stats, fmt.Errorf("%w: counting frontier: %w", utils.ErrDatabase, err)
	}
	for _, r := range rows {
		stats.Add(models.LinkState(r.State), r.Count)
	}
	if err := s.db.GetContext(ctx, &stats.Finished, `SELECT COUNT(*) FROM link_finished`); err != nil {
		return stats, fmt.Errorf("%w: counting finished links: %w", utils.ErrDatabase, err)
	}
	return stats, nil
}

// RegisterCrawler implements FleetRegistry
func (s *PostgresStore) RegisterCrawler(ctx context.Context, crawlerID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crawlers (crawler_id, status, updated_at) VALUES ($1, 'inactive', $2)
		ON CONFLICT (crawler_id) DO NOTHING`, crawlerID, now)
	if err != nil {
		return false, fmt.Errorf("%w: registering crawler '%s': %w", utils.ErrDatabase, crawlerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: registering crawler '%s': %w", utils.ErrDatabase, crawlerID, err)
	}
	return n == 1, nil
}

// SetCrawlerStatus implements FleetRegistry
func (s *PostgresStore) SetCrawlerStatus(ctx context.Context, crawlerID string, status models.CrawlerStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawlers (crawler_id, status, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (crawler_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		crawlerID, string(status), now)
	if err != nil {
		return fmt.Errorf("%w: setting crawler '%s' %s: %w", utils.ErrDatabase, crawlerID, status, err)
	}
	return nil
}

// GetCrawler implements FleetRegistry
func (s *PostgresStore) GetCrawler(ctx context.Context, crawlerID string) (*models.CrawlerRecord, error) {
	var rec models.CrawlerRecord
	err := s.db.GetContext(ctx, &rec, `SELECT crawler_id, status, updated_at FROM crawlers WHERE crawler_id = $1`, crawlerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: crawler '%s'", utils.ErrNotFound, crawlerID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get crawler '%s': %w", utils.ErrDatabase, crawlerID, err)
	}
	return &rec, nil
}

// ListCrawlers implements FleetRegistry
func (s *PostgresStore) ListCrawlers(ctx context.Context) ([]models.CrawlerRecord, error) {
	var out []models.CrawlerRecord
	if err := s.db.SelectContext(ctx, &out, `SELECT crawler_id, status, updated_at FROM crawlers ORDER BY crawler_id`); err != nil {
		return nil, fmt.Errorf("%w: listing crawlers: %w", utils.ErrDatabase, err)
	}
	return out, nil
}

// Close implements StoreAdmin
func (s *PostgresStore) Close() error {
	s.log.Info("Closing postgres frontier store...")
	return s.db.Close()
}
