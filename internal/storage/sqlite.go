package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"subwatch/internal/model"
	"subwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite implements Cache backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get returns the cache entry for id, reporting false when there is none.
func (s *SQLite) Get(ctx context.Context, id model.SubmissionID) (model.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT site, item_id, media_kind, media_id, media_access_token, source_url, caption, cached_at, is_full_resolution
		 FROM submission_cache WHERE site = ? AND item_id = ?`,
		id.Site, id.ID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, err
	}
	return entry, true, nil
}

// Put inserts or replaces the cache entry of a submission.
func (s *SQLite) Put(ctx context.Context, e model.CacheEntry) error {
	var sourceURL *string
	if e.SourceURL != "" {
		sourceURL = &e.SourceURL
	}
	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submission_cache
		   (site, item_id, media_kind, media_id, media_access_token, source_url, caption, cached_at, is_full_resolution)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (site, item_id) DO UPDATE SET
		   media_kind = excluded.media_kind,
		   media_id = excluded.media_id,
		   media_access_token = excluded.media_access_token,
		   source_url = excluded.source_url,
		   caption = excluded.caption,
		   cached_at = excluded.cached_at,
		   is_full_resolution = excluded.is_full_resolution`,
		e.ID.Site, e.ID.ID, string(e.MediaKind), e.MediaID, e.MediaAccessToken, sourceURL, e.Caption,
		cachedAt.UTC().Format(timeLayout), boolToInt(e.IsFullResolution),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Count returns the number of cached submissions.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submission_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (model.CacheEntry, error) {
	var e model.CacheEntry
	var kind, cachedAt string
	var sourceURL sql.NullString
	var full int
	err := row.Scan(&e.ID.Site, &e.ID.ID, &kind, &e.MediaID, &e.MediaAccessToken, &sourceURL, &e.Caption, &cachedAt, &full)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scan cache entry: %w", err)
	}
	e.MediaKind = model.MediaKind(kind)
	e.SourceURL = sourceURL.String
	e.IsFullResolution = full == 1
	e.CachedAt, err = time.Parse(timeLayout, cachedAt)
	if err != nil {
		return e, fmt.Errorf("parse cached_at: %w", err)
	}
	return e, nil
}
