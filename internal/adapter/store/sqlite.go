package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
)

const (
	defaultBusyTimeout        = 5 * time.Second
	defaultCheckpointInterval = 5 * time.Minute
)

// Config configures the SQLite store.
type Config struct {
	// Path is the database file. ":memory:" works for tests.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	BusyTimeout time.Duration

	// CheckpointInterval is how often to checkpoint the WAL.
	CheckpointInterval time.Duration
}

// SQLite persists fetched news items and per-source fetch timestamps.
// It runs in WAL mode with a single writer connection and periodic
// passive checkpoints.
type SQLite struct {
	db        *sql.DB
	logger    *logger.StyledLogger
	done      chan struct{}
	mu        sync.RWMutex
	closeOnce sync.Once

	getStmt    *sql.Stmt
	insertStmt *sql.Stmt
	updateStmt *sql.Stmt
	touchStmt  *sql.Stmt
	recentStmt *sql.Stmt
}

func NewSQLite(cfg Config, log *logger.StyledLogger) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{
		db:     db,
		logger: log,
		done:   make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop(cfg.CheckpointInterval)

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS news_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id TEXT NOT NULL,
		original_id TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		mobile_url TEXT,
		summary TEXT,
		content TEXT,
		author TEXT,
		category TEXT,
		tags TEXT,
		image_url TEXT,
		language TEXT,
		country TEXT,
		extra TEXT,
		published_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (source_id, original_id)
	);

	CREATE INDEX IF NOT EXISTS idx_news_published ON news_items(published_at);
	CREATE INDEX IF NOT EXISTS idx_news_source ON news_items(source_id);

	CREATE TABLE IF NOT EXISTS sources (
		source_id TEXT PRIMARY KEY,
		last_fetch INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) prepareStatements() error {
	var err error

	s.getStmt, err = s.db.Prepare(`
		SELECT id, source_id, original_id, title, url, updated_at
		FROM news_items
		WHERE source_id = ? AND original_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO news_items (
			source_id, original_id, title, url, mobile_url, summary, content,
			author, category, tags, image_url, language, country, extra,
			published_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE news_items SET
			title = ?, url = ?, mobile_url = ?, summary = ?, content = ?,
			author = ?, category = ?, tags = ?, image_url = ?, language = ?,
			country = ?, extra = ?, published_at = ?, updated_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}

	s.touchStmt, err = s.db.Prepare(`
		INSERT INTO sources (source_id, last_fetch)
		VALUES (?, ?)
		ON CONFLICT (source_id) DO UPDATE SET last_fetch = excluded.last_fetch
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch statement: %w", err)
	}

	s.recentStmt, err = s.db.Prepare(`
		SELECT source_id, original_id, title, url, mobile_url, summary, content,
			author, category, tags, image_url, language, country, extra,
			published_at, updated_at
		FROM news_items
		WHERE source_id = ?
		ORDER BY published_at DESC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent statement: %w", err)
	}

	return nil
}

// GetByOriginalID looks a persisted row up by its upstream identity.
// A missing row is (nil, nil), not an error.
func (s *SQLite) GetByOriginalID(ctx context.Context, sourceID, originalID string) (*ports.NewsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec       ports.NewsRecord
		updatedAt int64
	)
	err := s.getStmt.QueryRowContext(ctx, sourceID, originalID).Scan(
		&rec.ID, &rec.SourceID, &rec.OriginalID, &rec.Title, &rec.URL, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}

	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// Create inserts a new row for an item never seen before.
func (s *SQLite) Create(ctx context.Context, item domain.NewsItem) (*ports.NewsRecord, error) {
	tags, extra, err := encodeBlobs(item)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.insertStmt.ExecContext(ctx,
		item.SourceID, item.ID, item.Title, item.URL, item.MobileURL,
		item.Summary, item.Content, item.Author, item.Category, tags,
		item.ImageURL, item.Language, item.Country, extra,
		item.PublishedAt.Unix(), now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert id: %w", err)
	}

	return &ports.NewsRecord{
		ID:         id,
		SourceID:   item.SourceID,
		OriginalID: item.ID,
		Title:      item.Title,
		URL:        item.URL,
		UpdatedAt:  now,
	}, nil
}

// Update refreshes a known row in place with the latest fetched content.
func (s *SQLite) Update(ctx context.Context, recordID int64, item domain.NewsItem) error {
	tags, extra, err := encodeBlobs(item)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.updateStmt.ExecContext(ctx,
		item.Title, item.URL, item.MobileURL, item.Summary, item.Content,
		item.Author, item.Category, tags, item.ImageURL, item.Language,
		item.Country, extra, item.PublishedAt.Unix(), time.Now().Unix(),
		recordID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

// UpdateSourceTimestamp records when a source last completed a fetch.
func (s *SQLite) UpdateSourceTimestamp(ctx context.Context, sourceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.touchStmt.ExecContext(ctx, sourceID, at.Unix()); err != nil {
		return fmt.Errorf("failed to update source timestamp: %w", err)
	}
	return nil
}

// LastFetch returns when a source last completed a fetch, zero if never.
func (s *SQLite) LastFetch(ctx context.Context, sourceID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var at int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_fetch FROM sources WHERE source_id = ?", sourceID).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load source timestamp: %w", err)
	}
	return time.Unix(at, 0), nil
}

// ListRecent returns up to limit items for a source, freshest first.
func (s *SQLite) ListRecent(ctx context.Context, sourceID string, limit int) ([]domain.NewsItem, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.recentStmt.QueryContext(ctx, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []domain.NewsItem
	for rows.Next() {
		var (
			item        domain.NewsItem
			tags        sql.NullString
			extra       sql.NullString
			publishedAt int64
			updatedAt   int64
		)
		if err := rows.Scan(
			&item.SourceID, &item.ID, &item.Title, &item.URL, &item.MobileURL,
			&item.Summary, &item.Content, &item.Author, &item.Category, &tags,
			&item.ImageURL, &item.Language, &item.Country, &extra,
			&publishedAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		item.PublishedAt = time.Unix(publishedAt, 0)
		item.UpdatedAt = time.Unix(updatedAt, 0)
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &item.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
			}
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &item.Extra); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extra: %w", err)
			}
		}

		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return items, nil
}

// CountBySource returns per-source row counts.
func (s *SQLite) CountBySource(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, COUNT(*) FROM news_items GROUP BY source_id")
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			sourceID string
			n        int
		)
		if err := rows.Scan(&sourceID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[sourceID] = n
	}
	return counts, rows.Err()
}

// Cleanup removes items published before the cutoff and reports how many.
func (s *SQLite) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM news_items WHERE published_at < ?", olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoWithCount("expired items removed", int(deleted))
	}
	return int(deleted), nil
}

// Close is idempotent and runs a final truncating checkpoint.
func (s *SQLite) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.getStmt, s.insertStmt, s.updateStmt, s.touchStmt, s.recentStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

func (s *SQLite) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

func encodeBlobs(item domain.NewsItem) (tags, extra string, err error) {
	if len(item.Tags) > 0 {
		b, err := json.Marshal(item.Tags)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal tags: %w", err)
		}
		tags = string(b)
	}
	if len(item.Extra) > 0 {
		b, err := json.Marshal(item.Extra)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal extra: %w", err)
		}
		extra = string(b)
	}
	return tags, extra, nil
}
