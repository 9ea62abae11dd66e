package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	s, err := NewSQLite(Config{Path: filepath.Join(t.TempDir(), "tidings.db")}, log)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(sourceID, originalID, title string, published time.Time) domain.NewsItem {
	return domain.NewsItem{
		ID:          originalID,
		Title:       title,
		URL:         "https://example.com/" + originalID,
		SourceID:    sourceID,
		PublishedAt: published,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	it := item("tech", "a1", "first story", time.Now().Add(-time.Hour))
	it.Tags = []string{"go", "news"}
	it.Extra = map[string]any{"rank": "3"}

	rec, err := s.Create(ctx, it)
	require.NoError(t, err)
	assert.Positive(t, rec.ID)
	assert.Equal(t, "a1", rec.OriginalID)

	got, err := s.GetByOriginalID(ctx, "tech", "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "first story", got.Title)
}

func TestGetByOriginalID_Missing(t *testing.T) {
	s := testStore(t)

	got, err := s.GetByOriginalID(context.Background(), "tech", "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreate_DuplicateOriginalIDFails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	it := item("tech", "a1", "first", time.Now())
	_, err := s.Create(ctx, it)
	require.NoError(t, err)

	_, err = s.Create(ctx, it)
	assert.Error(t, err, "source_id+original_id is unique")
}

func TestUpdate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, item("tech", "a1", "draft title", time.Now()))
	require.NoError(t, err)

	updated := item("tech", "a1", "final title", time.Now())
	require.NoError(t, s.Update(ctx, rec.ID, updated))

	got, err := s.GetByOriginalID(ctx, "tech", "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "final title", got.Title)
}

func TestSourceTimestamp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	at, err := s.LastFetch(ctx, "tech")
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	stamp := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	require.NoError(t, s.UpdateSourceTimestamp(ctx, "tech", stamp))

	at, err = s.LastFetch(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, stamp.Unix(), at.Unix())

	// Upsert: a later stamp replaces the earlier one.
	later := stamp.Add(time.Hour)
	require.NoError(t, s.UpdateSourceTimestamp(ctx, "tech", later))
	at, err = s.LastFetch(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), at.Unix())
}

func TestListRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		it := item("tech", string(rune('a'+i)), "story", base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			it.Tags = []string{"breaking"}
			it.Extra = map[string]any{"origin": "wire"}
		}
		_, err := s.Create(ctx, it)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, item("other", "x", "elsewhere", base))
	require.NoError(t, err)

	items, err := s.ListRecent(ctx, "tech", 3)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "e", items[0].ID, "freshest first")
	assert.Equal(t, []string{"breaking"}, items[0].Tags)
	assert.Equal(t, "wire", items[0].Extra["origin"])
	assert.Equal(t, "d", items[1].ID)
	assert.Equal(t, "tech", items[2].SourceID)
}

func TestCountBySource(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, item("tech", string(rune('a'+i)), "story", time.Now()))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, item("finance", "f1", "markets", time.Now()))
	require.NoError(t, err)

	counts, err := s.CountBySource(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tech": 3, "finance": 1}, counts)
}

func TestCleanup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Create(ctx, item("tech", "old", "stale", now.Add(-72*time.Hour)))
	require.NoError(t, err)
	_, err = s.Create(ctx, item("tech", "new", "fresh", now))
	require.NoError(t, err)

	deleted, err := s.Cleanup(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	got, err := s.GetByOriginalID(ctx, "tech", "old")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetByOriginalID(ctx, "tech", "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestClose_Idempotent(t *testing.T) {
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	s, err := NewSQLite(Config{Path: filepath.Join(t.TempDir(), "tidings.db")}, log)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNewSQLite_EmptyPath(t *testing.T) {
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	_, err := NewSQLite(Config{}, log)
	assert.Error(t, err)
}
