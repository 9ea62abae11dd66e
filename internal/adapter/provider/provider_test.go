package provider

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/adapter/cache"
	"github.com/davral/tidings/internal/adapter/httpx"
	"github.com/davral/tidings/internal/adapter/source"
	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

type nullFetcher struct{}

func (nullFetcher) Do(_ context.Context, req httpx.Request) (*httpx.Response, error) {
	return &httpx.Response{StatusCode: 200, Body: []byte("[]")}, nil
}

func testRegistry() *Registry {
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	return NewRegistry(Deps{
		Client: nullFetcher{},
		Cache:  cache.NewTiered(cache.NewMemory(0), nil, log),
		Logger: log,
	})
}

func configs() []domain.SourceConfig {
	return []domain.SourceConfig{
		{
			SourceID: "api-one",
			Name:     "API One",
			URL:      "https://api.example.com",
			Kind:     domain.KindJSONAPI,
			Options:  map[string]any{"data_path": "data.items"},
		},
		{
			SourceID: "feed-one",
			Name:     "Feed One",
			URL:      "https://example.com/feed.xml",
			Kind:     domain.KindRSS,
		},
		{
			SourceID: "scrape-one",
			Name:     "Scrape One",
			URL:      "https://example.com/list",
			Kind:     domain.KindWebScrape,
			Options: map[string]any{
				"selectors": map[string]any{"item": "li.s", "link": "a"},
			},
		},
	}
}

func TestReload(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Reload(context.Background(), configs()))

	all := r.GetAllSources()
	require.Len(t, all, 3)
	assert.Equal(t, "api-one", all[0].SourceID())
	assert.Equal(t, "feed-one", all[1].SourceID())

	src, ok := r.GetSource("scrape-one")
	require.True(t, ok)
	assert.Equal(t, "Scrape One", src.Name())

	_, ok = r.GetSource("missing")
	assert.False(t, ok)
}

func TestReload_DuplicateIDFails(t *testing.T) {
	r := testRegistry()
	dup := append(configs(), domain.SourceConfig{
		SourceID: "api-one",
		Name:     "Shadowing Entry",
		URL:      "https://elsewhere.example.com",
		Kind:     domain.KindRSS,
	})

	err := r.Reload(context.Background(), dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate source_id")
}

func TestReload_UnknownKindSkipped(t *testing.T) {
	r := testRegistry()
	table := append(configs(), domain.SourceConfig{
		SourceID: "mystery",
		Name:     "Mystery",
		URL:      "https://example.com",
		Kind:     domain.SourceKind("CARRIER_PIGEON"),
	})

	require.NoError(t, r.Reload(context.Background(), table))
	assert.Len(t, r.GetAllSources(), 3)
	_, ok := r.GetSource("mystery")
	assert.False(t, ok)
}

func TestReload_BrowserKindNeedsDriver(t *testing.T) {
	r := testRegistry()
	table := []domain.SourceConfig{{
		SourceID: "spa",
		Name:     "SPA",
		URL:      "https://spa.example.com",
		Kind:     domain.KindBrowserAutomate,
	}}

	require.NoError(t, r.Reload(context.Background(), table))
	_, ok := r.GetSource("spa")
	assert.False(t, ok, "browser source without a driver is skipped")
}

func TestReload_ReplacesTable(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Reload(context.Background(), configs()))
	require.Len(t, r.GetAllSources(), 3)

	require.NoError(t, r.Reload(context.Background(), configs()[:1]))
	assert.Len(t, r.GetAllSources(), 1)
}

func TestReload_PrimesFromCache(t *testing.T) {
	log := logger.NewStyledLogger(slog.New(slog.DiscardHandler))
	store := cache.NewTiered(cache.NewMemory(0), nil, log)
	store.Set(context.Background(), source.CacheKey("api-one"),
		[]domain.NewsItem{{ID: "x", Title: "cached", URL: "https://e.com/x"}}, time.Minute)

	r := NewRegistry(Deps{Client: nullFetcher{}, Cache: store, Logger: log})
	require.NoError(t, r.Reload(context.Background(), configs()))

	src, ok := r.GetSource("api-one")
	require.True(t, ok)
	assert.Equal(t, 1, src.CacheStatus().State.ItemsCount)
}

func TestDecodeOptions(t *testing.T) {
	opts, err := decodeOptions(map[string]any{
		"api_url":      "https://api.example.com/v1",
		"need_proxy":   true,
		"min_interval": "2m",
		"headers":      map[string]any{"Referer": "https://example.com"},
		"unknown_key":  "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", opts.APIURL)
	assert.True(t, opts.NeedProxy)
	assert.Equal(t, 2*time.Minute, opts.MinInterval)
	assert.Equal(t, "https://example.com", opts.Headers["Referer"])
}

func TestReload_ExtendedValidityFlagReachesSource(t *testing.T) {
	r := testRegistry()
	require.NoError(t, r.Reload(context.Background(), []domain.SourceConfig{{
		SourceID: "patient",
		Name:     "Patient",
		URL:      "https://api.example.com",
		Kind:     domain.KindJSONAPI,
		Options:  map[string]any{"extended_validity": true},
	}}))

	src, ok := r.GetSource("patient")
	require.True(t, ok)
	assert.True(t, src.CacheStatus().Config.ExtendedValidity)
}
