package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davral/tidings/internal/core/domain"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
	<channel>
		<title>Example Feed</title>
		<item>
			<title>Feed Story One</title>
			<link>https://example.com/feed/1</link>
			<guid>feed-guid-1</guid>
			<description>First story</description>
			<pubDate>Sat, 14 Jun 2025 09:00:00 GMT</pubDate>
			<category>tech</category>
		</item>
		<item>
			<title>Feed Story Two</title>
			<link>https://example.com/feed/2</link>
		</item>
	</channel>
</rss>`

func rssSource(fetcher *fakeFetcher, backups ...string) *RSS {
	return NewRSS(domain.SourceConfig{
		SourceID: "rss-src",
		Name:     "RSS Source",
		URL:      "https://example.com/feed.xml",
	}, domain.SourceOptions{BackupURLs: backups}, testDeps(fetcher))
}

func TestRSS_Fetch(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://example.com/feed.xml": sampleFeed,
	}}

	items, err := rssSource(fetcher).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Feed Story One", items[0].Title)
	assert.Equal(t, "https://example.com/feed/1", items[0].URL)
	assert.Equal(t, "First story", items[0].Summary)
	assert.Equal(t, []string{"tech"}, items[0].Tags)
	assert.Equal(t, 2025, items[0].PublishedAt.Year())
	assert.NotEmpty(t, items[0].ID, "guid-backed id")

	// Entry with no pubDate still carries a timestamp.
	assert.False(t, items[1].PublishedAt.IsZero())
}

func TestRSS_BackupURLs(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies: map[string]string{
			"https://backup.example.com/feed.xml": sampleFeed,
		},
		errs: map[string]error{
			"https://example.com/feed.xml": errors.New("primary down"),
		},
	}

	items, err := rssSource(fetcher, "https://backup.example.com/feed.xml").Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, []string{
		"https://example.com/feed.xml",
		"https://backup.example.com/feed.xml",
	}, fetcher.calls)
}

func TestRSS_AllURLsFail(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://example.com/feed.xml": errors.New("down"),
	}}

	_, err := rssSource(fetcher).Fetch(context.Background())
	assert.Error(t, err)
}

func TestRSS_MalformedFeed(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://example.com/feed.xml": "this is not xml at all",
	}}

	_, err := rssSource(fetcher).Fetch(context.Background())
	var pe *domain.ProtocolError
	assert.ErrorAs(t, err, &pe)
}
