package strategy

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
)

// RSS fetches a feed URL through the shared substrate and parses it as
// RSS 2.0, Atom or JSON Feed. Backup URLs are tried in order when the
// primary fails.
type RSS struct {
	cfg    domain.SourceConfig
	opts   domain.SourceOptions
	client Fetcher
	logger *logger.StyledLogger
	parser *gofeed.Parser
}

func NewRSS(cfg domain.SourceConfig, opts domain.SourceOptions, deps Deps) *RSS {
	return &RSS{
		cfg:    cfg,
		opts:   opts,
		client: deps.Client,
		logger: deps.Logger,
		parser: gofeed.NewParser(),
	}
}

func (s *RSS) Kind() domain.SourceKind { return domain.KindRSS }

func (s *RSS) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	urls := append([]string{s.cfg.URL}, s.opts.BackupURLs...)

	var lastErr error
	for i, feedURL := range urls {
		if feedURL == "" {
			continue
		}
		items, err := s.fetchFeed(ctx, feedURL)
		if err == nil {
			if i > 0 {
				s.logger.InfoWithSource("backup feed served", s.cfg.SourceID, "url", feedURL)
			}
			return items, nil
		}
		lastErr = err
		s.logger.WarnWithSource("feed failed", s.cfg.SourceID, "url", feedURL, "error", err)
	}
	return nil, lastErr
}

func (s *RSS) fetchFeed(ctx context.Context, feedURL string) ([]domain.NewsItem, error) {
	resp, err := s.client.Do(ctx, baseRequest(s.cfg, s.opts, feedURL))
	if err != nil {
		return nil, err
	}

	feed, err := s.parser.ParseString(resp.Text(s.opts.Encoding))
	if err != nil {
		return nil, &domain.ProtocolError{URL: feedURL, Err: err}
	}

	now := time.Now()
	items := make([]domain.NewsItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil || entry.Title == "" || entry.Link == "" {
			continue
		}

		item := domain.NewsItem{
			SourceID:    s.cfg.SourceID,
			SourceName:  s.cfg.Name,
			Title:       entry.Title,
			URL:         entry.Link,
			Summary:     strings.TrimSpace(entry.Description),
			Content:     strings.TrimSpace(entry.Content),
			PublishedAt: now,
			UpdatedAt:   now,
		}

		if entry.GUID != "" {
			item.ID = domain.DeriveItemID(s.cfg.SourceID, entry.GUID, "", time.Time{})
		}
		if entry.PublishedParsed != nil {
			item.PublishedAt = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			item.PublishedAt = *entry.UpdatedParsed
		}
		if entry.Author != nil {
			item.Author = entry.Author.Name
		}
		if entry.Image != nil {
			item.ImageURL = entry.Image.URL
		}
		if len(entry.Categories) > 0 {
			item.Tags = entry.Categories
		}

		items = append(items, item)
	}

	return items, nil
}
