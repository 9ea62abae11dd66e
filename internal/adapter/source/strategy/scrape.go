package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/internal/util"
)

// timeTokenRe matches the clock/date fragments list pages embed next to
// headlines, so fallbacks can subtract them from anchor text.
var timeTokenRe = regexp.MustCompile(`\d{1,2}:\d{2}(:\d{2})?|\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d+\s*(分钟前|小时前|天前|minutes? ago|hours? ago|days? ago)`)

// Scrape fetches a listing page and extracts items with a per-source CSS
// selector map.
type Scrape struct {
	cfg    domain.SourceConfig
	opts   domain.SourceOptions
	client Fetcher
	logger *logger.StyledLogger
}

func NewScrape(cfg domain.SourceConfig, opts domain.SourceOptions, deps Deps) *Scrape {
	return &Scrape{cfg: cfg, opts: opts, client: deps.Client, logger: deps.Logger}
}

func (s *Scrape) Kind() domain.SourceKind { return domain.KindWebScrape }

func (s *Scrape) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	resp, err := s.client.Do(ctx, baseRequest(s.cfg, s.opts, s.cfg.URL))
	if err != nil {
		return nil, err
	}
	return s.Extract(resp.Text(s.opts.Encoding))
}

// Extract parses rendered HTML with the configured selector map. Split out
// from Fetch so the browser strategy can reuse it on a rendered DOM.
func (s *Scrape) Extract(html string) ([]domain.NewsItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &domain.ProtocolError{URL: s.cfg.URL, Err: err}
	}

	selectors := s.opts.Selectors
	if selectors.Item == "" {
		return nil, &domain.ProtocolError{URL: s.cfg.URL, Err: fmt.Errorf("source %s has no item selector", s.cfg.SourceID)}
	}

	now := time.Now()
	var items []domain.NewsItem

	doc.Find(selectors.Item).Each(func(_ int, sel *goquery.Selection) {
		item, ok := s.extractItem(sel, selectors, now)
		if ok {
			items = append(items, item)
		}
	})

	if len(items) == 0 {
		return nil, &domain.ProtocolError{URL: s.cfg.URL, Err: fmt.Errorf("selector %q matched no usable items", selectors.Item)}
	}
	return items, nil
}

func (s *Scrape) extractItem(sel *goquery.Selection, selectors domain.SelectorMap, now time.Time) (domain.NewsItem, bool) {
	title := s.extractTitle(sel, selectors.Title)
	link := s.extractLink(sel, selectors.Link)
	if title == "" || link == "" {
		return domain.NewsItem{}, false
	}

	item := domain.NewsItem{
		SourceID:    s.cfg.SourceID,
		SourceName:  s.cfg.Name,
		Title:       title,
		URL:         util.ResolveURL(s.cfg.URL, link),
		PublishedAt: now,
		UpdatedAt:   now,
	}

	if selectors.Date != "" {
		if raw := strings.TrimSpace(sel.Find(selectors.Date).First().Text()); raw != "" {
			if t, ok := util.ParseNewsDate(raw, now); ok {
				item.PublishedAt = t
			}
		}
	}
	if selectors.Summary != "" {
		item.Summary = strings.TrimSpace(sel.Find(selectors.Summary).First().Text())
	}
	if selectors.Content != "" {
		item.Content = strings.TrimSpace(sel.Find(selectors.Content).First().Text())
	}

	return item, true
}

// extractTitle runs the fallback chain: configured selector, title attribute,
// parent anchor text minus time tokens, then the longest non-time link text.
func (s *Scrape) extractTitle(sel *goquery.Selection, titleSelector string) string {
	if titleSelector != "" {
		if title := strings.TrimSpace(sel.Find(titleSelector).First().Text()); title != "" {
			return title
		}
	}

	if title, ok := sel.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}

	anchor := sel
	if !sel.Is("a") {
		anchor = sel.Find("a").First()
	}
	if anchor.Length() > 0 {
		text := timeTokenRe.ReplaceAllString(anchor.Text(), "")
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}

	// Longest link text that is not just a timestamp.
	longest := ""
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		if text == "" || timeTokenRe.MatchString(text) && len(timeTokenRe.ReplaceAllString(text, "")) < 3 {
			return
		}
		if len(text) > len(longest) {
			longest = text
		}
	})
	return longest
}

func (s *Scrape) extractLink(sel *goquery.Selection, linkSelector string) string {
	target := sel
	if linkSelector != "" {
		target = sel.Find(linkSelector).First()
	} else if !sel.Is("a") {
		target = sel.Find("a").First()
	}

	if href, ok := target.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}
