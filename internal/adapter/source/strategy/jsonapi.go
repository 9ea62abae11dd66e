package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/internal/util"
)

// Field-map defaults: upstream key tried per NewsItem field when the source
// does not declare its own mapping.
var defaultFieldCandidates = map[string][]string{
	"id":           {"id", "uid", "item_id", "original_id"},
	"title":        {"title", "name", "headline", "word"},
	"url":          {"url", "link", "href", "www_url"},
	"mobile_url":   {"mobile_url", "mobileUrl", "m_url"},
	"summary":      {"summary", "description", "desc", "digest", "brief"},
	"content":      {"content", "body", "text"},
	"author":       {"author", "user", "nickname", "source"},
	"image_url":    {"image_url", "img", "image", "pic", "cover", "thumbnail"},
	"published_at": {"published_at", "pub_date", "date", "time", "publish_time", "created_at", "ctime"},
}

// JSONAPI fetches one or more JSON endpoints, walks a dotted data path to the
// item list, and maps fields declaratively. Multi-endpoint sources merge and
// dedup by item identity.
type JSONAPI struct {
	cfg    domain.SourceConfig
	opts   domain.SourceOptions
	client Fetcher
	logger *logger.StyledLogger
}

func NewJSONAPI(cfg domain.SourceConfig, opts domain.SourceOptions, deps Deps) *JSONAPI {
	return &JSONAPI{cfg: cfg, opts: opts, client: deps.Client, logger: deps.Logger}
}

func (s *JSONAPI) Kind() domain.SourceKind { return domain.KindJSONAPI }

// endpoints resolves the configured API URLs. Relative entries are joined
// onto the source URL, keeping any path prefix it carries.
func (s *JSONAPI) endpoints() []string {
	if len(s.opts.APIURLs) > 0 {
		out := make([]string, len(s.opts.APIURLs))
		for i, endpoint := range s.opts.APIURLs {
			out[i] = util.JoinURLPath(s.cfg.URL, endpoint)
		}
		return out
	}
	if s.opts.APIURL != "" {
		return []string{util.JoinURLPath(s.cfg.URL, s.opts.APIURL)}
	}
	return []string{s.cfg.URL}
}

func (s *JSONAPI) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	endpoints := s.endpoints()

	var merged []domain.NewsItem
	seen := make(map[string]struct{})
	var lastErr error
	succeeded := 0

	for _, endpoint := range endpoints {
		items, err := s.fetchOne(ctx, endpoint)
		if err != nil {
			lastErr = err
			s.logger.WarnWithSource("endpoint failed", s.cfg.SourceID, "url", endpoint, "error", err)
			continue
		}
		succeeded++

		for _, item := range items {
			key := item.ID
			if key == "" {
				key = item.URL
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, item)
		}
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

func (s *JSONAPI) fetchOne(ctx context.Context, endpoint string) ([]domain.NewsItem, error) {
	resp, err := s.client.Do(ctx, baseRequest(s.cfg, s.opts, endpoint))
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, &domain.ProtocolError{URL: endpoint, Err: err}
	}

	list, err := extractList(payload, s.opts.DataPath)
	if err != nil {
		return nil, &domain.ProtocolError{URL: endpoint, Err: err}
	}

	items := make([]domain.NewsItem, 0, len(list))
	for _, element := range list {
		record, ok := element.(map[string]any)
		if !ok {
			continue
		}
		if item, ok := s.mapItem(record); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// extractList walks a dotted path ("data.items") into the decoded document
// and expects a list at the end. An empty path means the document itself is
// the list.
func extractList(payload any, dataPath string) ([]any, error) {
	node := payload
	if dataPath != "" {
		for _, segment := range strings.Split(dataPath, ".") {
			obj, ok := node.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("data path %q: segment %q applied to non-object", dataPath, segment)
			}
			node, ok = obj[segment]
			if !ok {
				return nil, fmt.Errorf("data path %q: segment %q missing", dataPath, segment)
			}
		}
	}

	list, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("data path %q does not resolve to a list", dataPath)
	}
	return list, nil
}

func (s *JSONAPI) mapItem(record map[string]any) (domain.NewsItem, bool) {
	item := domain.NewsItem{
		SourceID:   s.cfg.SourceID,
		SourceName: s.cfg.Name,
		UpdatedAt:  time.Now(),
	}

	item.ID = s.stringField(record, "id")
	item.Title = s.stringField(record, "title")
	item.URL = s.stringField(record, "url")
	item.MobileURL = s.stringField(record, "mobile_url")
	item.Summary = s.stringField(record, "summary")
	item.Content = s.stringField(record, "content")
	item.Author = s.stringField(record, "author")
	item.ImageURL = s.stringField(record, "image_url")

	if item.Title == "" || item.URL == "" {
		return domain.NewsItem{}, false
	}
	item.URL = util.ResolveURL(s.cfg.URL, item.URL)

	if raw := s.stringField(record, "published_at"); raw != "" {
		if t, ok := util.ParseNewsDate(raw, time.Now()); ok {
			item.PublishedAt = t
		}
	}
	if item.PublishedAt.IsZero() {
		item.PublishedAt = time.Now()
	}

	// Unmapped keys ride along for downstream consumers.
	item.Extra = map[string]any{}
	for k, v := range record {
		item.Extra[k] = v
	}

	return item, true
}

// stringField resolves one logical field, preferring the source's declared
// mapping over the default candidates. Numeric values are rendered; anything
// else is ignored.
func (s *JSONAPI) stringField(record map[string]any, field string) string {
	if mapped, ok := s.opts.FieldMap[field]; ok {
		return stringify(lookupPath(record, mapped))
	}
	for _, candidate := range defaultFieldCandidates[field] {
		if v, ok := record[candidate]; ok {
			if rendered := stringify(v); rendered != "" {
				return rendered
			}
		}
	}
	return ""
}

// lookupPath resolves a possibly dotted key inside one record.
func lookupPath(record map[string]any, path string) any {
	var node any = record
	for _, segment := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = obj[segment]
	}
	return node
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}
