package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// NewsItem is the unit of output produced by every source strategy.
// Title and URL are guaranteed non-empty after normalisation.
type NewsItem struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	MobileURL   string         `json:"mobile_url,omitempty"`
	SourceID    string         `json:"source_id"`
	SourceName  string         `json:"source_name"`
	Summary     string         `json:"summary,omitempty"`
	Content     string         `json:"content,omitempty"`
	Author      string         `json:"author,omitempty"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	Language    string         `json:"language,omitempty"`
	Country     string         `json:"country,omitempty"`
	PublishedAt time.Time      `json:"published_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// DeriveItemID produces the stable id for an item that did not supply one:
// md5 over source_id:url[:title][:published_at].
func DeriveItemID(sourceID, url, title string, publishedAt time.Time) string {
	var b strings.Builder
	b.WriteString(sourceID)
	b.WriteByte(':')
	b.WriteString(url)
	if title != "" {
		b.WriteByte(':')
		b.WriteString(title)
	}
	if !publishedAt.IsZero() {
		b.WriteByte(':')
		b.WriteString(publishedAt.UTC().Format(time.RFC3339))
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep-enough copy for handing cached lists to callers.
// The Extra bag is copied shallowly per key; values are treated as immutable.
func (n NewsItem) Clone() NewsItem {
	out := n
	if n.Tags != nil {
		out.Tags = append([]string(nil), n.Tags...)
	}
	if n.Extra != nil {
		out.Extra = make(map[string]any, len(n.Extra))
		for k, v := range n.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// CloneItems copies a list so cache internals never leak to callers.
func CloneItems(items []NewsItem) []NewsItem {
	if items == nil {
		return nil
	}
	out := make([]NewsItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
