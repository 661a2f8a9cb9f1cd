// ABOUTME: News feed connector parsing RSS 2.0 and Atom documents.
// ABOUTME: Attributes every identifier found in an item to that item, weighted per feed.

package feeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jfeddern/ThreatPulse/internal/extract"
	"github.com/jfeddern/ThreatPulse/internal/providers/httpclient"
	"github.com/jfeddern/ThreatPulse/internal/types"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

// Feed describes one weighted news source
type Feed struct {
	Name   string  `yaml:"name"`
	URL    string  `yaml:"url"`
	Weight float64 `yaml:"weight"`
}

// Item is one parsed feed entry
type Item struct {
	Title   string
	Summary string
	Link    string
	Date    *time.Time
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z07:00",
}

// FeedSource implements the engine connector for a single news feed
type FeedSource struct {
	client  *httpclient.Client
	feed    Feed
	timeout time.Duration
	logger  *logrus.Logger
}

// NewFeedSource creates a connector for feed. A non-positive weight counts as 1.
func NewFeedSource(client *httpclient.Client, feed Feed, logger *logrus.Logger) *FeedSource {
	if feed.Weight <= 0 {
		feed.Weight = 1
	}
	return &FeedSource{
		client:  client,
		feed:    feed,
		timeout: 15 * time.Second,
		logger:  logger,
	}
}

// Name returns the feed name
func (f *FeedSource) Name() string {
	return f.feed.Name
}

// Kind returns the text kind
func (f *FeedSource) Kind() types.SourceKind {
	return types.KindText
}

// Timeout returns the per-fetch timeout
func (f *FeedSource) Timeout() time.Duration {
	return f.timeout
}

// Fetch downloads the feed and emits one record per identifier per item
func (f *FeedSource) Fetch(ctx context.Context) ([]types.VulnerabilityRecord, error) {
	logger := f.logger.WithFields(logrus.Fields{
		"operation": "fetch",
		"source":    f.Name(),
	})

	body, err := f.client.Get(ctx, f.feed.URL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	items, err := Parse(body)
	if err != nil {
		return nil, err
	}

	var records []types.VulnerabilityRecord
	seen := make(map[string]struct{})
	for _, item := range items {
		for _, id := range extract.FromFields(item.Title, item.Summary) {
			key := id + "|" + item.Link
			if _, dup := seen[key]; dup && item.Link != "" {
				continue
			}
			seen[key] = struct{}{}

			records = append(records, types.VulnerabilityRecord{
				Identifier: id,
				MediaMentions: []types.MediaMention{{
					SourceName: f.Name(),
					Title:      item.Title,
					URL:        item.Link,
					Date:       item.Date,
				}},
				MediaWeight: f.feed.Weight,
			})
		}
	}

	logger.WithFields(logrus.Fields{
		"items":    len(items),
		"mentions": len(records),
	}).Info("Fetched news feed")

	return records, nil
}

// Parse reads an RSS 2.0 or Atom document
func Parse(data []byte) ([]Item, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse feed XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("feed document has no root element")
	}

	switch root.Tag {
	case "rss":
		return parseRSS(root), nil
	case "feed":
		return parseAtom(root), nil
	case "RDF":
		// RSS 1.0 keeps items beside the channel
		return parseItems(root.SelectElements("item")), nil
	}
	return nil, fmt.Errorf("unsupported feed root element %q", root.Tag)
}

func parseRSS(root *etree.Element) []Item {
	channel := root.SelectElement("channel")
	if channel == nil {
		return nil
	}
	return parseItems(channel.SelectElements("item"))
}

func parseItems(elements []*etree.Element) []Item {
	items := make([]Item, 0, len(elements))
	for _, el := range elements {
		item := Item{
			Title:   text(el, "title"),
			Summary: text(el, "description"),
			Link:    text(el, "link"),
			Date:    parseDate(text(el, "pubDate"), text(el, "dc:date")),
		}
		if encoded := text(el, "content:encoded"); encoded != "" {
			item.Summary = strings.TrimSpace(item.Summary + " " + encoded)
		}
		if item.Link == "" {
			item.Link = text(el, "guid")
		}
		items = append(items, item)
	}
	return items
}

func parseAtom(root *etree.Element) []Item {
	entries := root.SelectElements("entry")
	items := make([]Item, 0, len(entries))
	for _, el := range entries {
		item := Item{
			Title:   text(el, "title"),
			Summary: strings.TrimSpace(text(el, "summary") + " " + text(el, "content")),
			Link:    atomLink(el),
			Date:    parseDate(text(el, "published"), text(el, "updated")),
		}
		items = append(items, item)
	}
	return items
}

func atomLink(entry *etree.Element) string {
	var fallback string
	for _, link := range entry.SelectElements("link") {
		href := link.SelectAttrValue("href", "")
		if href == "" {
			continue
		}
		rel := link.SelectAttrValue("rel", "alternate")
		if rel == "alternate" {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

func text(el *etree.Element, tag string) string {
	child := el.SelectElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

func parseDate(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}
