package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"DoomsdayClock/internal/config"
	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/ports"
)

const userAgent = "DoomsdayClock/1.0"

// Collector implements ports.Collector over RSS and Atom feeds.
type Collector struct {
	client  *http.Client
	sources []config.SourceConfig
	logger  *slog.Logger
}

var _ ports.Collector = (*Collector)(nil)

// NewCollector wires an HTTP client with config-defined feed sources.
func NewCollector(client *http.Client, sources []config.SourceConfig, log *slog.Logger) *Collector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Collector{
		client:  client,
		sources: sources,
		logger:  log,
	}
}

// CollectCandidates fetches every source concurrently and keeps the first
// limitPerSource entries of each. Results follow the configured source order.
func (c *Collector) CollectCandidates(ctx context.Context, limitPerSource int) ([]domain.RawItem, error) {
	if limitPerSource <= 0 {
		return []domain.RawItem{}, nil
	}

	c.debug("collect candidates", "sources", len(c.sources), "limit_per_source", limitPerSource)

	perSource := make([][]domain.RawItem, len(c.sources))
	var wg sync.WaitGroup
	for i, source := range c.sources {
		wg.Add(1)
		go func(i int, source config.SourceConfig) {
			defer wg.Done()

			items, err := c.fetchSource(ctx, source, limitPerSource)
			if err != nil {
				c.warn("source skipped", "source", source.Name, "error", err)
				return
			}
			c.debug("source produced items", "source", source.Name, "count", len(items))
			perSource[i] = items
		}(i, source)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return lo.Flatten(perSource), err
	}

	aggregated := lo.Flatten(perSource)
	c.debug("collector done", "total_items", len(aggregated))
	return aggregated, nil
}

func (c *Collector) fetchSource(ctx context.Context, source config.SourceConfig, limit int) ([]domain.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := parsed.Items
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return lo.Map(entries, func(entry *gofeed.Item, _ int) domain.RawItem {
		return toRawItem(source.Name, entry)
	}), nil
}

func toRawItem(source string, entry *gofeed.Item) domain.RawItem {
	summary := entry.Description
	if strings.TrimSpace(summary) == "" {
		summary = entry.Content
	}

	var published time.Time
	switch {
	case entry.PublishedParsed != nil:
		published = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		published = entry.UpdatedParsed.UTC()
	}

	return domain.RawItem{
		Source:      source,
		Title:       strings.TrimSpace(entry.Title),
		Summary:     StripHTML(summary),
		URL:         strings.TrimSpace(entry.Link),
		PublishedAt: published,
	}
}

// StripHTML returns the text content of an HTML fragment with collapsed whitespace.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (c *Collector) debug(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Collector) warn(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
