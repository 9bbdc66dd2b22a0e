package normalizer

import (
	"strings"
	"time"

	"DoomsdayClock/internal/domain"
)

const (
	// MaxTitleLength bounds titles in characters.
	MaxTitleLength = 500
	// MaxSummaryLength bounds summaries in characters.
	MaxSummaryLength = 2000
)

// Category groups keyword phrases that identify a topic.
type Category struct {
	Name     string
	Keywords []string
}

// DefaultCategories returns the built-in categories in declaration order.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Nuclear", Keywords: []string{"nuclear", "atomic", "radiation"}},
		{Name: "Guerra", Keywords: []string{"war", "missile", "invasion", "strike"}},
		{Name: "Clima", Keywords: []string{"climate", "tipping point", "wildfire", "flood"}},
		{Name: "Pandemia", Keywords: []string{"pandemic", "outbreak", "virus"}},
		{Name: "IA", Keywords: []string{"ai", "arms race", "autonomous weapons"}},
	}
}

// Normalizer turns raw collected records into storable news items.
type Normalizer struct {
	categories []Category
}

// New copies the category table; nil selects DefaultCategories.
func New(categories []Category) *Normalizer {
	if categories == nil {
		categories = DefaultCategories()
	}

	table := make([]Category, 0, len(categories))
	for _, cat := range categories {
		keys := make([]string, 0, len(cat.Keywords))
		for _, k := range cat.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keys = append(keys, k)
			}
		}
		table = append(table, Category{Name: cat.Name, Keywords: keys})
	}

	return &Normalizer{categories: table}
}

// Normalize converts a batch, dropping items without URL and URL duplicates.
// The first occurrence of a URL wins. Missing timestamps become now.
func (n *Normalizer) Normalize(raws []domain.RawItem, now time.Time) []domain.NewsItem {
	now = now.UTC()
	seen := make(map[string]struct{}, len(raws))
	items := make([]domain.NewsItem, 0, len(raws))

	for _, raw := range raws {
		url := strings.TrimSpace(raw.URL)
		if url == "" {
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}

		items = append(items, n.item(raw, url, now))
	}

	return items
}

func (n *Normalizer) item(raw domain.RawItem, url string, now time.Time) domain.NewsItem {
	publishedAt := now
	if !raw.PublishedAt.IsZero() {
		publishedAt = raw.PublishedAt.UTC()
	}

	title := truncate(raw.Title, MaxTitleLength)
	summary := truncate(raw.Summary, MaxSummaryLength)

	return domain.NewsItem{
		Source:      raw.Source,
		Title:       title,
		Summary:     summary,
		URL:         url,
		PublishedAt: publishedAt,
		Category:    n.InferCategory(title + "\n" + summary),
	}
}

// InferCategory picks the category with the strictly highest number of
// matching phrases. Ties go to the category declared first.
func (n *Normalizer) InferCategory(text string) string {
	text = strings.ToLower(text)

	best, bestHits := domain.DefaultCategory, 0
	for _, cat := range n.categories {
		hits := 0
		for _, k := range cat.Keywords {
			if strings.Contains(text, k) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cat.Name, hits
		}
	}

	return best
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
