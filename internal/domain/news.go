package domain

import "time"

const (
	// NeutralRisk is reported by stores that hold no scores yet.
	NeutralRisk = 0.35
	// DefaultRiskWindow is how many of the most recent scores form the global risk.
	DefaultRiskWindow = 60
	// DefaultCategory is assigned when no category keyword matches.
	DefaultCategory = "Geral"
)

// RawItem is a candidate headline as delivered by a collector.
type RawItem struct {
	Source      string
	Title       string
	Summary     string
	URL         string
	PublishedAt time.Time // zero when the feed omits it
}

// NewsItem is a normalized headline keyed by URL.
type NewsItem struct {
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Category    string    `json:"category"`
}

// ThreatScore is the multi-factor score of one item.
type ThreatScore struct {
	ItemURL      string    `json:"item_url"`
	Sentiment    float64   `json:"sentiment"`
	Keywords     float64   `json:"keywords"`
	SourceWeight float64   `json:"source_weight"`
	Recency      float64   `json:"recency"`
	Final        float64   `json:"final"`
	Label        Label     `json:"label"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// FeedEntry is an item joined with its score, if any.
type FeedEntry struct {
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	FinalScore  *float64  `json:"final_score"`
	Label       *Label    `json:"label"`
	Summary     string    `json:"summary"`
}

// Scored reports whether the entry has a stored score.
func (e FeedEntry) Scored() bool {
	return e.FinalScore != nil
}

// FeedFilter narrows a feed listing. Empty fields match everything.
type FeedFilter struct {
	Limit    int
	Source   string
	Category string
	Label    string // a Label value or UnscoredLabel
}

// RiskPoint is the average risk of scores calculated within one minute.
type RiskPoint struct {
	Bucket      time.Time `json:"bucket"`
	AverageRisk float64   `json:"average_risk"`
}

// RiskReading is the global risk and its clock representation.
type RiskReading struct {
	GlobalRisk        float64 `json:"global_risk"`
	MinutesToMidnight float64 `json:"minutes_to_midnight"`
	SecondsToMidnight int     `json:"seconds_to_midnight"`
}

// RefreshSummary reports the outcome of one refresh cycle.
type RefreshSummary struct {
	ItemsCollected    int       `json:"items_collected"`
	ItemsStored       int       `json:"items_stored"`
	ItemsScored       int       `json:"items_scored"`
	GlobalRisk        float64   `json:"global_risk"`
	MinutesToMidnight float64   `json:"minutes_to_midnight"`
	SecondsToMidnight int       `json:"seconds_to_midnight"`
	RefreshedAt       time.Time `json:"refreshed_at"`
}
