package scoring

import (
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/ports"
)

const (
	keywordBonusStep = 0.04
	keywordBonusCap  = 0.2
)

// Options configures an Engine. Nil tables and nil Weights select the
// defaults. Non-nil Weights are used as given, all zeros included.
type Options struct {
	Weights  *Weights
	Keywords map[string]float64
	Sources  map[string]float64
	Analyzer ports.PolarityAnalyzer
	// Workers bounds ScoreAll concurrency; zero means GOMAXPROCS.
	Workers int
}

type keyword struct {
	phrase string
	weight float64
}

// Engine computes threat scores. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	weights  Weights
	keywords []keyword
	sources  map[string]float64
	analyzer ports.PolarityAnalyzer
	workers  int
}

// New freezes the configured tables into an Engine.
func New(opts Options) *Engine {
	keywords := opts.Keywords
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	sources := opts.Sources
	if sources == nil {
		sources = DefaultSources()
	}

	// Sorted so that float sums are reproducible across runs.
	table := make([]keyword, 0, len(keywords))
	for phrase, weight := range keywords {
		phrase = strings.ToLower(strings.TrimSpace(phrase))
		if phrase == "" || weight <= 0 {
			continue
		}
		table = append(table, keyword{phrase: phrase, weight: clamp01(weight)})
	}
	sort.Slice(table, func(i, j int) bool { return table[i].phrase < table[j].phrase })

	frozen := make(map[string]float64, len(sources))
	for name, weight := range sources {
		frozen[name] = weight
	}

	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	return &Engine{
		weights:  weights,
		keywords: table,
		sources:  frozen,
		analyzer: opts.Analyzer,
		workers:  workers,
	}
}

// Score rates one item as of now.
func (e *Engine) Score(item domain.NewsItem, now time.Time) domain.ThreatScore {
	text := item.Title + "\n" + item.Summary

	s := e.SentimentScore(text)
	k := e.KeywordScore(text)
	sw := e.SourceWeight(item.Source)
	r := RecencyScore(item.PublishedAt, now)

	final := clamp01(
		s*e.weights.Sentiment +
			k*e.weights.Keywords +
			sw*e.weights.Source +
			r*e.weights.Recency,
	)

	return domain.ThreatScore{
		ItemURL:      item.URL,
		Sentiment:    s,
		Keywords:     k,
		SourceWeight: sw,
		Recency:      r,
		Final:        final,
		Label:        domain.LabelFor(final),
	}
}

// ScoreAll rates items concurrently; the result keeps the input order.
func (e *Engine) ScoreAll(items []domain.NewsItem, now time.Time) []domain.ThreatScore {
	scores := make([]domain.ThreatScore, len(items))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range items {
		g.Go(func() error {
			scores[i] = e.Score(items[i], now)
			return nil
		})
	}
	// Score never fails, so Wait only joins the workers.
	_ = g.Wait()

	return scores
}

// SentimentScore maps polarity to risk: most negative 1, neutral 0.5, most positive 0.
func (e *Engine) SentimentScore(text string) float64 {
	return SentimentRisk(e.polarity(text))
}

func (e *Engine) polarity(text string) domain.Polarity {
	if e.analyzer == nil || strings.TrimSpace(text) == "" {
		return domain.NeutralPolarity()
	}
	return e.analyzer.Analyze(text)
}

// SentimentRisk converts a polarity into a [0,1] risk.
func SentimentRisk(p domain.Polarity) float64 {
	return clamp01(1 - (p.Compound+1)/2)
}

// KeywordScore averages the weights of matched phrases and adds a breadth
// bonus. It is exactly zero when nothing matches.
func (e *Engine) KeywordScore(text string) float64 {
	text = strings.ToLower(text)

	var (
		sum  float64
		hits int
	)
	for _, k := range e.keywords {
		if strings.Contains(text, k.phrase) {
			sum += k.weight
			hits++
		}
	}
	if hits == 0 {
		return 0
	}

	bonus := keywordBonusStep * float64(hits-1)
	if bonus > keywordBonusCap {
		bonus = keywordBonusCap
	}

	return clamp01(sum/float64(hits) + bonus)
}

// SourceWeight looks up a source, defaulting to UnknownSourceWeight.
func (e *Engine) SourceWeight(source string) float64 {
	weight, ok := e.sources[source]
	if !ok {
		weight = UnknownSourceWeight
	}
	return clamp01(weight)
}

// RecencyScore is a step function of item age in hours.
func RecencyScore(publishedAt, now time.Time) float64 {
	age := now.UTC().Sub(publishedAt.UTC()).Hours()

	switch {
	case age <= 24:
		return 1.0
	case age <= 72:
		return 0.6
	case age <= 168:
		return 0.35
	default:
		return 0.10
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
