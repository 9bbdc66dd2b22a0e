package sentiment

import (
	"math"
	"strings"

	"github.com/jonreiter/govader"

	"DoomsdayClock/internal/domain"
	"DoomsdayClock/internal/ports"
)

// VaderAnalyzer rates text with the VADER lexicon.
type VaderAnalyzer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

var _ ports.PolarityAnalyzer = (*VaderAnalyzer)(nil)

// NewVaderAnalyzer loads the bundled lexicon.
func NewVaderAnalyzer() *VaderAnalyzer {
	return &VaderAnalyzer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Analyze returns the compound polarity, or the neutral fallback for text
// VADER cannot rate.
func (v *VaderAnalyzer) Analyze(text string) domain.Polarity {
	if v == nil || v.analyzer == nil || strings.TrimSpace(text) == "" {
		return domain.NeutralPolarity()
	}

	compound := v.analyzer.PolarityScores(text).Compound
	if math.IsNaN(compound) || math.IsInf(compound, 0) {
		return domain.NeutralPolarity()
	}

	return domain.Polarity{Compound: math.Max(-1, math.Min(1, compound))}
}
