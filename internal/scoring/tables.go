package scoring

// UnknownSourceWeight is the source sub-score of sources missing from the table.
const UnknownSourceWeight = 0.75

// Weights are the composite coefficients of the four sub-scores.
// They are not required to sum to one; the composite is clamped instead.
type Weights struct {
	Sentiment float64 `yaml:"sentiment"`
	Keywords  float64 `yaml:"keywords"`
	Source    float64 `yaml:"source"`
	Recency   float64 `yaml:"recency"`
}

// DefaultWeights returns the process-wide default weights.
func DefaultWeights() Weights {
	return Weights{
		Sentiment: 0.35,
		Keywords:  0.40,
		Source:    0.15,
		Recency:   0.10,
	}
}

// DefaultKeywords maps alarming phrases to weights in [0,1].
func DefaultKeywords() map[string]float64 {
	return map[string]float64{
		"nuclear":               1.0,
		"war":                   0.9,
		"missile":               0.9,
		"radiation":             0.9,
		"atomic":                0.95,
		"world war":             1.0,
		"outbreak":              0.85,
		"pandemic":              0.9,
		"ai arms race":          0.85,
		"climate tipping point": 0.9,
		"catastrophe":           0.8,
		"collapse":              0.75,
		"genocide":              0.9,
		"terror":                0.7,
	}
}

// DefaultSources maps source identifiers to credibility weights in [0,1].
func DefaultSources() map[string]float64 {
	return map[string]float64{
		"NYT":          0.95,
		"BBC":          0.92,
		"Reuters":      0.98,
		"AP":           0.95,
		"Al Jazeera":   0.88,
		"The Guardian": 0.90,
	}
}
