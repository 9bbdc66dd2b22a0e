package domain

// Polarity is the outcome of a sentiment analysis.
// Compound lies in [-1, 1]; negative means negative sentiment.
type Polarity struct {
	Compound float64
	// Fallback is set when the analyzer could not rate the text and
	// Compound carries the neutral substitute.
	Fallback bool
}

// NeutralPolarity is substituted for empty or unratable text.
func NeutralPolarity() Polarity {
	return Polarity{Compound: 0, Fallback: true}
}
