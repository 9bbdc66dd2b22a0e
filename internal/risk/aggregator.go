package risk

import (
	"context"
	"fmt"
	"math"

	"DoomsdayClock/internal/domain"
)

const (
	// MaxMinutes is shown for zero risk.
	MaxMinutes = 12.0
	// MinMinutes is shown for full risk.
	MinMinutes = 1.0

	curveExponent = 1.6
)

// ToMinutes maps a risk in [0,1] onto the minutes-to-midnight scale.
// The super-linear curve keeps low risk near 12 and approaches 1 minute
// only at full risk. Out of range input is clamped.
func ToMinutes(risk float64) float64 {
	if math.IsNaN(risk) || risk < 0 {
		risk = 0
	}
	if risk > 1 {
		risk = 1
	}

	minutes := MaxMinutes - math.Pow(risk, curveExponent)*(MaxMinutes-MinMinutes)
	minutes = math.Round(minutes*100) / 100

	return math.Max(MinMinutes, minutes)
}

// ToSeconds converts clock minutes into whole seconds.
func ToSeconds(minutes float64) int {
	return int(minutes * 60)
}

// Reading builds the clock representation of a global risk.
func Reading(globalRisk float64) domain.RiskReading {
	minutes := ToMinutes(globalRisk)
	return domain.RiskReading{
		GlobalRisk:        globalRisk,
		MinutesToMidnight: minutes,
		SecondsToMidnight: ToSeconds(minutes),
	}
}

// GlobalRiskSource yields the aggregated risk of recent scores.
type GlobalRiskSource interface {
	FetchGlobalRisk(ctx context.Context) (float64, error)
}

// Aggregator turns stored scores into the current clock reading.
type Aggregator struct {
	source GlobalRiskSource
}

// NewAggregator wires the store that computes the windowed average.
func NewAggregator(source GlobalRiskSource) *Aggregator {
	return &Aggregator{source: source}
}

// Current reads the global risk and converts it to minutes.
func (a *Aggregator) Current(ctx context.Context) (domain.RiskReading, error) {
	globalRisk, err := a.source.FetchGlobalRisk(ctx)
	if err != nil {
		return domain.RiskReading{}, fmt.Errorf("fetch global risk: %w", err)
	}
	return Reading(globalRisk), nil
}
