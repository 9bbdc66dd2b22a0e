package domain

// Label is the severity class of a final score.
type Label string

const (
	LabelLow      Label = "Low"
	LabelMedium   Label = "Medium"
	LabelHigh     Label = "High"
	LabelCritical Label = "Critical"

	// UnscoredLabel selects feed entries without a score.
	UnscoredLabel = "N/A"
)

// Lower bounds (inclusive) of each label above Low.
const (
	MediumThreshold   = 0.25
	HighThreshold     = 0.50
	CriticalThreshold = 0.75
)

// LabelFor classifies a final score.
func LabelFor(final float64) Label {
	switch {
	case final < MediumThreshold:
		return LabelLow
	case final < HighThreshold:
		return LabelMedium
	case final < CriticalThreshold:
		return LabelHigh
	default:
		return LabelCritical
	}
}

// Rank orders labels from Low (0) to Critical (3); unknown labels rank -1.
func (l Label) Rank() int {
	switch l {
	case LabelLow:
		return 0
	case LabelMedium:
		return 1
	case LabelHigh:
		return 2
	case LabelCritical:
		return 3
	default:
		return -1
	}
}
