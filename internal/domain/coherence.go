package domain

import "math"

// Corridor bounds of the coherence score. They are fixed constants of the
// system and are not configurable per call.
const (
	CorridorLow  = 1 / math.Phi // ≈ 0.618034
	CorridorHigh = 2.0 / 3.0    // ≈ 0.666667
)

type CoherenceConfidence string

const (
	ConfidenceLow    CoherenceConfidence = "low"
	ConfidenceMedium CoherenceConfidence = "medium"
	ConfidenceHigh   CoherenceConfidence = "high"
)

// CoherenceState names which side of the corridor a score falls on.
type CoherenceState string

const (
	StateCoherent   CoherenceState = "coherent"
	StateFragmented CoherenceState = "fragmented" // below the corridor
	StateRigid      CoherenceState = "rigid"      // above the corridor
)

type CorridorRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// DefaultCorridor returns the fixed coherence corridor.
func DefaultCorridor() CorridorRange {
	return CorridorRange{Low: CorridorLow, High: CorridorHigh}
}

// Contains reports whether score lies inside the corridor, bounds included.
func (c CorridorRange) Contains(score float64) bool {
	return score >= c.Low && score <= c.High
}

// CoherenceComponents are the intermediate signals behind a composite score.
// All values are in [0, 1].
type CoherenceComponents struct {
	Orientation       float64 `json:"orientation"`
	InterruptCost     float64 `json:"interrupt_cost"`
	Volatility        float64 `json:"volatility"`
	Drift             float64 `json:"drift"`
	ContradictionRate float64 `json:"contradiction_rate"`
}

// CoherenceMetrics is a derived view over an event window. It is never
// persisted as authoritative state.
type CoherenceMetrics struct {
	Score         float64             `json:"score"`
	InCorridor    bool                `json:"in_corridor"`
	CorridorRange CorridorRange       `json:"corridor_range"`
	State         CoherenceState      `json:"state"`
	Confidence    CoherenceConfidence `json:"confidence"`
	Components    CoherenceComponents `json:"components"`
	SampleSize    int                 `json:"sample_size"`
}

// BelowCorridor reports a score under the lower bound.
func (m CoherenceMetrics) BelowCorridor() bool {
	return !m.InCorridor && m.Score < m.CorridorRange.Low
}

// AboveCorridor reports a score over the upper bound.
func (m CoherenceMetrics) AboveCorridor() bool {
	return !m.InCorridor && m.Score > m.CorridorRange.High
}
