package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
)

// Window bounds the events the calculator looks at. Zero values mean
// unbounded.
type Window struct {
	Limit int           // newest N events
	Span  time.Duration // measured back from the newest event, not the wall clock
}

// Aggregator reduces an event window (newest first, non-empty) to a raw
// score. samples is the number of events that actually contributed; zero
// means the window carried nothing usable and the neutral value applies.
type Aggregator interface {
	Name() string
	Aggregate(events []domain.Event) (score float64, components domain.CoherenceComponents, samples int)
}

// NewAggregator returns the aggregator registered under name.
func NewAggregator(name, signalKey string) (Aggregator, error) {
	switch name {
	case "", "composite":
		return CompositeAggregator{}, nil
	case "signal_mean":
		return SignalMeanAggregator{Key: signalKey}, nil
	}
	return nil, fmt.Errorf("unknown coherence aggregator %q", name)
}

// CoherenceCalculator is a pure function of an event window. It has no side
// effects and gives identical metrics for identical input.
type CoherenceCalculator struct {
	agg    Aggregator
	window Window
}

func NewCoherenceCalculator(agg Aggregator, window Window) *CoherenceCalculator {
	if agg == nil {
		agg = CompositeAggregator{}
	}
	return &CoherenceCalculator{agg: agg, window: window}
}

// Compute applies the calculator's default window.
func (c *CoherenceCalculator) Compute(events []domain.Event) domain.CoherenceMetrics {
	return c.ComputeWindow(events, c.window)
}

func (c *CoherenceCalculator) ComputeWindow(events []domain.Event, w Window) domain.CoherenceMetrics {
	windowed := applyWindow(events, w)
	if len(windowed) == 0 {
		return NeutralMetrics()
	}

	score, components, samples := c.agg.Aggregate(windowed)
	if samples == 0 || math.IsNaN(score) || math.IsInf(score, 0) {
		return NeutralMetrics()
	}
	return buildMetrics(clamp01(score), components, samples)
}

// NeutralMetrics is the defined value for an empty window: the lower corridor
// bound with low confidence.
func NeutralMetrics() domain.CoherenceMetrics {
	return buildMetrics(domain.CorridorLow, domain.CoherenceComponents{Orientation: 0.5}, 0)
}

func buildMetrics(score float64, components domain.CoherenceComponents, samples int) domain.CoherenceMetrics {
	corridor := domain.DefaultCorridor()
	m := domain.CoherenceMetrics{
		Score:         score,
		InCorridor:    corridor.Contains(score),
		CorridorRange: corridor,
		Components:    components,
		SampleSize:    samples,
	}

	switch {
	case score < corridor.Low:
		m.State = domain.StateFragmented
	case score > corridor.High:
		m.State = domain.StateRigid
	default:
		m.State = domain.StateCoherent
	}

	switch {
	case samples < 5:
		m.Confidence = domain.ConfidenceLow
	case samples < 20:
		m.Confidence = domain.ConfidenceMedium
	default:
		m.Confidence = domain.ConfidenceHigh
	}
	return m
}

// applyWindow copies events newest first and trims them to w.
func applyWindow(events []domain.Event, w Window) []domain.Event {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TS.After(sorted[j].TS)
	})

	if w.Limit > 0 && len(sorted) > w.Limit {
		sorted = sorted[:w.Limit]
	}
	if w.Span > 0 && len(sorted) > 0 {
		newest := sorted[0].TS
		cut := len(sorted)
		for i, e := range sorted {
			if newest.Sub(e.TS) >= w.Span {
				cut = i
				break
			}
		}
		sorted = sorted[:cut]
	}
	return sorted
}

// CompositeAggregator scores a window as
//
//	orientation × (1 − interruptCost) × (1 − volatility) − drift − contradictionRate
type CompositeAggregator struct{}

func (CompositeAggregator) Name() string { return "composite" }

func (CompositeAggregator) Aggregate(events []domain.Event) (float64, domain.CoherenceComponents, int) {
	c := domain.CoherenceComponents{
		Orientation:       orientation(events),
		InterruptCost:     interruptCost(events),
		Volatility:        volatility(events),
		Drift:             drift(events),
		ContradictionRate: contradictionRate(events),
	}
	score := c.Orientation*(1-c.InterruptCost)*(1-c.Volatility) - c.Drift - c.ContradictionRate
	return score, c, len(events)
}

// orientation is the share of events aligned with the current goal, taken as
// the newest goal id in the window. 0.5 when no event names a goal.
func orientation(events []domain.Event) float64 {
	current := ""
	for _, e := range events {
		if g := e.Goal(); g != "" {
			current = g
			break
		}
	}
	if current == "" {
		return 0.5
	}
	aligned := 0
	for _, e := range events {
		if e.Goal() == current {
			aligned++
		}
	}
	return float64(aligned) / float64(len(events))
}

// interruptCost is the mean interrupt duration normalized so 300s and above
// costs 1.
func interruptCost(events []domain.Event) float64 {
	var total float64
	var n int
	for _, e := range events {
		if e.EventType != domain.EventTypeInterrupt {
			continue
		}
		d, ok := numeric(e.Payload["duration_seconds"])
		if !ok || d < 0 {
			continue
		}
		total += d
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp01(total / float64(n) / 300)
}

// volatility is the coefficient of variation of inter-event gaps, halved.
func volatility(events []domain.Event) float64 {
	if len(events) < 3 {
		return 0
	}
	chrono := chronological(events)

	deltas := make([]float64, 0, len(chrono)-1)
	var sum float64
	for i := 1; i < len(chrono); i++ {
		d := chrono[i].TS.Sub(chrono[i-1].TS).Seconds()
		deltas = append(deltas, d)
		sum += d
	}
	mean := sum / float64(len(deltas))
	if mean <= 0 {
		return 0
	}
	var variance float64
	for _, d := range deltas {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(deltas))
	return clamp01(math.Sqrt(variance) / mean / 2)
}

// drift grows with the number of distinct goals in the window.
func drift(events []domain.Event) float64 {
	if len(events) < 2 {
		return 0
	}
	goals := make(map[string]struct{})
	for _, e := range events {
		if g := e.Goal(); g != "" {
			goals[g] = struct{}{}
		}
	}
	if len(goals) < 2 {
		return 0
	}
	return clamp01(float64(len(goals)-1) / float64(len(events)) * 2)
}

// contradictionRate counts retry loops: a tool call repeating the previous
// tool with attempt > 1.
func contradictionRate(events []domain.Event) float64 {
	var calls []domain.Event
	for _, e := range chronological(events) {
		if e.EventType == domain.EventTypeToolCall {
			calls = append(calls, e)
		}
	}
	if len(calls) < 2 {
		return 0
	}
	retries := 0
	for i := 1; i < len(calls); i++ {
		prevTool, ok1 := calls[i-1].Payload["tool"].(string)
		currTool, ok2 := calls[i].Payload["tool"].(string)
		attempt, ok3 := numeric(calls[i].Payload["attempt"])
		if ok1 && ok2 && ok3 && prevTool == currTool && attempt > 1 {
			retries++
		}
	}
	return clamp01(float64(retries) / float64(len(calls)) * 3)
}

// SignalMeanAggregator averages a numeric payload field. Values that are
// missing, non-numeric or outside [0, 1] are excluded.
type SignalMeanAggregator struct {
	Key string
}

func (a SignalMeanAggregator) Name() string { return "signal_mean" }

func (a SignalMeanAggregator) Aggregate(events []domain.Event) (float64, domain.CoherenceComponents, int) {
	key := a.Key
	if key == "" {
		key = "coherence"
	}
	var sum float64
	var n int
	for _, e := range events {
		v, ok := numeric(e.Payload[key])
		if !ok || v < 0 || v > 1 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, domain.CoherenceComponents{}, 0
	}
	return sum / float64(n), domain.CoherenceComponents{}, n
}

func chronological(events []domain.Event) []domain.Event {
	out := make([]domain.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TS.Before(out[j].TS)
	})
	return out
}

// numeric extracts a finite float from a decoded JSON value.
func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
