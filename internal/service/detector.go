package service

import (
	"context"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDropThreshold is the score drop between consecutive windows that
// counts as a coherence drop.
const DefaultDropThreshold = 0.15

// DriftDetector compares the coherence window just before and just after an
// ingested event and records incidents for sharp drops and corridor exits.
type DriftDetector struct {
	events    domain.EventStore
	incidents *IncidentService
	calc      *CoherenceCalculator
	limit     int
	threshold float64
	logger    *zap.Logger
}

func NewDriftDetector(
	events domain.EventStore,
	incidents *IncidentService,
	calc *CoherenceCalculator,
	limit int,
	threshold float64,
	logger *zap.Logger,
) *DriftDetector {
	if threshold <= 0 {
		threshold = DefaultDropThreshold
	}
	return &DriftDetector{
		events:    events,
		incidents: incidents,
		calc:      calc,
		limit:     limit,
		threshold: threshold,
		logger:    logger,
	}
}

// Observe runs detection for an event that has already been appended.
func (d *DriftDetector) Observe(ctx context.Context, e domain.Event) ([]domain.Incident, error) {
	limit := d.limit
	if limit > 0 {
		limit++
	}
	window, err := d.events.ListBySession(ctx, e.SessionID, domain.EventFilter{Limit: limit})
	if err != nil {
		return nil, storeErr(err)
	}

	after := window
	if d.limit > 0 && len(after) > d.limit {
		after = after[:d.limit]
	}
	before := make([]domain.Event, 0, len(window))
	for _, w := range window {
		if w.ID != e.ID {
			before = append(before, w)
		}
	}
	if !containsEvent(after, e.ID) {
		// The event is outside the current window; nothing changed.
		return nil, nil
	}

	prev := d.calc.Compute(before)
	if prev.SampleSize == 0 {
		return nil, nil
	}
	curr := d.calc.Compute(after)

	var raised []domain.Incident

	if drop := prev.Score - curr.Score; drop >= d.threshold {
		severity := domain.SeverityHigh
		if drop >= 2*d.threshold {
			severity = domain.SeverityCritical
		}
		raised = append(raised, domain.Incident{
			SessionID:    e.SessionID,
			IncidentType: domain.IncidentCoherenceDrop,
			Severity:     severity,
			Details: map[string]any{
				"previous_score": prev.Score,
				"score":          curr.Score,
				"drop":           drop,
				"event_id":       e.ID.String(),
			},
		})
	}

	if prev.InCorridor && !curr.InCorridor {
		raised = append(raised, domain.Incident{
			SessionID:    e.SessionID,
			IncidentType: domain.IncidentCorridorExit,
			Severity:     domain.SeverityMedium,
			Details: map[string]any{
				"previous_score": prev.Score,
				"score":          curr.Score,
				"state":          string(curr.State),
				"event_id":       e.ID.String(),
			},
		})
	}

	for i := range raised {
		if err := d.incidents.Record(ctx, &raised[i]); err != nil {
			return raised[:i], err
		}
	}
	return raised, nil
}

func containsEvent(events []domain.Event, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}
