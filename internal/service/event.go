package service

import (
	"context"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventService struct {
	store    domain.EventStore
	detector *DriftDetector
	logger   *zap.Logger
	now      func() time.Time
}

// NewEventService wires ingestion. detector may be nil to skip drift
// detection.
func NewEventService(store domain.EventStore, detector *DriftDetector, logger *zap.Logger) *EventService {
	return &EventService{store: store, detector: detector, logger: logger, now: time.Now}
}

// Ingest validates and appends an event, then runs drift detection. A
// detection failure is logged and never rejects the event.
func (s *EventService) Ingest(ctx context.Context, e *domain.Event) error {
	e.SessionID = strings.TrimSpace(e.SessionID)
	if e.SessionID == "" {
		return ErrSessionIDMissing
	}
	if e.Actor == "" {
		return ErrActorMissing
	}
	if !domain.ValidActorType(string(e.Actor)) {
		return ErrInvalidActor
	}
	e.EventType = strings.TrimSpace(e.EventType)
	if e.EventType == "" {
		return ErrEventTypeMissing
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.ID = uuid.New()
	if e.TS.IsZero() {
		e.TS = s.now()
	}
	e.TS = e.TS.UTC().Truncate(time.Microsecond)

	if err := s.store.Append(ctx, e); err != nil {
		return storeErr(err)
	}
	eventsIngested.WithLabelValues(e.EventType).Inc()

	if s.detector != nil {
		if _, err := s.detector.Observe(ctx, *e); err != nil {
			s.logger.Warn("drift detection failed",
				zap.String("session_id", e.SessionID),
				zap.String("event_id", e.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}

// List returns the session's events newest first.
func (s *EventService) List(ctx context.Context, sessionID string, filter domain.EventFilter) ([]domain.Event, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	events, err := s.store.ListBySession(ctx, sessionID, filter)
	if err != nil {
		return nil, storeErr(err)
	}
	return events, nil
}

func (s *EventService) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := s.store.CountBySession(ctx, sessionID)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}
