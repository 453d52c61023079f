package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckpointService saves and restores declared reference states. Writes for
// one session are serialized; other sessions proceed independently.
type CheckpointService struct {
	checkpoints domain.CheckpointStore
	events      domain.EventStore
	calc        *CoherenceCalculator
	eventLimit  int
	logger      *zap.Logger
	locks       *sessionLocks
	now         func() time.Time
}

func NewCheckpointService(
	checkpoints domain.CheckpointStore,
	events domain.EventStore,
	calc *CoherenceCalculator,
	eventLimit int,
	logger *zap.Logger,
) *CheckpointService {
	return &CheckpointService{
		checkpoints: checkpoints,
		events:      events,
		calc:        calc,
		eventLimit:  eventLimit,
		logger:      logger,
		locks:       newSessionLocks(),
		now:         time.Now,
	}
}

// Save appends a new checkpoint, which becomes the session's active one.
// When the caller gives no coherence estimate, one is computed from the
// current event window.
func (s *CheckpointService) Save(ctx context.Context, cp *domain.Checkpoint) error {
	cp.SessionID = strings.TrimSpace(cp.SessionID)
	if cp.SessionID == "" {
		return ErrSessionIDMissing
	}
	cp.GoalStatement = strings.TrimSpace(cp.GoalStatement)
	if cp.GoalStatement == "" {
		return ErrGoalStatementMissing
	}
	if cp.Constraints == nil {
		cp.Constraints = []string{}
	}

	if cp.CoherenceEstimate == nil {
		events, err := s.events.ListBySession(ctx, cp.SessionID, domain.EventFilter{Limit: s.eventLimit})
		if err != nil {
			return storeErr(err)
		}
		m := s.calc.Compute(events)
		cp.CoherenceEstimate = &m.Score
		cp.CoherenceConfidence = &m.Confidence
	}

	unlock := s.locks.Lock(cp.SessionID)
	defer unlock()

	ts, err := s.nextTS(ctx, cp.SessionID)
	if err != nil {
		return err
	}
	cp.ID = uuid.New()
	cp.TS = ts

	if err := s.checkpoints.Append(ctx, cp); err != nil {
		return storeErr(err)
	}
	s.logger.Debug("checkpoint saved",
		zap.String("session_id", cp.SessionID),
		zap.String("checkpoint_id", cp.ID.String()))
	return nil
}

// GetActive returns the newest checkpoint of the session.
func (s *CheckpointService) GetActive(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	cp, err := s.checkpoints.Latest(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return cp, nil
}

// Rollback re-activates a previous checkpoint by appending a copy of it with
// a fresh id and a strictly newer timestamp. History is never rewritten.
func (s *CheckpointService) Rollback(ctx context.Context, sessionID string, checkpointID uuid.UUID) (*domain.Checkpoint, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	target, err := s.checkpoints.GetByID(ctx, checkpointID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if target.SessionID != sessionID {
		return nil, ErrCheckpointNotFound
	}

	previous, err := s.checkpoints.Latest(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr(err)
	}

	restored := *target
	restored.ID = uuid.New()
	restored.TS = s.after(previous)
	restored.Constraints = append([]string{}, target.Constraints...)

	if err := s.checkpoints.Append(ctx, &restored); err != nil {
		return nil, storeErr(err)
	}

	payload := map[string]any{
		"to_checkpoint_id":  target.ID.String(),
		"new_checkpoint_id": restored.ID.String(),
	}
	if previous != nil {
		payload["from_checkpoint_id"] = previous.ID.String()
	}
	event := &domain.Event{
		ID:        uuid.New(),
		SessionID: sessionID,
		Actor:     domain.ActorSystem,
		EventType: domain.EventTypeRollback,
		Payload:   payload,
		TS:        restored.TS,
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Warn("failed to record rollback event",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	s.logger.Info("checkpoint rolled back",
		zap.String("session_id", sessionID),
		zap.String("target_id", target.ID.String()),
		zap.String("checkpoint_id", restored.ID.String()))
	return &restored, nil
}

func (s *CheckpointService) List(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	cps, err := s.checkpoints.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return cps, nil
}

func (s *CheckpointService) nextTS(ctx context.Context, sessionID string) (time.Time, error) {
	latest, err := s.checkpoints.Latest(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return time.Time{}, storeErr(err)
	}
	return s.after(latest), nil
}

// after returns the current time, or one microsecond past latest when the
// clock has not moved beyond it. Stores keep microsecond precision.
func (s *CheckpointService) after(latest *domain.Checkpoint) time.Time {
	now := s.now().UTC().Truncate(time.Microsecond)
	if latest != nil && !now.After(latest.TS) {
		return latest.TS.Add(time.Microsecond)
	}
	return now
}
