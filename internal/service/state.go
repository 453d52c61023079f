package service

import (
	"context"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StateService assembles the coherence state bundle of a session from one
// consistent store snapshot.
type StateService struct {
	snapshots domain.SnapshotStore
	calc      *CoherenceCalculator
	validator *ReturnValidator
	mappings  *ReturnMappingService
	opts      domain.SnapshotOpts
	logger    *zap.Logger
	now       func() time.Time
	timeout   time.Duration

	group singleflight.Group
}

func NewStateService(
	snapshots domain.SnapshotStore,
	calc *CoherenceCalculator,
	validator *ReturnValidator,
	mappings *ReturnMappingService,
	opts domain.SnapshotOpts,
	logger *zap.Logger,
) *StateService {
	return &StateService{
		snapshots: snapshots,
		calc:      calc,
		validator: validator,
		mappings:  mappings,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		timeout:   DefaultCycleTimeout,
	}
}

// Current answers a one-shot state query. It never writes; concurrent
// queries for the same session share one snapshot read. The shared read is
// detached from any single caller, so a caller that gives up only abandons
// its own wait.
func (s *StateService) Current(ctx context.Context, sessionID string) (*domain.StateBundle, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	ch := s.group.DoChan(sessionID, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		snap, metrics, computed, err := s.evaluate(shared, sessionID)
		if err != nil {
			return nil, err
		}
		rm := snap.LatestReturnMapping
		if !sameJudgment(rm, computed) {
			computed.TS = s.now().UTC()
			rm = &computed
		}
		return s.bundle(snap, metrics, rm), nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.StateBundle), nil
	}
}

// Evaluate runs one live-feed cycle. Return mapping transitions are
// persisted; an unchanged judgment reuses the stored record.
func (s *StateService) Evaluate(ctx context.Context, sessionID string) (*domain.StateBundle, error) {
	snap, metrics, computed, err := s.evaluate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rm, err := s.mappings.Reconcile(ctx, computed, snap.LatestReturnMapping)
	if err != nil {
		return nil, err
	}
	b := s.bundle(snap, metrics, rm)
	for _, a := range b.Alerts {
		alertsRaised.WithLabelValues(a.Type).Inc()
	}
	return b, nil
}

// ValidateReturn judges the return mapping now and always persists it.
func (s *StateService) ValidateReturn(ctx context.Context, sessionID string) (*domain.ReturnMapping, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	_, _, computed, err := s.evaluate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.mappings.Persist(ctx, &computed); err != nil {
		return nil, err
	}
	return &computed, nil
}

// SubmitReconstruction judges an agent's restatement of its checkpoint
// against the corridor and the checkpoint itself, and always persists it.
func (s *StateService) SubmitReconstruction(ctx context.Context, sessionID string, rec domain.Reconstruction) (*domain.ReturnMapping, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	if err := ValidateReconstructionInput(rec); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Snapshot(ctx, sessionID, s.opts)
	if err != nil {
		return nil, storeErr(err)
	}
	metrics := s.calc.Compute(snap.Events)
	computed := s.validator.ValidateReconstruction(sessionID, metrics, snap.LatestCheckpoint, snap.Events, rec)
	if err := s.mappings.Persist(ctx, &computed); err != nil {
		return nil, err
	}
	return &computed, nil
}

func (s *StateService) evaluate(ctx context.Context, sessionID string) (*domain.Snapshot, domain.CoherenceMetrics, domain.ReturnMapping, error) {
	snap, err := s.snapshots.Snapshot(ctx, sessionID, s.opts)
	if err != nil {
		return nil, domain.CoherenceMetrics{}, domain.ReturnMapping{}, storeErr(err)
	}
	metrics := s.calc.Compute(snap.Events)
	var computed domain.ReturnMapping
	if rec := standingReconstruction(snap); rec != nil {
		computed = s.validator.ValidateReconstruction(sessionID, metrics, snap.LatestCheckpoint, snap.Events, *rec)
	} else {
		computed = s.validator.Validate(sessionID, metrics, snap.LatestCheckpoint, snap.Events)
	}
	return snap, metrics, computed, nil
}

// standingReconstruction returns the reconstruction of the latest mapping
// while it still refers to the active checkpoint. Later cycles keep judging
// it so that a submitted verdict is not replaced by a corridor-only one.
func standingReconstruction(snap *domain.Snapshot) *domain.Reconstruction {
	last := snap.LatestReturnMapping
	if last == nil || last.Reconstruction == nil || snap.LatestCheckpoint == nil {
		return nil
	}
	if !sameCheckpoint(last.CheckpointID, &snap.LatestCheckpoint.ID) {
		return nil
	}
	return last.Reconstruction
}

func (s *StateService) bundle(snap *domain.Snapshot, metrics domain.CoherenceMetrics, rm *domain.ReturnMapping) *domain.StateBundle {
	incidents := snap.RecentIncidents
	if incidents == nil {
		incidents = []domain.Incident{}
	}
	alerts := DeriveAlerts(metrics, rm, incidents)
	return &domain.StateBundle{
		SessionID:           snap.SessionID,
		Coherence:           metrics,
		LatestCheckpoint:    snap.LatestCheckpoint,
		LatestReturnMapping: rm,
		RecentIncidents:     incidents,
		Alerts:              alerts,
		AlertStatus:         AlertStatusFor(snap.EventCount, alerts),
		EventCount:          snap.EventCount,
		Timestamp:           s.now().UTC(),
	}
}

func sameJudgment(stored *domain.ReturnMapping, computed domain.ReturnMapping) bool {
	return stored != nil && stored.SameOutcome(computed) && sameCheckpoint(stored.CheckpointID, computed.CheckpointID)
}
