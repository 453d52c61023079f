package store

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SnapshotStore struct {
	db *pgxpool.Pool
}

func NewSnapshotStore(db *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Snapshot reads the event window, counts, latest checkpoint, latest return
// mapping and recent incidents inside one read-only repeatable-read
// transaction, so every read observes the same committed state.
func (s *SnapshotStore) Snapshot(ctx context.Context, sessionID string, opts domain.SnapshotOpts) (*domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snap := &domain.Snapshot{SessionID: sessionID}

	snap.Events, err = listEvents(ctx, tx, sessionID, domain.EventFilter{Limit: opts.EventLimit})
	if err != nil {
		return nil, err
	}
	snap.EventCount, err = countEvents(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	snap.LatestCheckpoint, err = latestCheckpoint(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	snap.LatestReturnMapping, err = latestReturnMapping(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	snap.RecentIncidents, err = listIncidents(ctx, tx, sessionID, domain.IncidentFilter{Limit: opts.IncidentLimit})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translate(err)
	}
	return snap, nil
}
