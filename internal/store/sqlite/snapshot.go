package sqlite

import (
	"context"
	"errors"
	"strings"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
)

// Snapshot runs every read for one session inside a single transaction. In
// WAL mode the transaction sees one consistent database version.
func (s *Store) Snapshot(ctx context.Context, sessionID string, opts domain.SnapshotOpts) (*domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &domain.Snapshot{SessionID: sessionID}

	if snap.Events, err = listEvents(ctx, tx, sessionID, domain.EventFilter{Limit: opts.EventLimit}); err != nil {
		return nil, err
	}
	if snap.EventCount, err = countEvents(ctx, tx, sessionID); err != nil {
		return nil, err
	}
	snap.LatestCheckpoint, err = latestCheckpoint(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	snap.LatestReturnMapping, err = latestReturnMapping(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if snap.RecentIncidents, err = listIncidents(ctx, tx, sessionID, domain.IncidentFilter{Limit: opts.IncidentLimit}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	return snap, nil
}

// ExportRecords reads every record matching q inside one transaction.
func (s *Store) ExportRecords(ctx context.Context, q domain.ExportQuery) (*domain.ExportData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = tx.Rollback() }()

	data := &domain.ExportData{}

	where, args := exportFilter(q, "id", "started_at")
	rows, err := tx.QueryContext(ctx, `SELECT id, actor_type, actor_id, started_at, ended_at FROM sessions`+where+` ORDER BY started_at`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Sessions, err = scanSessions(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	where, args = exportFilter(q, "session_id", "ts")
	rows, err = tx.QueryContext(ctx, `SELECT `+eventColumns+` FROM events`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Events, err = scanEvents(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Checkpoints, err = scanCheckpoints(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `SELECT `+returnMappingColumns+` FROM return_mappings`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.ReturnMappings, err = scanReturnMappings(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `SELECT id, session_id, incident_type, severity, details, ts FROM incidents`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Incidents, err = scanIncidents(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	return data, nil
}

func exportFilter(q domain.ExportQuery, idColumn, tsColumn string) (string, []any) {
	var clauses []string
	var args []any
	if len(q.SessionIDs) > 0 {
		placeholders := make([]string, len(q.SessionIDs))
		for i, id := range q.SessionIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, idColumn+" IN ("+strings.Join(placeholders, ", ")+")")
	}
	if q.Start != nil {
		clauses = append(clauses, tsColumn+" >= ?")
		args = append(args, formatTS(*q.Start))
	}
	if q.End != nil {
		clauses = append(clauses, tsColumn+" <= ?")
		args = append(args, formatTS(*q.End))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
