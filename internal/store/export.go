package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ExportStore struct {
	db *pgxpool.Pool
}

func NewExportStore(db *pgxpool.Pool) *ExportStore {
	return &ExportStore{db: db}
}

// ExportRecords reads every record matching q in one read-only transaction.
func (s *ExportStore) ExportRecords(ctx context.Context, q domain.ExportQuery) (*domain.ExportData, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, translate(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	data := &domain.ExportData{}

	where, args := exportFilter(q, "id", "started_at")
	rows, err := tx.Query(ctx, `SELECT id, actor_type, actor_id, started_at, ended_at FROM sessions`+where+` ORDER BY started_at`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Sessions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Session, error) {
		sess, err := scanSession(row)
		if err != nil {
			return domain.Session{}, err
		}
		return *sess, nil
	})
	if err != nil {
		return nil, translate(err)
	}

	where, args = exportFilter(q, "session_id", "ts")
	rows, err = tx.Query(ctx, `SELECT `+eventColumns+` FROM events`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		var e domain.Event
		err := row.Scan(&e.ID, &e.SessionID, &e.Actor, &e.EventType, &e.GoalID,
			&e.StateHashBefore, &e.StateHashAfter, &e.Payload, &e.TS)
		return e, err
	})
	if err != nil {
		return nil, translate(err)
	}

	rows, err = tx.Query(ctx, `SELECT `+checkpointColumns+` FROM checkpoints`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Checkpoints, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Checkpoint, error) {
		c, err := scanCheckpoint(row)
		if err != nil {
			return domain.Checkpoint{}, err
		}
		return *c, nil
	})
	if err != nil {
		return nil, translate(err)
	}

	rows, err = tx.Query(ctx, `SELECT `+returnMappingColumns+` FROM return_mappings`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.ReturnMappings, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ReturnMapping, error) {
		r, err := scanReturnMapping(row)
		if err != nil {
			return domain.ReturnMapping{}, err
		}
		return *r, nil
	})
	if err != nil {
		return nil, translate(err)
	}

	rows, err = tx.Query(ctx, `SELECT id, session_id, incident_type, severity, details, ts FROM incidents`+where+` ORDER BY ts`, args...)
	if err != nil {
		return nil, translate(err)
	}
	data.Incidents, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Incident, error) {
		var i domain.Incident
		err := row.Scan(&i.ID, &i.SessionID, &i.IncidentType, &i.Severity, &i.Details, &i.TS)
		return i, err
	})
	if err != nil {
		return nil, translate(err)
	}

	return data, nil
}

func exportFilter(q domain.ExportQuery, idColumn, tsColumn string) (string, []any) {
	var clauses []string
	var args []any
	if len(q.SessionIDs) > 0 {
		args = append(args, q.SessionIDs)
		clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", idColumn, len(args)))
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		clauses = append(clauses, fmt.Sprintf("%s >= $%d", tsColumn, len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		clauses = append(clauses, fmt.Sprintf("%s <= $%d", tsColumn, len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
