package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IncidentStore struct {
	db *pgxpool.Pool
}

func NewIncidentStore(db *pgxpool.Pool) *IncidentStore {
	return &IncidentStore{db: db}
}

func (s *IncidentStore) Append(ctx context.Context, i *domain.Incident) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.TS.IsZero() {
		i.TS = time.Now().UTC()
	}
	if i.Details == nil {
		i.Details = map[string]any{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO incidents (id, session_id, incident_type, severity, details, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.SessionID, i.IncidentType, i.Severity, i.Details, i.TS,
	)
	return translate(err)
}

func (s *IncidentStore) ListBySession(ctx context.Context, sessionID string, filter domain.IncidentFilter) ([]domain.Incident, error) {
	return listIncidents(ctx, s.db, sessionID, filter)
}

// severityRankSQL orders severities the same way domain.Severity.Rank does.
const severityRankSQL = `CASE severity WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'critical' THEN 4 ELSE 0 END`

func listIncidents(ctx context.Context, q querier, sessionID string, filter domain.IncidentFilter) ([]domain.Incident, error) {
	sql := `SELECT id, session_id, incident_type, severity, details, ts
		FROM incidents WHERE session_id = $1`
	args := []any{sessionID}
	if filter.Severity != nil {
		args = append(args, string(*filter.Severity))
		sql += fmt.Sprintf(` AND severity = $%d`, len(args))
	}
	if filter.MinSeverity != nil {
		args = append(args, filter.MinSeverity.Rank())
		sql += fmt.Sprintf(` AND %s >= $%d`, severityRankSQL, len(args))
	}
	args = append(args, clampLimit(filter.Limit))
	sql += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d`, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	incidents := []domain.Incident{}
	for rows.Next() {
		var i domain.Incident
		if err := rows.Scan(&i.ID, &i.SessionID, &i.IncidentType, &i.Severity, &i.Details, &i.TS); err != nil {
			return nil, err
		}
		if i.Details == nil {
			i.Details = map[string]any{}
		}
		incidents = append(incidents, i)
	}
	return incidents, translate(rows.Err())
}
