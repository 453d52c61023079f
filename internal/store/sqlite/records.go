package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
)

type ReturnMappingStore struct {
	db *sql.DB
}

func (s *ReturnMappingStore) Append(ctx context.Context, r *domain.ReturnMapping) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.TS.IsZero() {
		r.TS = time.Now().UTC()
	}
	var checkpointID, reconstruction sql.NullString
	if r.CheckpointID != nil {
		checkpointID = sql.NullString{String: r.CheckpointID.String(), Valid: true}
	}
	if r.Reconstruction != nil {
		raw, err := json.Marshal(r.Reconstruction)
		if err != nil {
			return fmt.Errorf("marshal reconstruction: %w", err)
		}
		reconstruction = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO return_mappings (id, session_id, status, failure_reason, checkpoint_id, score, reconstruction, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.SessionID, string(r.Status), nullString(r.FailureReason),
		checkpointID, r.Score, reconstruction, formatTS(r.TS),
	)
	return translate(err)
}

func (s *ReturnMappingStore) Latest(ctx context.Context, sessionID string) (*domain.ReturnMapping, error) {
	return latestReturnMapping(ctx, s.db, sessionID)
}

func (s *ReturnMappingStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ReturnMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+returnMappingColumns+` FROM return_mappings
		 WHERE session_id = ? ORDER BY ts DESC LIMIT ?`,
		sessionID, clampLimit(limit))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return scanReturnMappings(rows)
}

const returnMappingColumns = `id, session_id, status, failure_reason, checkpoint_id, score, reconstruction, ts`

func latestReturnMapping(ctx context.Context, q querier, sessionID string) (*domain.ReturnMapping, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+returnMappingColumns+` FROM return_mappings
		 WHERE session_id = ? ORDER BY ts DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	mappings, err := scanReturnMappings(rows)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, translate(sql.ErrNoRows)
	}
	return &mappings[0], nil
}

func scanReturnMappings(rows *sql.Rows) ([]domain.ReturnMapping, error) {
	mappings := []domain.ReturnMapping{}
	for rows.Next() {
		var (
			r                                    domain.ReturnMapping
			id, status, ts                       string
			reason, checkpointID, reconstruction sql.NullString
		)
		if err := rows.Scan(&id, &r.SessionID, &status, &reason, &checkpointID, &r.Score, &reconstruction, &ts); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse return mapping id: %w", err)
		}
		r.ID = parsed
		r.Status = domain.ReturnMappingStatus(status)
		r.FailureReason = stringPtr(reason)
		if checkpointID.Valid {
			cpID, err := uuid.Parse(checkpointID.String)
			if err != nil {
				return nil, fmt.Errorf("parse checkpoint id: %w", err)
			}
			r.CheckpointID = &cpID
		}
		if reconstruction.Valid {
			r.Reconstruction = &domain.Reconstruction{}
			if err := json.Unmarshal([]byte(reconstruction.String), r.Reconstruction); err != nil {
				return nil, fmt.Errorf("parse reconstruction: %w", err)
			}
		}
		if r.TS, err = parseTS(ts); err != nil {
			return nil, fmt.Errorf("parse ts: %w", err)
		}
		r.Persisted = true
		mappings = append(mappings, r)
	}
	return mappings, translate(rows.Err())
}

type IncidentStore struct {
	db *sql.DB
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
	details, err := json.Marshal(i.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, session_id, incident_type, severity, details, ts)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID.String(), i.SessionID, i.IncidentType, string(i.Severity), string(details), formatTS(i.TS),
	)
	return translate(err)
}

func (s *IncidentStore) ListBySession(ctx context.Context, sessionID string, filter domain.IncidentFilter) ([]domain.Incident, error) {
	return listIncidents(ctx, s.db, sessionID, filter)
}

const severityRankSQL = `CASE severity WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'critical' THEN 4 ELSE 0 END`

func listIncidents(ctx context.Context, q querier, sessionID string, filter domain.IncidentFilter) ([]domain.Incident, error) {
	query := `SELECT id, session_id, incident_type, severity, details, ts FROM incidents WHERE session_id = ?`
	args := []any{sessionID}
	if filter.Severity != nil {
		query += ` AND severity = ?`
		args = append(args, string(*filter.Severity))
	}
	if filter.MinSeverity != nil {
		query += ` AND ` + severityRankSQL + ` >= ?`
		args = append(args, filter.MinSeverity.Rank())
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func scanIncidents(rows *sql.Rows) ([]domain.Incident, error) {
	incidents := []domain.Incident{}
	for rows.Next() {
		var (
			i                         domain.Incident
			id, severity, details, ts string
		)
		if err := rows.Scan(&id, &i.SessionID, &i.IncidentType, &severity, &details, &ts); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse incident id: %w", err)
		}
		i.ID = parsed
		i.Severity = domain.Severity(severity)
		if err := json.Unmarshal([]byte(details), &i.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
		if i.Details == nil {
			i.Details = map[string]any{}
		}
		if i.TS, err = parseTS(ts); err != nil {
			return nil, fmt.Errorf("parse ts: %w", err)
		}
		incidents = append(incidents, i)
	}
	return incidents, translate(rows.Err())
}

type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, actor_type, actor_id, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, string(sess.ActorType), sess.ActorID, formatTS(sess.StartedAt),
	)
	return translate(err)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_type, actor_id, started_at, ended_at FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, translate(sql.ErrNoRows)
	}
	return &sessions[0], nil
}

func (s *SessionStore) List(ctx context.Context, limit int) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_type, actor_id, started_at, ended_at FROM sessions
		 ORDER BY started_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *SessionStore) End(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
		formatTS(at), id)
	if err != nil {
		return nil, translate(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, translate(sql.ErrNoRows)
	}
	return s.GetByID(ctx, id)
}

func scanSessions(rows *sql.Rows) ([]domain.Session, error) {
	sessions := []domain.Session{}
	for rows.Next() {
		var (
			sess             domain.Session
			actorType, start string
			end              sql.NullString
		)
		if err := rows.Scan(&sess.ID, &actorType, &sess.ActorID, &start, &end); err != nil {
			return nil, err
		}
		sess.ActorType = domain.ActorType(actorType)
		var err error
		if sess.StartedAt, err = parseTS(start); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if end.Valid {
			t, err := parseTS(end.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, translate(rows.Err())
}
