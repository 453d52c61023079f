package store

import (
	"context"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

type EventStore struct {
	db *pgxpool.Pool
}

func NewEventStore(db *pgxpool.Pool) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (id, session_id, actor, event_type, goal_id,
			state_hash_before, state_hash_after, payload, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SessionID, e.Actor, e.EventType, e.GoalID,
		e.StateHashBefore, e.StateHashAfter, e.Payload, e.TS,
	)
	return translate(err)
}

func (s *EventStore) ListBySession(ctx context.Context, sessionID string, filter domain.EventFilter) ([]domain.Event, error) {
	return listEvents(ctx, s.db, sessionID, filter)
}

func (s *EventStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	return countEvents(ctx, s.db, sessionID)
}

const eventColumns = `id, session_id, actor, event_type, goal_id,
	state_hash_before, state_hash_after, payload, ts`

func listEvents(ctx context.Context, q querier, sessionID string, filter domain.EventFilter) ([]domain.Event, error) {
	limit := clampLimit(filter.Limit)

	sql := `SELECT ` + eventColumns + ` FROM events WHERE session_id = $1`
	args := []any{sessionID}
	if filter.EventType != "" {
		sql += ` AND event_type = $2 ORDER BY ts DESC LIMIT $3`
		args = append(args, filter.EventType, limit)
	} else {
		sql += ` ORDER BY ts DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Actor, &e.EventType, &e.GoalID,
			&e.StateHashBefore, &e.StateHashAfter, &e.Payload, &e.TS); err != nil {
			return nil, err
		}
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	return events, translate(rows.Err())
}

func countEvents(ctx context.Context, q querier, sessionID string) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	return count, translate(err)
}
