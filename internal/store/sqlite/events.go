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

type EventStore struct {
	db *sql.DB
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
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, session_id, actor, event_type, goal_id,
			state_hash_before, state_hash_after, payload, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.SessionID, string(e.Actor), e.EventType, nullString(e.GoalID),
		nullString(e.StateHashBefore), nullString(e.StateHashAfter), string(payload), formatTS(e.TS),
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
	query := `SELECT ` + eventColumns + ` FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func countEvents(ctx context.Context, q querier, sessionID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID,
	).Scan(&count)
	return count, translate(err)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	events := []domain.Event{}
	for rows.Next() {
		var (
			e                         domain.Event
			id, actor, payload, ts    string
			goal, hashBefore, hashAft sql.NullString
		)
		if err := rows.Scan(&id, &e.SessionID, &actor, &e.EventType, &goal,
			&hashBefore, &hashAft, &payload, &ts); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		e.ID = parsed
		e.Actor = domain.ActorType(actor)
		e.GoalID = stringPtr(goal)
		e.StateHashBefore = stringPtr(hashBefore)
		e.StateHashAfter = stringPtr(hashAft)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		if e.Payload == nil {
			e.Payload = map[string]any{}
		}
		if e.TS, err = parseTS(ts); err != nil {
			return nil, fmt.Errorf("parse ts: %w", err)
		}
		events = append(events, e)
	}
	return events, translate(rows.Err())
}
