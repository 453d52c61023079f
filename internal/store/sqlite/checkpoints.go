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

type CheckpointStore struct {
	db *sql.DB
}

func (s *CheckpointStore) Append(ctx context.Context, c *domain.Checkpoint) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.TS.IsZero() {
		c.TS = time.Now().UTC()
	}
	if c.Constraints == nil {
		c.Constraints = []string{}
	}
	constraints, err := json.Marshal(c.Constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}
	var estimate sql.NullFloat64
	if c.CoherenceEstimate != nil {
		estimate = sql.NullFloat64{Float64: *c.CoherenceEstimate, Valid: true}
	}
	var confidence sql.NullString
	if c.CoherenceConfidence != nil {
		confidence = sql.NullString{String: string(*c.CoherenceConfidence), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, session_id, goal_statement, constraints, plan_step,
			summary, restore_instructions, coherence_estimate, coherence_confidence, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.SessionID, c.GoalStatement, string(constraints), nullString(c.PlanStep),
		nullString(c.Summary), nullString(c.RestoreInstructions), estimate, confidence, formatTS(c.TS),
	)
	return translate(err)
}

func (s *CheckpointStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id.String())
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return firstCheckpoint(rows)
}

func (s *CheckpointStore) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return latestCheckpoint(ctx, s.db, sessionID)
}

func (s *CheckpointStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE session_id = ? ORDER BY ts DESC LIMIT ?`,
		sessionID, clampLimit(limit))
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return scanCheckpoints(rows)
}

const checkpointColumns = `id, session_id, goal_statement, constraints, plan_step,
	summary, restore_instructions, coherence_estimate, coherence_confidence, ts`

func latestCheckpoint(ctx context.Context, q querier, sessionID string) (*domain.Checkpoint, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE session_id = ? ORDER BY ts DESC LIMIT 1`, sessionID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	return firstCheckpoint(rows)
}

func firstCheckpoint(rows *sql.Rows) (*domain.Checkpoint, error) {
	checkpoints, err := scanCheckpoints(rows)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, translate(sql.ErrNoRows)
	}
	return &checkpoints[0], nil
}

func scanCheckpoints(rows *sql.Rows) ([]domain.Checkpoint, error) {
	checkpoints := []domain.Checkpoint{}
	for rows.Next() {
		var (
			c                      domain.Checkpoint
			id, constraints, ts    string
			plan, summary, restore sql.NullString
			estimate               sql.NullFloat64
			confidence             sql.NullString
		)
		if err := rows.Scan(&id, &c.SessionID, &c.GoalStatement, &constraints, &plan,
			&summary, &restore, &estimate, &confidence, &ts); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse checkpoint id: %w", err)
		}
		c.ID = parsed
		if err := json.Unmarshal([]byte(constraints), &c.Constraints); err != nil {
			return nil, fmt.Errorf("unmarshal constraints: %w", err)
		}
		if c.Constraints == nil {
			c.Constraints = []string{}
		}
		c.PlanStep = stringPtr(plan)
		c.Summary = stringPtr(summary)
		c.RestoreInstructions = stringPtr(restore)
		if estimate.Valid {
			v := estimate.Float64
			c.CoherenceEstimate = &v
		}
		if confidence.Valid {
			cc := domain.CoherenceConfidence(confidence.String)
			c.CoherenceConfidence = &cc
		}
		if c.TS, err = parseTS(ts); err != nil {
			return nil, fmt.Errorf("parse ts: %w", err)
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, translate(rows.Err())
}
