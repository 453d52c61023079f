package store

import (
	"context"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CheckpointStore struct {
	db *pgxpool.Pool
}

func NewCheckpointStore(db *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{db: db}
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
	_, err := s.db.Exec(ctx,
		`INSERT INTO checkpoints (id, session_id, goal_statement, constraints, plan_step,
			summary, restore_instructions, coherence_estimate, coherence_confidence, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.SessionID, c.GoalStatement, c.Constraints, c.PlanStep,
		c.Summary, c.RestoreInstructions, c.CoherenceEstimate, c.CoherenceConfidence, c.TS,
	)
	return translate(err)
}

func (s *CheckpointStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE id = $1`,
		id,
	)
	c, err := scanCheckpoint(row)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func (s *CheckpointStore) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	return latestCheckpoint(ctx, s.db, sessionID)
}

func (s *CheckpointStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`,
		sessionID, clampLimit(limit),
	)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	checkpoints := []domain.Checkpoint{}
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *c)
	}
	return checkpoints, translate(rows.Err())
}

const checkpointColumns = `id, session_id, goal_statement, constraints, plan_step,
	summary, restore_instructions, coherence_estimate, coherence_confidence, ts`

func latestCheckpoint(ctx context.Context, q querier, sessionID string) (*domain.Checkpoint, error) {
	row := q.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT 1`,
		sessionID,
	)
	c, err := scanCheckpoint(row)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func scanCheckpoint(row pgx.Row) (*domain.Checkpoint, error) {
	c := &domain.Checkpoint{}
	var confidence *string
	err := row.Scan(&c.ID, &c.SessionID, &c.GoalStatement, &c.Constraints, &c.PlanStep,
		&c.Summary, &c.RestoreInstructions, &c.CoherenceEstimate, &confidence, &c.TS)
	if err != nil {
		return nil, err
	}
	if confidence != nil {
		cc := domain.CoherenceConfidence(*confidence)
		c.CoherenceConfidence = &cc
	}
	if c.Constraints == nil {
		c.Constraints = []string{}
	}
	return c, nil
}
