package store

import (
	"context"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReturnMappingStore struct {
	db *pgxpool.Pool
}

func NewReturnMappingStore(db *pgxpool.Pool) *ReturnMappingStore {
	return &ReturnMappingStore{db: db}
}

func (s *ReturnMappingStore) Append(ctx context.Context, r *domain.ReturnMapping) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.TS.IsZero() {
		r.TS = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO return_mappings (id, session_id, status, failure_reason, checkpoint_id, score, reconstruction, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.SessionID, r.Status, r.FailureReason, r.CheckpointID, r.Score, r.Reconstruction, r.TS,
	)
	return translate(err)
}

func (s *ReturnMappingStore) Latest(ctx context.Context, sessionID string) (*domain.ReturnMapping, error) {
	return latestReturnMapping(ctx, s.db, sessionID)
}

func (s *ReturnMappingStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ReturnMapping, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+returnMappingColumns+` FROM return_mappings
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT $2`,
		sessionID, clampLimit(limit),
	)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	mappings := []domain.ReturnMapping{}
	for rows.Next() {
		r, err := scanReturnMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *r)
	}
	return mappings, translate(rows.Err())
}

const returnMappingColumns = `id, session_id, status, failure_reason, checkpoint_id, score, reconstruction, ts`

func latestReturnMapping(ctx context.Context, q querier, sessionID string) (*domain.ReturnMapping, error) {
	row := q.QueryRow(ctx,
		`SELECT `+returnMappingColumns+` FROM return_mappings
		 WHERE session_id = $1
		 ORDER BY ts DESC
		 LIMIT 1`,
		sessionID,
	)
	r, err := scanReturnMapping(row)
	if err != nil {
		return nil, translate(err)
	}
	return r, nil
}

func scanReturnMapping(row pgx.Row) (*domain.ReturnMapping, error) {
	r := &domain.ReturnMapping{}
	err := row.Scan(&r.ID, &r.SessionID, &r.Status, &r.FailureReason, &r.CheckpointID, &r.Score, &r.Reconstruction, &r.TS)
	if err != nil {
		return nil, err
	}
	r.Persisted = true
	return r, nil
}
