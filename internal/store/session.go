package store

import (
	"context"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (id, actor_type, actor_id, started_at) VALUES ($1, $2, $3, $4)`,
		sess.ID, sess.ActorType, sess.ActorID, sess.StartedAt,
	)
	return translate(err)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, actor_type, actor_id, started_at, ended_at FROM sessions WHERE id = $1`,
		id,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, translate(err)
	}
	return sess, nil
}

func (s *SessionStore) List(ctx context.Context, limit int) ([]domain.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, actor_type, actor_id, started_at, ended_at FROM sessions
		 ORDER BY started_at DESC
		 LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, translate(rows.Err())
}

func (s *SessionStore) End(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE sessions SET ended_at = COALESCE(ended_at, $2)
		 WHERE id = $1
		 RETURNING id, actor_type, actor_id, started_at, ended_at`,
		id, at,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, translate(err)
	}
	return sess, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	sess := &domain.Session{}
	if err := row.Scan(&sess.ID, &sess.ActorType, &sess.ActorID, &sess.StartedAt, &sess.EndedAt); err != nil {
		return nil, err
	}
	return sess, nil
}
