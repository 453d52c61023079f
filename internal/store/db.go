package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the same queries
// serve plain reads and snapshot transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStores wires every PostgreSQL-backed store onto one pool.
func NewStores(db *pgxpool.Pool) domain.Stores {
	return domain.Stores{
		Events:         NewEventStore(db),
		Checkpoints:    NewCheckpointStore(db),
		ReturnMappings: NewReturnMappingStore(db),
		Incidents:      NewIncidentStore(db),
		Sessions:       NewSessionStore(db),
		Snapshots:      NewSnapshotStore(db),
		Export:         NewExportStore(db),
		Health:         NewHealthStore(db),
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", translate(err))
	}
	return nil
}

type HealthStore struct {
	db *pgxpool.Pool
}

func NewHealthStore(db *pgxpool.Pool) *HealthStore {
	return &HealthStore{db: db}
}

func (s *HealthStore) Ping(ctx context.Context) error {
	return translate(s.db.Ping(ctx))
}

func (s *HealthStore) MissingTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_name = ANY($1)`,
		domain.RequiredTables,
	)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}

	var missing []string
	for _, t := range domain.RequiredTables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}
