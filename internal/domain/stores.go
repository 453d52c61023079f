package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventStore interface {
	Append(ctx context.Context, e *Event) error
	ListBySession(ctx context.Context, sessionID string, filter EventFilter) ([]Event, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}

type CheckpointStore interface {
	Append(ctx context.Context, c *Checkpoint) error
	GetByID(ctx context.Context, id uuid.UUID) (*Checkpoint, error)
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]Checkpoint, error)
}

type ReturnMappingStore interface {
	Append(ctx context.Context, r *ReturnMapping) error
	Latest(ctx context.Context, sessionID string) (*ReturnMapping, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]ReturnMapping, error)
}

type IncidentStore interface {
	Append(ctx context.Context, i *Incident) error
	ListBySession(ctx context.Context, sessionID string, filter IncidentFilter) ([]Incident, error)
}

type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, limit int) ([]Session, error)
	End(ctx context.Context, id string, at time.Time) (*Session, error)
}

// SnapshotStore reads a consistent view of one session: all reads happen
// inside a single read transaction so no partial writes are visible.
type SnapshotStore interface {
	Snapshot(ctx context.Context, sessionID string, opts SnapshotOpts) (*Snapshot, error)
}

// ExportQuery selects records for a research export.
type ExportQuery struct {
	SessionIDs []string
	Start      *time.Time
	End        *time.Time
}

type ExportData struct {
	Sessions       []Session
	Events         []Event
	Checkpoints    []Checkpoint
	ReturnMappings []ReturnMapping
	Incidents      []Incident
}

type ExportStore interface {
	ExportRecords(ctx context.Context, q ExportQuery) (*ExportData, error)
}

// HealthChecker backs the health endpoint and the startup degraded-mode check.
type HealthChecker interface {
	Ping(ctx context.Context) error
	MissingTables(ctx context.Context) ([]string, error)
}

// RequiredTables are the collections the service needs at startup.
var RequiredTables = []string{"sessions", "events", "checkpoints", "return_mappings", "incidents"}

// Stores bundles every store a backend provides.
type Stores struct {
	Events         EventStore
	Checkpoints    CheckpointStore
	ReturnMappings ReturnMappingStore
	Incidents      IncidentStore
	Sessions       SessionStore
	Snapshots      SnapshotStore
	Export         ExportStore
	Health         HealthChecker
}
