package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// mockEventStore is an in-memory EventStore.
type mockEventStore struct {
	mu      sync.Mutex
	events  []domain.Event
	err     error
	appends int
}

func newMockEventStore() *mockEventStore {
	return &mockEventStore{}
}

func (m *mockEventStore) Append(ctx context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	m.events = append(m.events, *e)
	m.appends++
	return nil
}

func (m *mockEventStore) ListBySession(ctx context.Context, sessionID string, filter domain.EventFilter) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Event
	for _, e := range m.events {
		if e.SessionID != sessionID {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockEventStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, e := range m.events {
		if e.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

type mockCheckpointStore struct {
	mu          sync.Mutex
	checkpoints []domain.Checkpoint
	err         error
}

func newMockCheckpointStore() *mockCheckpointStore {
	return &mockCheckpointStore{}
}

func (m *mockCheckpointStore) Append(ctx context.Context, c *domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *c
	cp.Constraints = append([]string{}, c.Constraints...)
	m.checkpoints = append(m.checkpoints, cp)
	return nil
}

func (m *mockCheckpointStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checkpoints {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockCheckpointStore) Latest(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	list, _ := m.ListBySession(ctx, sessionID, 1)
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (m *mockCheckpointStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Checkpoint
	for _, c := range m.checkpoints {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockReturnMappingStore struct {
	mu       sync.Mutex
	mappings []domain.ReturnMapping
}

func newMockReturnMappingStore() *mockReturnMappingStore {
	return &mockReturnMappingStore{}
}

func (m *mockReturnMappingStore) Append(ctx context.Context, r *domain.ReturnMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *r
	stored.Persisted = true
	m.mappings = append(m.mappings, stored)
	return nil
}

func (m *mockReturnMappingStore) Latest(ctx context.Context, sessionID string) (*domain.ReturnMapping, error) {
	list, _ := m.ListBySession(ctx, sessionID, 1)
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (m *mockReturnMappingStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.ReturnMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReturnMapping
	for i := len(m.mappings) - 1; i >= 0; i-- {
		if m.mappings[i].SessionID == sessionID {
			out = append(out, m.mappings[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockIncidentStore struct {
	mu        sync.Mutex
	incidents []domain.Incident
}

func newMockIncidentStore() *mockIncidentStore {
	return &mockIncidentStore{}
}

func (m *mockIncidentStore) Append(ctx context.Context, i *domain.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, *i)
	return nil
}

func (m *mockIncidentStore) ListBySession(ctx context.Context, sessionID string, filter domain.IncidentFilter) ([]domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Incident
	for i := len(m.incidents) - 1; i >= 0; i-- {
		inc := m.incidents[i]
		if inc.SessionID != sessionID {
			continue
		}
		if filter.Severity != nil && inc.Severity != *filter.Severity {
			continue
		}
		if filter.MinSeverity != nil && !inc.Severity.AtLeast(*filter.MinSeverity) {
			continue
		}
		out = append(out, inc)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockIncidentStore) byType(incidentType string) []domain.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Incident
	for _, inc := range m.incidents {
		if inc.IncidentType == incidentType {
			out = append(out, inc)
		}
	}
	return out
}

type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*domain.Session)}
}

func (m *mockSessionStore) Create(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return store.ErrConflict
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionStore) List(ctx context.Context, limit int) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Session{}
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockSessionStore) End(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.EndedAt == nil {
		s.EndedAt = &at
	}
	cp := *s
	return &cp, nil
}

// mockSnapshotStore reads across the other in-memory stores.
type mockSnapshotStore struct {
	events      *mockEventStore
	checkpoints *mockCheckpointStore
	mappings    *mockReturnMappingStore
	incidents   *mockIncidentStore

	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockSnapshotStore) Snapshot(ctx context.Context, sessionID string, opts domain.SnapshotOpts) (*domain.Snapshot, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{SessionID: sessionID}
	snap.Events, _ = m.events.ListBySession(ctx, sessionID, domain.EventFilter{Limit: opts.EventLimit})
	snap.EventCount, _ = m.events.CountBySession(ctx, sessionID)
	if cp, err := m.checkpoints.Latest(ctx, sessionID); err == nil {
		snap.LatestCheckpoint = cp
	}
	if rm, err := m.mappings.Latest(ctx, sessionID); err == nil {
		snap.LatestReturnMapping = rm
	}
	snap.RecentIncidents, _ = m.incidents.ListBySession(ctx, sessionID, domain.IncidentFilter{Limit: opts.IncidentLimit})
	return snap, nil
}

func (m *mockSnapshotStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// testEnv wires every service over the in-memory stores.
type testEnv struct {
	events      *mockEventStore
	checkpoints *mockCheckpointStore
	mappings    *mockReturnMappingStore
	incidents   *mockIncidentStore
	snapshots   *mockSnapshotStore

	calc          *CoherenceCalculator
	incidentSvc   *IncidentService
	eventSvc      *EventService
	checkpointSvc *CheckpointService
	mappingSvc    *ReturnMappingService
	stateSvc      *StateService
}

func newTestEnv() *testEnv {
	logger := zap.NewNop()
	env := &testEnv{
		events:      newMockEventStore(),
		checkpoints: newMockCheckpointStore(),
		mappings:    newMockReturnMappingStore(),
		incidents:   newMockIncidentStore(),
	}
	env.snapshots = &mockSnapshotStore{
		events:      env.events,
		checkpoints: env.checkpoints,
		mappings:    env.mappings,
		incidents:   env.incidents,
	}
	env.calc = NewCoherenceCalculator(SignalMeanAggregator{Key: "coherence"}, Window{Limit: 100})
	env.incidentSvc = NewIncidentService(env.incidents, logger)
	detector := NewDriftDetector(env.events, env.incidentSvc, env.calc, 100, DefaultDropThreshold, logger)
	env.eventSvc = NewEventService(env.events, detector, logger)
	env.checkpointSvc = NewCheckpointService(env.checkpoints, env.events, env.calc, 100, logger)
	env.mappingSvc = NewReturnMappingService(env.mappings, env.incidentSvc, logger)
	env.stateSvc = NewStateService(env.snapshots, env.calc, NewReturnValidator(DefaultReturnEpsilon),
		env.mappingSvc, domain.SnapshotOpts{EventLimit: 100, IncidentLimit: 10}, logger)
	return env
}

// signal ingests one event carrying payload.coherence.
func (env *testEnv) signal(sessionID string, score float64, ts time.Time) domain.Event {
	e := &domain.Event{
		SessionID: sessionID,
		Actor:     domain.ActorSystem,
		EventType: "signal",
		Payload:   map[string]any{"coherence": score},
		TS:        ts,
	}
	if err := env.eventSvc.Ingest(context.Background(), e); err != nil {
		panic(err)
	}
	return *e
}
