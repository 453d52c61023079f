package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	"github.com/google/uuid"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestEvents_AppendAndListNewestFirst(t *testing.T) {
	stores := tempDB(t).Stores()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := &domain.Event{
			SessionID: "s1",
			Actor:     domain.ActorUser,
			EventType: "breath",
			GoalID:    strPtr("g1"),
			Payload:   map[string]any{"coherence": []float64{0.4, 0.5, 0.6}[i]},
			TS:        base.Add(time.Duration(i) * time.Second),
		}
		if err := stores.Events.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := stores.Events.Append(ctx, &domain.Event{SessionID: "s1", Actor: domain.ActorSystem, EventType: "interrupt", TS: base.Add(10 * time.Second)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := stores.Events.Append(ctx, &domain.Event{SessionID: "other", Actor: domain.ActorUser, EventType: "breath"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := stores.Events.ListBySession(ctx, "s1", domain.EventFilter{})
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].TS.After(events[i-1].TS) {
			t.Fatalf("events not newest first at %d", i)
		}
	}
	if events[0].EventType != "interrupt" {
		t.Fatalf("expected newest event to be the interrupt, got %s", events[0].EventType)
	}
	if events[0].Payload == nil {
		t.Fatal("expected empty payload map, got nil")
	}
	if events[1].Goal() != "g1" {
		t.Fatalf("expected goal g1, got %q", events[1].Goal())
	}
	if got := events[1].Payload["coherence"]; got != 0.6 {
		t.Fatalf("expected payload coherence 0.6, got %v", got)
	}

	filtered, err := stores.Events.ListBySession(ctx, "s1", domain.EventFilter{EventType: "breath", Limit: 2})
	if err != nil {
		t.Fatalf("ListBySession filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 filtered events, got %d", len(filtered))
	}

	count, err := stores.Events.CountBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("CountBySession: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}
}

func TestCheckpoints_LatestAndNotFound(t *testing.T) {
	stores := tempDB(t).Stores()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	older := &domain.Checkpoint{SessionID: "s1", GoalStatement: "first", Constraints: []string{"a"}, TS: base}
	newer := &domain.Checkpoint{SessionID: "s1", GoalStatement: "second", Constraints: []string{"b", "c"}, PlanStep: strPtr("step 2"), TS: base.Add(time.Microsecond)}
	for _, c := range []*domain.Checkpoint{older, newer} {
		if err := stores.Checkpoints.Append(ctx, c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	latest, err := stores.Checkpoints.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("expected newest checkpoint, got %s", latest.GoalStatement)
	}
	if len(latest.Constraints) != 2 || latest.PlanStep == nil || *latest.PlanStep != "step 2" {
		t.Fatalf("fields did not round trip: %+v", latest)
	}

	got, err := stores.Checkpoints.GetByID(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.GoalStatement != "first" {
		t.Fatalf("expected first, got %s", got.GoalStatement)
	}

	if _, err := stores.Checkpoints.GetByID(ctx, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := stores.Checkpoints.Latest(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncidents_SeverityFilters(t *testing.T) {
	stores := tempDB(t).Stores()
	ctx := context.Background()

	for _, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityHigh, domain.SeverityCritical} {
		i := &domain.Incident{SessionID: "s1", IncidentType: "test", Severity: sev, Details: map[string]any{"n": 1}}
		if err := stores.Incidents.Append(ctx, i); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	high := domain.SeverityHigh
	atLeastHigh, err := stores.Incidents.ListBySession(ctx, "s1", domain.IncidentFilter{MinSeverity: &high})
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(atLeastHigh) != 2 {
		t.Fatalf("expected 2 incidents >= high, got %d", len(atLeastHigh))
	}

	critical := domain.SeverityCritical
	exact, err := stores.Incidents.ListBySession(ctx, "s1", domain.IncidentFilter{Severity: &critical})
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(exact) != 1 || exact[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected one critical incident, got %+v", exact)
	}
}

func TestSnapshot_EmptySession(t *testing.T) {
	s := tempDB(t)

	snap, err := s.Snapshot(context.Background(), "empty", domain.SnapshotOpts{EventLimit: 10, IncidentLimit: 10})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.LatestCheckpoint != nil || snap.LatestReturnMapping != nil {
		t.Fatal("expected no checkpoint or return mapping")
	}
	if len(snap.Events) != 0 || snap.EventCount != 0 || len(snap.RecentIncidents) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestSnapshot_ReadsEverything(t *testing.T) {
	s := tempDB(t)
	stores := s.Stores()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := stores.Events.Append(ctx, &domain.Event{SessionID: "s1", Actor: domain.ActorUser, EventType: "breath"}); err != nil {
			t.Fatalf("Append event: %v", err)
		}
	}
	cp := &domain.Checkpoint{SessionID: "s1", GoalStatement: "stay grounded", Constraints: []string{"no isolation"}}
	if err := stores.Checkpoints.Append(ctx, cp); err != nil {
		t.Fatalf("Append checkpoint: %v", err)
	}
	reason := "coherence below lower corridor bound"
	rm := &domain.ReturnMapping{SessionID: "s1", Status: domain.ReturnFailed, FailureReason: &reason, CheckpointID: &cp.ID, Score: 0.55}
	if err := stores.ReturnMappings.Append(ctx, rm); err != nil {
		t.Fatalf("Append return mapping: %v", err)
	}
	if err := stores.Incidents.Append(ctx, &domain.Incident{SessionID: "s1", IncidentType: "x", Severity: domain.SeverityMedium}); err != nil {
		t.Fatalf("Append incident: %v", err)
	}

	snap, err := s.Snapshot(ctx, "s1", domain.SnapshotOpts{EventLimit: 3, IncidentLimit: 10})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Events) != 3 {
		t.Fatalf("expected event window of 3, got %d", len(snap.Events))
	}
	if snap.EventCount != 5 {
		t.Fatalf("expected event count 5, got %d", snap.EventCount)
	}
	if snap.LatestCheckpoint == nil || snap.LatestCheckpoint.ID != cp.ID {
		t.Fatal("expected latest checkpoint")
	}
	if snap.LatestReturnMapping == nil || snap.LatestReturnMapping.Reason() != reason {
		t.Fatal("expected latest return mapping with reason")
	}
	if *snap.LatestReturnMapping.CheckpointID != cp.ID {
		t.Fatal("expected checkpoint id to round trip")
	}
	if len(snap.RecentIncidents) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(snap.RecentIncidents))
	}
}

func TestReturnMappings_ReconstructionRoundTrip(t *testing.T) {
	stores := tempDB(t).Stores()
	ctx := context.Background()

	rec := &domain.Reconstruction{
		GoalReconstruction:        "stay grounded",
		ConstraintsReconstruction: []string{"no isolation"},
		StateDelta:                "called a friend and went outside",
		WhyNextActionFollows:      "grounding must continue because the walk helped",
		StopCondition:             "stop when breathing is steady",
	}
	if err := stores.ReturnMappings.Append(ctx, &domain.ReturnMapping{SessionID: "s1", Status: domain.ReturnValid, Score: 0.64, Reconstruction: rec}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := stores.ReturnMappings.Append(ctx, &domain.ReturnMapping{SessionID: "s2", Status: domain.ReturnWeak, Score: 0.64}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := stores.ReturnMappings.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !got.Persisted {
		t.Fatal("expected a stored mapping to be marked persisted")
	}
	if got.Reconstruction == nil || got.Reconstruction.StopCondition != rec.StopCondition {
		t.Fatalf("expected reconstruction to round trip, got %+v", got.Reconstruction)
	}
	if len(got.Reconstruction.ConstraintsReconstruction) != 1 {
		t.Fatalf("expected 1 reconstructed constraint, got %v", got.Reconstruction.ConstraintsReconstruction)
	}

	plain, err := stores.ReturnMappings.Latest(ctx, "s2")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if plain.Reconstruction != nil {
		t.Fatal("expected no reconstruction")
	}
}

func TestOpen_AddsReconstructionColumnToOlderDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = old.Exec(`CREATE TABLE return_mappings (
		id TEXT PRIMARY KEY, session_id TEXT NOT NULL, status TEXT NOT NULL,
		failure_reason TEXT, checkpoint_id TEXT, score REAL NOT NULL DEFAULT 0, ts TEXT NOT NULL)`)
	if err != nil {
		t.Fatalf("create old table: %v", err)
	}
	old.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stores := s.Stores()
	ctx := context.Background()
	rec := &domain.Reconstruction{GoalReconstruction: "stay grounded"}
	if err := stores.ReturnMappings.Append(ctx, &domain.ReturnMapping{SessionID: "s1", Status: domain.ReturnValid, Reconstruction: rec}); err != nil {
		t.Fatalf("Append after migration: %v", err)
	}
	got, err := stores.ReturnMappings.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Reconstruction == nil || got.Reconstruction.GoalReconstruction != "stay grounded" {
		t.Fatal("expected reconstruction on migrated table")
	}

	// Reopening must not try to add the column again.
	s.Close()
	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestSessions_EndAndMissingTables(t *testing.T) {
	s := tempDB(t)
	stores := s.Stores()
	ctx := context.Background()

	missing, err := s.MissingTables(ctx)
	if err != nil {
		t.Fatalf("MissingTables: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no missing tables, got %v", missing)
	}

	if err := stores.Sessions.Create(ctx, &domain.Session{ID: "s1", ActorType: domain.ActorUser, ActorID: "u1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ended, err := stores.Sessions.End(ctx, "s1", time.Now())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.EndedAt == nil {
		t.Fatal("expected ended_at to be set")
	}
	if _, err := stores.Sessions.End(ctx, "missing", time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExportRecords_FiltersBySession(t *testing.T) {
	s := tempDB(t)
	stores := s.Stores()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := stores.Sessions.Create(ctx, &domain.Session{ID: id, ActorType: domain.ActorUser, ActorID: "u"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := stores.Events.Append(ctx, &domain.Event{SessionID: id, Actor: domain.ActorUser, EventType: "breath"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := s.ExportRecords(ctx, domain.ExportQuery{SessionIDs: []string{"a"}})
	if err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}
	if len(data.Sessions) != 1 || data.Sessions[0].ID != "a" {
		t.Fatalf("expected only session a, got %+v", data.Sessions)
	}
	if len(data.Events) != 1 || data.Events[0].SessionID != "a" {
		t.Fatalf("expected only events of a, got %+v", data.Events)
	}
}
