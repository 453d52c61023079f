package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestEventService_Ingest(t *testing.T) {
	events := newMockEventStore()
	svc := NewEventService(events, nil, zap.NewNop())

	e := &domain.Event{SessionID: " s1 ", Actor: domain.ActorUser, EventType: "note"}
	if err := svc.Ingest(context.Background(), e); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.ID == uuid.Nil {
		t.Fatal("expected event ID to be set")
	}
	if e.SessionID != "s1" {
		t.Fatalf("expected trimmed session id, got %q", e.SessionID)
	}
	if e.Payload == nil {
		t.Fatal("expected payload to default to an empty map")
	}
	if e.TS.IsZero() {
		t.Fatal("expected ts to be assigned")
	}
	if events.appends != 1 {
		t.Fatalf("expected 1 append, got %d", events.appends)
	}
}

func TestEventService_IngestKeepsCallerTimestamp(t *testing.T) {
	svc := NewEventService(newMockEventStore(), nil, zap.NewNop())
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6000, time.FixedZone("x", 3600))

	e := &domain.Event{SessionID: "s1", Actor: domain.ActorClinician, EventType: "note", TS: ts}
	if err := svc.Ingest(context.Background(), e); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !e.TS.Equal(ts) || e.TS.Location() != time.UTC {
		t.Fatalf("expected caller ts in UTC, got %v", e.TS)
	}
}

func TestEventService_IngestValidation(t *testing.T) {
	svc := NewEventService(newMockEventStore(), nil, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name  string
		event domain.Event
		want  error
	}{
		{"missing session", domain.Event{Actor: domain.ActorUser, EventType: "x"}, ErrSessionIDMissing},
		{"missing actor", domain.Event{SessionID: "s1", EventType: "x"}, ErrActorMissing},
		{"unknown actor", domain.Event{SessionID: "s1", Actor: "robot", EventType: "x"}, ErrInvalidActor},
		{"missing type", domain.Event{SessionID: "s1", Actor: domain.ActorUser, EventType: "  "}, ErrEventTypeMissing},
	}
	for _, tt := range tests {
		e := tt.event
		err := svc.Ingest(ctx, &e)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected a validation error, got %v", tt.name, err)
		}
	}
}

func TestEventService_StoreUnavailable(t *testing.T) {
	events := newMockEventStore()
	events.err = fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	svc := NewEventService(events, nil, zap.NewNop())

	err := svc.Ingest(context.Background(), &domain.Event{SessionID: "s1", Actor: domain.ActorUser, EventType: "x"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestEventService_ListNewestFirst(t *testing.T) {
	env := newTestEnv()
	for i := 0; i < 3; i++ {
		env.signal("s1", 0.64, baseTS.Add(time.Duration(i)*time.Minute))
	}
	env.signal("s2", 0.64, baseTS)

	events, err := env.eventSvc.List(context.Background(), "s1", domain.EventFilter{Limit: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].TS.After(events[1].TS) {
		t.Fatal("expected newest first")
	}

	n, _ := env.eventSvc.Count(context.Background(), "s1")
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}
}
