// Seed script for creating a demo session in Resona.
// Run with: go run ./scripts/seed.go
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Harshitk-cp/resona/internal/backend"
	"github.com/Harshitk-cp/resona/internal/config"
	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/service"
	"go.uber.org/zap"
)

const demoSession = "demo-session"

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := zap.NewNop()
	ctx := context.Background()

	b, err := backend.Open(ctx, backend.ConfigFromEnv(), logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer b.Close()

	if err := b.Migrate(ctx); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	fmt.Printf("Connected to %s store\n", b.Driver)

	agg, err := service.NewAggregator(config.CoherenceAggregator(), config.CoherenceSignalKey())
	if err != nil {
		log.Fatalf("Invalid aggregator: %v", err)
	}
	calc := service.NewCoherenceCalculator(agg, service.Window{Limit: config.EventWindow()})
	incidents := service.NewIncidentService(b.Stores.Incidents, logger)
	detector := service.NewDriftDetector(b.Stores.Events, incidents, calc, config.EventWindow(), config.DropThreshold(), logger)
	events := service.NewEventService(b.Stores.Events, detector, logger)
	sessions := service.NewSessionService(b.Stores.Sessions, logger)
	checkpoints := service.NewCheckpointService(b.Stores.Checkpoints, b.Stores.Events, calc, config.EventWindow(), logger)

	if err := sessions.Create(ctx, &domain.Session{ID: demoSession, ActorType: domain.ActorUser, ActorID: "demo-user"}); err != nil {
		fmt.Printf("Session: %v (continuing)\n", err)
	}

	start := time.Now().UTC().Add(-30 * time.Minute)
	goal := "write-report"
	ingest := func(i int, eventType string, payload map[string]any) {
		e := &domain.Event{
			SessionID: demoSession,
			Actor:     domain.ActorSystem,
			EventType: eventType,
			GoalID:    &goal,
			Payload:   payload,
			TS:        start.Add(time.Duration(i) * time.Minute),
		}
		if err := events.Ingest(ctx, e); err != nil {
			log.Fatalf("Failed to ingest event: %v", err)
		}
	}

	// A steady stretch inside the corridor.
	for i := range 8 {
		ingest(i, "coherence_sample", map[string]any{"coherence": 0.63 + 0.005*float64(i%3)})
	}

	cp := &domain.Checkpoint{
		SessionID:     demoSession,
		GoalStatement: "Finish the quarterly report draft",
		Constraints:   []string{"no new features", "keep to two pages"},
	}
	if err := checkpoints.Save(ctx, cp); err != nil {
		log.Fatalf("Failed to save checkpoint: %v", err)
	}
	fmt.Printf("Checkpoint: %s (estimate %.3f)\n", cp.ID, *cp.CoherenceEstimate)

	// Interruptions and a constraint violation pull the session out.
	ingest(8, domain.EventTypeInterrupt, map[string]any{"duration_seconds": 240, "coherence": 0.5})
	ingest(9, domain.EventTypeConstraintViolation, map[string]any{"constraint": "no new features", "coherence": 0.42})
	ingest(10, "coherence_sample", map[string]any{"coherence": 0.4})

	n, err := events.Count(ctx, demoSession)
	if err != nil {
		log.Fatalf("Failed to count events: %v", err)
	}
	recorded, err := incidents.List(ctx, demoSession, domain.IncidentFilter{})
	if err != nil {
		log.Fatalf("Failed to list incidents: %v", err)
	}

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("Demo data created successfully!")
	fmt.Println("========================================")
	fmt.Printf("Session:   %s\n", demoSession)
	fmt.Printf("Events:    %d\n", n)
	fmt.Printf("Incidents: %d\n", len(recorded))
	fmt.Println()
	fmt.Println("Watch it live:")
	fmt.Printf("  curl -N http://localhost%s/v1/sessions/%s/stream\n", config.ServerAddr(), demoSession)
}
