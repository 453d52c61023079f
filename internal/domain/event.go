package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActorType identifies who produced an event.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorSystem    ActorType = "system"
	ActorClinician ActorType = "clinician"
)

func ValidActorType(s string) bool {
	switch ActorType(s) {
	case ActorUser, ActorSystem, ActorClinician:
		return true
	}
	return false
}

// Well-known event types. Event types are open tags; these are the ones the
// coherence calculator and validator interpret.
const (
	EventTypeInterrupt           = "interrupt"
	EventTypeToolCall            = "tool_call"
	EventTypeRollback            = "rollback"
	EventTypeConstraintViolation = "constraint_violation"
)

// Event is an immutable, already-summarized observation recorded against a session.
type Event struct {
	ID              uuid.UUID      `json:"id"`
	SessionID       string         `json:"session_id"`
	Actor           ActorType      `json:"actor"`
	EventType       string         `json:"event_type"`
	GoalID          *string        `json:"goal_id,omitempty"`
	StateHashBefore *string        `json:"state_hash_before,omitempty"`
	StateHashAfter  *string        `json:"state_hash_after,omitempty"`
	Payload         map[string]any `json:"payload"`
	TS              time.Time      `json:"ts"`
}

// Goal returns the event's goal id, or "" when the event carries none.
func (e Event) Goal() string {
	if e.GoalID == nil {
		return ""
	}
	return *e.GoalID
}

type EventFilter struct {
	EventType string
	Limit     int
}
