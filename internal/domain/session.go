package domain

import (
	"time"
)

// Session is optional metadata about a monitored session. Events do not
// require a session row to exist.
type Session struct {
	ID        string     `json:"id"`
	ActorType ActorType  `json:"actor_type"`
	ActorID   string     `json:"actor_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
