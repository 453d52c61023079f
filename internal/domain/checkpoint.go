package domain

import (
	"time"

	"github.com/google/uuid"
)

// Checkpoint is a declared stable reference state. The active checkpoint of a
// session is the one with the newest timestamp; there is no stored flag.
type Checkpoint struct {
	ID                  uuid.UUID            `json:"id"`
	SessionID           string               `json:"session_id"`
	GoalStatement       string               `json:"goal_statement"`
	Constraints         []string             `json:"constraints"`
	PlanStep            *string              `json:"plan_step,omitempty"`
	Summary             *string              `json:"summary,omitempty"`
	RestoreInstructions *string              `json:"restore_instructions,omitempty"`
	CoherenceEstimate   *float64             `json:"coherence_estimate,omitempty"`
	CoherenceConfidence *CoherenceConfidence `json:"coherence_confidence,omitempty"`
	TS                  time.Time            `json:"ts"`
}
