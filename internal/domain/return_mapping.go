package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReturnMappingStatus string

const (
	ReturnValid  ReturnMappingStatus = "valid"
	ReturnWeak   ReturnMappingStatus = "weak"
	ReturnFailed ReturnMappingStatus = "failed"
)

func ValidReturnMappingStatus(s string) bool {
	switch ReturnMappingStatus(s) {
	case ReturnValid, ReturnWeak, ReturnFailed:
		return true
	}
	return false
}

// ReturnMapping is the judgment of whether the session has actually returned
// to the state declared by its active checkpoint. A mapping computed for a
// read-only query is not stored; it has Persisted false and no id.
type ReturnMapping struct {
	ID             uuid.UUID           `json:"id,omitzero"`
	SessionID      string              `json:"session_id"`
	Status         ReturnMappingStatus `json:"status"`
	FailureReason  *string             `json:"failure_reason,omitempty"`
	CheckpointID   *uuid.UUID          `json:"checkpoint_id,omitempty"`
	Score          float64             `json:"score"`
	Reconstruction *Reconstruction     `json:"reconstruction,omitempty"`
	Persisted      bool                `json:"persisted"`
	TS             time.Time           `json:"ts"`
}

// Reconstruction is an agent's restatement of where it is relative to its
// active checkpoint, submitted when it claims to have returned.
type Reconstruction struct {
	GoalReconstruction        string   `json:"goal_reconstruction"`
	ConstraintsReconstruction []string `json:"constraints_reconstruction"`
	StateDelta                string   `json:"state_delta"`
	WhyNextActionFollows      string   `json:"why_next_action_follows"`
	StopCondition             string   `json:"stop_condition"`
}

// Reason returns the failure reason or "".
func (r ReturnMapping) Reason() string {
	if r.FailureReason == nil {
		return ""
	}
	return *r.FailureReason
}

// SameOutcome reports whether two mappings reached the same judgment.
func (r ReturnMapping) SameOutcome(other ReturnMapping) bool {
	return r.Status == other.Status && r.Reason() == other.Reason()
}
