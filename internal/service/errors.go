package service

import (
	"errors"
	"fmt"

	"github.com/Harshitk-cp/resona/internal/store"
)

var (
	// ErrValidation is wrapped by every malformed-input error so callers can
	// reject them at the boundary with one check.
	ErrValidation = errors.New("validation failed")

	ErrInvalidSeverity = fmt.Errorf("%w: severity must be low, medium, high, or critical", ErrValidation)
	ErrInvalidStatus   = fmt.Errorf("%w: status must be valid, weak, or failed", ErrValidation)
	ErrInvalidActor    = fmt.Errorf("%w: actor must be user, system, or clinician", ErrValidation)

	ErrSessionIDMissing     = fmt.Errorf("%w: session_id is required", ErrValidation)
	ErrActorMissing         = fmt.Errorf("%w: actor is required", ErrValidation)
	ErrEventTypeMissing     = fmt.Errorf("%w: event_type is required", ErrValidation)
	ErrGoalStatementMissing = fmt.Errorf("%w: goal_statement is required", ErrValidation)
	ErrIncidentTypeMissing  = fmt.Errorf("%w: incident_type is required", ErrValidation)
	ErrActorIDMissing       = fmt.Errorf("%w: actor_id is required", ErrValidation)

	ErrGoalReconstructionMissing = fmt.Errorf("%w: goal_reconstruction is required", ErrValidation)

	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")

	// ErrStoreUnavailable signals degraded mode: the durable store cannot be
	// reached. It is never fatal.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// storeErr lifts store-level unavailability into the service error set and
// passes every other error through unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
