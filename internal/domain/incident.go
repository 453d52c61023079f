package domain

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func ValidSeverity(s string) bool {
	return Severity(s).Rank() > 0
}

// Rank orders severities low < medium < high < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Incident types raised by the detectors.
const (
	IncidentCoherenceDrop        = "coherence_drop"
	IncidentCorridorExit         = "corridor_exit"
	IncidentReturnMappingFailure = "return_mapping_failure"
)

// Incident is an append-only, severity-tagged anomaly recorded against a session.
type Incident struct {
	ID           uuid.UUID      `json:"id"`
	SessionID    string         `json:"session_id"`
	IncidentType string         `json:"incident_type"`
	Severity     Severity       `json:"severity"`
	Details      map[string]any `json:"details"`
	TS           time.Time      `json:"ts"`
}

type IncidentFilter struct {
	Severity    *Severity
	MinSeverity *Severity
	Limit       int
}
