package domain

import "time"

// Snapshot is everything read from the store for one session at a single
// point in time.
type Snapshot struct {
	SessionID           string
	Events              []Event // newest first
	EventCount          int
	LatestCheckpoint    *Checkpoint
	LatestReturnMapping *ReturnMapping
	RecentIncidents     []Incident // newest first
}

type SnapshotOpts struct {
	EventLimit    int
	IncidentLimit int
}

// StateBundle is the self-contained message pushed to live-feed subscribers
// and returned by the one-shot state query.
type StateBundle struct {
	SessionID           string           `json:"session_id"`
	Coherence           CoherenceMetrics `json:"coherence"`
	LatestCheckpoint    *Checkpoint      `json:"latest_checkpoint"`
	LatestReturnMapping *ReturnMapping   `json:"latest_return_mapping"`
	RecentIncidents     []Incident       `json:"recent_incidents"`
	Alerts              []Alert          `json:"alerts"`
	AlertStatus         AlertStatus      `json:"alert_status"`
	EventCount          int              `json:"event_count"`
	Timestamp           time.Time        `json:"timestamp"`
}
