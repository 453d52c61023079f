package domain

// Alert is transient: it is recomputed every cycle and never persisted.
type Alert struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

const (
	AlertFragmentation = "fragmentation"
	AlertRigidity      = "rigidity"
	AlertReturnFailure = "return_failure"
	AlertIncident      = "incident"
)

// AlertStatus distinguishes "all nominal" from "nothing observed yet".
type AlertStatus string

const (
	AlertStatusNoData   AlertStatus = "no_data"
	AlertStatusNominal  AlertStatus = "nominal"
	AlertStatusAlerting AlertStatus = "alerting"
)
