package service

import (
	"fmt"

	"github.com/Harshitk-cp/resona/internal/domain"
)

// DeriveAlerts turns one cycle's coherence, return mapping and recent
// incidents into operator alerts. It is pure: the same inputs always give the
// same sequence. The result is empty, never nil, when everything is nominal.
func DeriveAlerts(coherence domain.CoherenceMetrics, rm *domain.ReturnMapping, incidents []domain.Incident) []domain.Alert {
	alerts := []domain.Alert{}

	if coherence.BelowCorridor() {
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertFragmentation,
			Severity: domain.SeverityHigh,
			Message:  "Coherence below corridor: fragmentation risk",
		})
	}
	if coherence.AboveCorridor() {
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertRigidity,
			Severity: domain.SeverityMedium,
			Message:  "Coherence above corridor: rigidity risk",
		})
	}
	if rm != nil && rm.Status == domain.ReturnFailed {
		msg := "Return mapping validation failed"
		if reason := rm.Reason(); reason != "" {
			msg += ": " + reason
		}
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertReturnFailure,
			Severity: domain.SeverityCritical,
			Message:  msg,
		})
	}

	critical := 0
	for _, inc := range incidents {
		if inc.Severity == domain.SeverityCritical {
			critical++
		}
	}
	if critical > 0 {
		alerts = append(alerts, domain.Alert{
			Type:     domain.AlertIncident,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("%d critical incident(s) detected", critical),
		})
	}

	return alerts
}

// AlertStatusFor separates "nothing observed yet" from "all nominal".
func AlertStatusFor(eventCount int, alerts []domain.Alert) domain.AlertStatus {
	switch {
	case len(alerts) > 0:
		return domain.AlertStatusAlerting
	case eventCount == 0:
		return domain.AlertStatusNoData
	default:
		return domain.AlertStatusNominal
	}
}
