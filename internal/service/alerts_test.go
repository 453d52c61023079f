package service

import (
	"testing"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func incidentsWith(severities ...domain.Severity) []domain.Incident {
	out := make([]domain.Incident, len(severities))
	for i, s := range severities {
		out[i] = domain.Incident{ID: uuid.New(), SessionID: "s1", IncidentType: "test", Severity: s}
	}
	return out
}

func TestDeriveAlerts_Fragmentation(t *testing.T) {
	m := metricsFor(0.55)
	rm := NewReturnValidator(DefaultReturnEpsilon).Validate("s1", m, testCheckpoint(), nil)

	alerts := DeriveAlerts(m, nil, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertFragmentation, alerts[0].Type)
	assert.Equal(t, domain.SeverityHigh, alerts[0].Severity)

	// With the failed return mapping the return failure joins in.
	alerts = DeriveAlerts(m, &rm, nil)
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.AlertReturnFailure, alerts[1].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[1].Severity)
}

func TestDeriveAlerts_Rigidity(t *testing.T) {
	alerts := DeriveAlerts(metricsFor(0.9), nil, nil)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertRigidity, alerts[0].Type)
	assert.Equal(t, domain.SeverityMedium, alerts[0].Severity)
}

func TestDeriveAlerts_AllNominalIsEmptyNotNil(t *testing.T) {
	m := metricsFor(0.64)
	rm := NewReturnValidator(DefaultReturnEpsilon).Validate("s1", m, testCheckpoint(), nil)
	require.Equal(t, domain.ReturnValid, rm.Status)

	alerts := DeriveAlerts(m, &rm, incidentsWith(domain.SeverityLow, domain.SeverityHigh))
	assert.NotNil(t, alerts)
	assert.Empty(t, alerts)
}

func TestDeriveAlerts_CountsCriticalIncidents(t *testing.T) {
	incidents := incidentsWith(domain.SeverityLow, domain.SeverityCritical, domain.SeverityHigh)
	alerts := DeriveAlerts(metricsFor(0.64), nil, incidents)

	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertIncident, alerts[0].Type)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, "1 critical incident(s) detected", alerts[0].Message)
}

func TestDeriveAlerts_Pure(t *testing.T) {
	m := metricsFor(0.55)
	rm := NewReturnValidator(DefaultReturnEpsilon).Validate("s1", m, nil, nil)
	incidents := incidentsWith(domain.SeverityCritical, domain.SeverityCritical)

	first := DeriveAlerts(m, &rm, incidents)
	_ = DeriveAlerts(metricsFor(0.9), nil, nil)
	second := DeriveAlerts(m, &rm, incidents)

	assert.Equal(t, first, second)
	assert.Len(t, incidents, 2)
	assert.Equal(t, "2 critical incident(s) detected", first[len(first)-1].Message)
}

func TestAlertStatusFor(t *testing.T) {
	assert.Equal(t, domain.AlertStatusNoData, AlertStatusFor(0, []domain.Alert{}))
	assert.Equal(t, domain.AlertStatusNominal, AlertStatusFor(3, []domain.Alert{}))
	assert.Equal(t, domain.AlertStatusAlerting, AlertStatusFor(3, DeriveAlerts(metricsFor(0.2), nil, nil)))
}
