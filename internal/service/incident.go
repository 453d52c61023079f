package service

import (
	"context"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type IncidentService struct {
	store  domain.IncidentStore
	logger *zap.Logger
	now    func() time.Time
}

func NewIncidentService(store domain.IncidentStore, logger *zap.Logger) *IncidentService {
	return &IncidentService{store: store, logger: logger, now: time.Now}
}

// Record appends an incident. Incidents are never updated or deleted.
func (s *IncidentService) Record(ctx context.Context, inc *domain.Incident) error {
	inc.SessionID = strings.TrimSpace(inc.SessionID)
	if inc.SessionID == "" {
		return ErrSessionIDMissing
	}
	inc.IncidentType = strings.TrimSpace(inc.IncidentType)
	if inc.IncidentType == "" {
		return ErrIncidentTypeMissing
	}
	if !domain.ValidSeverity(string(inc.Severity)) {
		return ErrInvalidSeverity
	}
	if inc.Details == nil {
		inc.Details = map[string]any{}
	}
	inc.ID = uuid.New()
	inc.TS = s.now().UTC().Truncate(time.Microsecond)

	if err := s.store.Append(ctx, inc); err != nil {
		return storeErr(err)
	}
	incidentsRecorded.WithLabelValues(inc.IncidentType, string(inc.Severity)).Inc()

	s.logger.Info("incident recorded",
		zap.String("session_id", inc.SessionID),
		zap.String("incident_type", inc.IncidentType),
		zap.String("severity", string(inc.Severity)))
	return nil
}

// List returns incidents newest first. Severity matches exactly; MinSeverity
// keeps everything at or above the given rank.
func (s *IncidentService) List(ctx context.Context, sessionID string, filter domain.IncidentFilter) ([]domain.Incident, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	if filter.Severity != nil && !domain.ValidSeverity(string(*filter.Severity)) {
		return nil, ErrInvalidSeverity
	}
	if filter.MinSeverity != nil && !domain.ValidSeverity(string(*filter.MinSeverity)) {
		return nil, ErrInvalidSeverity
	}
	out, err := s.store.ListBySession(ctx, sessionID, filter)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}
