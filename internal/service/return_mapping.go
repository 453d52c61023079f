package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultReturnEpsilon is the band inside either corridor bound that counts
// as a weak return.
const DefaultReturnEpsilon = 0.005

// Reconstruction thresholds.
const (
	minGoalSimilarity       = 0.7
	minConstraintSimilarity = 0.5
	minContinuity           = 0.6
	minStateDeltaLen        = 10
	minStopConditionLen     = 5
	minReasoningLen         = 20
)

// ReturnValidator judges whether a session has returned to the state its
// active checkpoint declares.
type ReturnValidator struct {
	epsilon float64
}

func NewReturnValidator(epsilon float64) *ReturnValidator {
	if epsilon < 0 {
		epsilon = 0
	}
	return &ReturnValidator{epsilon: epsilon}
}

// Validate decides the return mapping. events are the session's recent events
// and are only consulted for constraint violations reported after the
// checkpoint. The returned mapping has no id or timestamp yet.
func (v *ReturnValidator) Validate(sessionID string, coherence domain.CoherenceMetrics, cp *domain.Checkpoint, events []domain.Event) domain.ReturnMapping {
	rm := domain.ReturnMapping{
		SessionID: sessionID,
		Score:     coherence.Score,
	}
	if cp != nil {
		id := cp.ID
		rm.CheckpointID = &id
	}

	corridor := coherence.CorridorRange
	if corridor == (domain.CorridorRange{}) {
		corridor = domain.DefaultCorridor()
	}
	score := coherence.Score

	switch {
	case score < corridor.Low:
		return withReason(rm, domain.ReturnFailed,
			fmt.Sprintf("coherence below lower corridor bound (%.3f < %.3f)", score, corridor.Low))
	case score > corridor.High:
		return withReason(rm, domain.ReturnFailed,
			fmt.Sprintf("coherence above upper corridor bound (%.3f > %.3f)", score, corridor.High))
	case cp == nil:
		return withReason(rm, domain.ReturnWeak, "no active checkpoint")
	}

	if c, ok := violatedConstraint(cp, events); ok {
		return withReason(rm, domain.ReturnFailed, "constraint violated: "+c)
	}

	if score-corridor.Low < v.epsilon || corridor.High-score < v.epsilon {
		return withReason(rm, domain.ReturnWeak,
			fmt.Sprintf("coherence within %.3f of corridor boundary", v.epsilon))
	}

	rm.Status = domain.ReturnValid
	return rm
}

// ValidateReconstruction judges a submitted reconstruction. The corridor
// rules of Validate run first and a failure there stands; otherwise the
// reconstruction checks run in order and the first one that does not pass
// decides the outcome.
func (v *ReturnValidator) ValidateReconstruction(sessionID string, coherence domain.CoherenceMetrics, cp *domain.Checkpoint, events []domain.Event, rec domain.Reconstruction) domain.ReturnMapping {
	rm := v.Validate(sessionID, coherence, cp, events)
	rm.Reconstruction = &rec
	if rm.Status == domain.ReturnFailed || cp == nil {
		return rm
	}
	if status, reason := checkReconstruction(rec, cp, events); status != domain.ReturnValid {
		return withReason(rm, status, reason)
	}
	return rm
}

// ValidateReconstructionInput rejects a reconstruction that cannot be judged.
func ValidateReconstructionInput(rec domain.Reconstruction) error {
	if strings.TrimSpace(rec.GoalReconstruction) == "" {
		return ErrGoalReconstructionMissing
	}
	return nil
}

func checkReconstruction(rec domain.Reconstruction, cp *domain.Checkpoint, events []domain.Event) (domain.ReturnMappingStatus, string) {
	if sim := jaccard(rec.GoalReconstruction, cp.GoalStatement); sim < minGoalSimilarity {
		return domain.ReturnFailed, fmt.Sprintf("goal reconstruction too divergent (%.0f%% similarity, need %.0f%%)",
			sim*100, minGoalSimilarity*100)
	}
	if len(cp.Constraints) > 0 && !constraintsRecalled(rec.ConstraintsReconstruction, cp.Constraints) {
		return domain.ReturnWeak, "constraints not adequately reconstructed"
	}
	if !stateDeltaExplained(rec.StateDelta) {
		return domain.ReturnWeak, "state delta not clearly explained"
	}
	if c := continuity(rec, toolResultsSince(cp, events)); c < minContinuity {
		return domain.ReturnFailed, fmt.Sprintf("logical continuity too low (%.0f%%)", c*100)
	}
	if !stopConditionDefined(rec.StopCondition) {
		return domain.ReturnWeak, "stop condition not clearly defined"
	}
	return domain.ReturnValid, ""
}

func constraintsRecalled(reconstructed, original []string) bool {
	for _, r := range reconstructed {
		for _, o := range original {
			if jaccard(r, o) > minConstraintSimilarity {
				return true
			}
		}
	}
	return false
}

func stateDeltaExplained(delta string) bool {
	d := strings.ToLower(strings.TrimSpace(delta))
	if len(d) <= minStateDeltaLen {
		return false
	}
	return !strings.Contains(d, "unknown") && !strings.Contains(d, "unclear")
}

func stopConditionDefined(stop string) bool {
	s := strings.ToLower(strings.TrimSpace(stop))
	if len(s) <= minStopConditionLen {
		return false
	}
	for _, w := range []string{"when", "until", "complete", "done"} {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var causalMarkers = []string{"because", "therefore", "since", "need to", "must", "require"}

// continuity scores how well the stated reasoning connects the state delta
// to the next action, penalizing claims the tool results contradict.
func continuity(rec domain.Reconstruction, results []string) float64 {
	why := strings.ToLower(strings.TrimSpace(rec.WhyNextActionFollows))
	if len(why) < minReasoningLen {
		return 0.3
	}
	score := 0.5
	for _, m := range causalMarkers {
		if strings.Contains(why, m) {
			score += 0.2
			break
		}
	}
	delta := tokens(rec.StateDelta)
	for t := range tokens(why) {
		if _, ok := delta[t]; ok {
			score += 0.2
			break
		}
	}
	if contradictsResults(why, results) {
		score -= 0.5
	}
	return max(0, min(1, score))
}

func contradictsResults(why string, results []string) bool {
	for _, r := range results {
		if strings.Contains(why, "failed") &&
			(strings.Contains(r, "success") || strings.Contains(r, `"status":"ok"`)) {
			return true
		}
		if strings.Contains(why, "found") &&
			(strings.Contains(r, "[]") || strings.Contains(r, "null")) {
			return true
		}
	}
	return false
}

// toolResultsSince returns the lowercased JSON results of tool calls made
// after the checkpoint.
func toolResultsSince(cp *domain.Checkpoint, events []domain.Event) []string {
	var out []string
	for _, e := range events {
		if e.EventType != domain.EventTypeToolCall || !e.TS.After(cp.TS) {
			continue
		}
		result, ok := e.Payload["result"]
		if !ok {
			continue
		}
		raw, err := json.Marshal(result)
		if err != nil {
			continue
		}
		out = append(out, strings.ToLower(string(raw)))
	}
	return out
}

func withReason(rm domain.ReturnMapping, status domain.ReturnMappingStatus, reason string) domain.ReturnMapping {
	rm.Status = status
	rm.FailureReason = &reason
	return rm
}

// violatedConstraint returns the first checkpoint constraint reported as
// violated by an event newer than the checkpoint.
func violatedConstraint(cp *domain.Checkpoint, events []domain.Event) (string, bool) {
	if len(cp.Constraints) == 0 {
		return "", false
	}
	for _, e := range events {
		if !e.TS.After(cp.TS) {
			continue
		}
		for _, reported := range reportedViolations(e) {
			for _, c := range cp.Constraints {
				if constraintMatches(c, reported) {
					return c, true
				}
			}
		}
	}
	return "", false
}

func reportedViolations(e domain.Event) []string {
	var out []string
	if e.EventType == domain.EventTypeConstraintViolation {
		if c, ok := e.Payload["constraint"].(string); ok && c != "" {
			out = append(out, c)
		}
	}
	switch list := e.Payload["violated_constraints"].(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			if c, ok := item.(string); ok && c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// constraintMatches compares case-insensitively, falling back to token
// overlap (Jaccard >= 0.5) so paraphrased reports still match.
func constraintMatches(constraint, reported string) bool {
	if strings.EqualFold(strings.TrimSpace(constraint), strings.TrimSpace(reported)) {
		return true
	}
	return jaccard(constraint, reported) >= minConstraintSimilarity
}

// jaccard is the token-set similarity of a and b; 0 when either is empty.
func jaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(f) > 2 {
			out[f] = struct{}{}
		}
	}
	return out
}

// ReturnMappingService persists return mapping judgments. Only transitions
// are stored during live evaluation, so history stays readable.
type ReturnMappingService struct {
	mappings  domain.ReturnMappingStore
	incidents *IncidentService
	logger    *zap.Logger
	now       func() time.Time
}

func NewReturnMappingService(mappings domain.ReturnMappingStore, incidents *IncidentService, logger *zap.Logger) *ReturnMappingService {
	return &ReturnMappingService{
		mappings:  mappings,
		incidents: incidents,
		logger:    logger,
		now:       time.Now,
	}
}

// Reconcile returns latest unchanged when computed reached the same outcome,
// otherwise persists computed and returns it.
func (s *ReturnMappingService) Reconcile(ctx context.Context, computed domain.ReturnMapping, latest *domain.ReturnMapping) (*domain.ReturnMapping, error) {
	if sameJudgment(latest, computed) {
		return latest, nil
	}
	if err := s.Persist(ctx, &computed); err != nil {
		return nil, err
	}
	return &computed, nil
}

// Persist stores rm unconditionally. A failed mapping is reported as an
// incident.
func (s *ReturnMappingService) Persist(ctx context.Context, rm *domain.ReturnMapping) error {
	if rm.SessionID == "" {
		return ErrSessionIDMissing
	}
	if !domain.ValidReturnMappingStatus(string(rm.Status)) {
		return ErrInvalidStatus
	}
	if rm.Status == domain.ReturnFailed && rm.Reason() == "" {
		return fmt.Errorf("%w: failed return mapping requires a reason", ErrValidation)
	}
	rm.ID = uuid.New()
	rm.TS = s.now().UTC().Truncate(time.Microsecond)

	if err := s.mappings.Append(ctx, rm); err != nil {
		return storeErr(err)
	}
	rm.Persisted = true

	if rm.Status == domain.ReturnFailed && s.incidents != nil {
		details := map[string]any{
			"return_mapping_id": rm.ID.String(),
			"reason":            rm.Reason(),
			"score":             rm.Score,
		}
		if rm.CheckpointID != nil {
			details["checkpoint_id"] = rm.CheckpointID.String()
		}
		inc := &domain.Incident{
			SessionID:    rm.SessionID,
			IncidentType: domain.IncidentReturnMappingFailure,
			Severity:     domain.SeverityHigh,
			Details:      details,
		}
		if err := s.incidents.Record(ctx, inc); err != nil {
			s.logger.Warn("failed to record return mapping incident",
				zap.String("session_id", rm.SessionID),
				zap.Error(err))
		}
	}
	return nil
}

func (s *ReturnMappingService) List(ctx context.Context, sessionID string, limit int) ([]domain.ReturnMapping, error) {
	if sessionID == "" {
		return nil, ErrSessionIDMissing
	}
	out, err := s.mappings.ListBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func sameCheckpoint(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
