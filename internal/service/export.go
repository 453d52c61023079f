package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/buildconfig"
	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const exportDataVersion = "1.0.0"

type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportJSONL ExportFormat = "jsonl"
	ExportCSV   ExportFormat = "csv"
)

var ErrInvalidExportFormat = fmt.Errorf("%w: format must be json, jsonl, or csv", ErrValidation)

type ExportOptions struct {
	SessionIDs      []string
	Start           *time.Time
	End             *time.Time
	Anonymize       bool
	IncludePayloads bool
	Format          ExportFormat
}

type ExportMetadata struct {
	ExportID             string            `json:"export_id"`
	ExportTimestamp      time.Time         `json:"export_timestamp"`
	SystemVersion        string            `json:"system_version"`
	DataVersion          string            `json:"data_version"`
	Format               ExportFormat      `json:"format"`
	AnonymizationApplied bool              `json:"anonymization_applied"`
	SessionCount         int               `json:"session_count"`
	EventCount           int               `json:"event_count"`
	CheckpointCount      int               `json:"checkpoint_count"`
	ReturnMappingCount   int               `json:"return_mapping_count"`
	IncidentCount        int               `json:"incident_count"`
	TimeRange            *ExportTimeRange  `json:"time_range,omitempty"`
	CoherenceParameters  CoherenceParams   `json:"coherence_parameters"`
	MetricDefinitions    map[string]string `json:"metric_definitions"`
}

type ExportTimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type CoherenceParams struct {
	LowerBound    float64 `json:"lower_bound"`
	UpperBound    float64 `json:"upper_bound"`
	Aggregator    string  `json:"aggregator"`
	ReturnEpsilon float64 `json:"return_epsilon"`
}

// ExportFile is one rendered file of an export.
type ExportFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

type ResearchExport struct {
	Metadata ExportMetadata `json:"metadata"`
	Files    []ExportFile   `json:"files"`
}

// ExportService renders reproducible research datasets.
type ExportService struct {
	store      domain.ExportStore
	aggregator string
	epsilon    float64
	salt       string
	logger     *zap.Logger
	now        func() time.Time
}

// NewExportService builds an exporter. salt keys the anonymized session ids;
// the same salt maps the same session to the same id across exports.
func NewExportService(store domain.ExportStore, aggregator string, epsilon float64, salt string, logger *zap.Logger) *ExportService {
	if salt == "" {
		salt = uuid.NewString()
	}
	return &ExportService{
		store:      store,
		aggregator: aggregator,
		epsilon:    epsilon,
		salt:       salt,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *ExportService) Export(ctx context.Context, opts ExportOptions) (*ResearchExport, error) {
	if opts.Format == "" {
		opts.Format = ExportJSON
	}
	switch opts.Format {
	case ExportJSON, ExportJSONL, ExportCSV:
	default:
		return nil, ErrInvalidExportFormat
	}
	if opts.Start != nil && opts.End != nil && opts.End.Before(*opts.Start) {
		return nil, fmt.Errorf("%w: end must not be before start", ErrValidation)
	}

	data, err := s.store.ExportRecords(ctx, domain.ExportQuery{
		SessionIDs: opts.SessionIDs,
		Start:      opts.Start,
		End:        opts.End,
	})
	if err != nil {
		return nil, storeErr(err)
	}

	if opts.Anonymize {
		s.anonymize(data, opts.IncludePayloads)
	} else if !opts.IncludePayloads {
		for i := range data.Events {
			data.Events[i].Payload = map[string]any{}
		}
	}

	meta := s.metadata(data, opts)
	files, err := render(meta, data, opts.Format)
	if err != nil {
		return nil, err
	}

	s.logger.Info("research export generated",
		zap.String("export_id", meta.ExportID),
		zap.String("format", string(opts.Format)),
		zap.Int("sessions", meta.SessionCount),
		zap.Int("events", meta.EventCount))
	return &ResearchExport{Metadata: meta, Files: files}, nil
}

func (s *ExportService) metadata(data *domain.ExportData, opts ExportOptions) ExportMetadata {
	meta := ExportMetadata{
		ExportID:             uuid.NewString(),
		ExportTimestamp:      s.now().UTC(),
		SystemVersion:        buildconfig.Version(),
		DataVersion:          exportDataVersion,
		Format:               opts.Format,
		AnonymizationApplied: opts.Anonymize,
		SessionCount:         len(data.Sessions),
		EventCount:           len(data.Events),
		CheckpointCount:      len(data.Checkpoints),
		ReturnMappingCount:   len(data.ReturnMappings),
		IncidentCount:        len(data.Incidents),
		CoherenceParameters: CoherenceParams{
			LowerBound:    domain.CorridorLow,
			UpperBound:    domain.CorridorHigh,
			Aggregator:    s.aggregator,
			ReturnEpsilon: s.epsilon,
		},
		MetricDefinitions: map[string]string{
			"coherence":          "orientation × (1 − interrupt_cost) × (1 − volatility) − drift − contradiction_rate, clamped to [0,1]",
			"orientation":        "share of events aligned with the current goal [0,1]",
			"interrupt_cost":     "mean interrupt duration normalized by 300s [0,1]",
			"volatility":         "coefficient of variation of inter-event gaps, halved [0,1]",
			"drift":              "goal changes relative to window size [0,1]",
			"contradiction_rate": "tool call retry loop frequency [0,1]",
		},
	}

	var stamps []time.Time
	for _, sess := range data.Sessions {
		stamps = append(stamps, sess.StartedAt)
	}
	for _, e := range data.Events {
		stamps = append(stamps, e.TS)
	}
	if len(stamps) > 0 {
		tr := &ExportTimeRange{Start: stamps[0], End: stamps[0]}
		for _, ts := range stamps[1:] {
			if ts.Before(tr.Start) {
				tr.Start = ts
			}
			if ts.After(tr.End) {
				tr.End = ts
			}
		}
		meta.TimeRange = tr
	}
	return meta
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	namePattern  = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
)

func sanitizeText(s string) string {
	s = emailPattern.ReplaceAllString(s, "[EMAIL]")
	s = phonePattern.ReplaceAllString(s, "[PHONE]")
	s = urlPattern.ReplaceAllString(s, "[URL]")
	return namePattern.ReplaceAllString(s, "[NAME]")
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return sanitizeText(val)
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	}
	return v
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeReconstruction(r *domain.Reconstruction) *domain.Reconstruction {
	if r == nil {
		return nil
	}
	out := domain.Reconstruction{
		GoalReconstruction:   sanitizeText(r.GoalReconstruction),
		StateDelta:           sanitizeText(r.StateDelta),
		WhyNextActionFollows: sanitizeText(r.WhyNextActionFollows),
		StopCondition:        sanitizeText(r.StopCondition),
	}
	for _, c := range r.ConstraintsReconstruction {
		out.ConstraintsReconstruction = append(out.ConstraintsReconstruction, sanitizeText(c))
	}
	return &out
}

func sanitizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := sanitizeText(*s)
	return &v
}

// anonymize rewrites data in place. Session ids become salted hashes, actor
// ids become sequential labels, and free text is scrubbed.
func (s *ExportService) anonymize(data *domain.ExportData, includePayloads bool) {
	ids := make(map[string]string)
	sessionID := func(id string) string {
		if anon, ok := ids[id]; ok {
			return anon
		}
		sum := sha256.Sum256([]byte(s.salt + ":" + id))
		anon := "session_" + hex.EncodeToString(sum[:])[:12]
		ids[id] = anon
		return anon
	}

	actors := make(map[string]string)
	for i := range data.Sessions {
		sess := &data.Sessions[i]
		sess.ID = sessionID(sess.ID)
		if _, ok := actors[sess.ActorID]; !ok {
			actors[sess.ActorID] = "actor_" + strconv.Itoa(len(actors)+1)
		}
		sess.ActorID = actors[sess.ActorID]
	}
	for i := range data.Events {
		e := &data.Events[i]
		e.SessionID = sessionID(e.SessionID)
		if includePayloads {
			e.Payload = sanitizeMap(e.Payload)
		} else {
			e.Payload = map[string]any{}
		}
	}
	for i := range data.Checkpoints {
		cp := &data.Checkpoints[i]
		cp.SessionID = sessionID(cp.SessionID)
		cp.GoalStatement = sanitizeText(cp.GoalStatement)
		cp.Summary = sanitizePtr(cp.Summary)
		cp.RestoreInstructions = sanitizePtr(cp.RestoreInstructions)
		for j, c := range cp.Constraints {
			cp.Constraints[j] = sanitizeText(c)
		}
	}
	for i := range data.ReturnMappings {
		rm := &data.ReturnMappings[i]
		rm.SessionID = sessionID(rm.SessionID)
		rm.FailureReason = sanitizePtr(rm.FailureReason)
		rm.Reconstruction = sanitizeReconstruction(rm.Reconstruction)
	}
	for i := range data.Incidents {
		inc := &data.Incidents[i]
		inc.SessionID = sessionID(inc.SessionID)
		inc.Details = sanitizeMap(inc.Details)
	}
}

func render(meta ExportMetadata, data *domain.ExportData, format ExportFormat) ([]ExportFile, error) {
	if format == ExportJSON {
		body, err := json.MarshalIndent(map[string]any{
			"metadata":        meta,
			"sessions":        nonNil(data.Sessions),
			"events":          nonNil(data.Events),
			"checkpoints":     nonNil(data.Checkpoints),
			"return_mappings": nonNil(data.ReturnMappings),
			"incidents":       nonNil(data.Incidents),
		}, "", "  ")
		if err != nil {
			return nil, err
		}
		return []ExportFile{{Name: "export.json", ContentType: "application/json", Data: body}}, nil
	}

	metaBody, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	files := []ExportFile{{Name: "metadata.json", ContentType: "application/json", Data: metaBody}}

	if format == ExportJSONL {
		for _, set := range []struct {
			name    string
			records any
		}{
			{"sessions", data.Sessions},
			{"events", data.Events},
			{"checkpoints", data.Checkpoints},
			{"return_mappings", data.ReturnMappings},
			{"incidents", data.Incidents},
		} {
			body, err := toJSONL(set.records)
			if err != nil {
				return nil, err
			}
			files = append(files, ExportFile{Name: set.name + ".jsonl", ContentType: "application/x-ndjson", Data: body})
		}
		return files, nil
	}

	tables, err := csvTables(data)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		body, err := toCSV(t.header, t.rows)
		if err != nil {
			return nil, err
		}
		files = append(files, ExportFile{Name: t.name + ".csv", ContentType: "text/csv", Data: body})
	}
	return files, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func toJSONL(records any) ([]byte, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, item := range items {
		buf.Write(item)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

type csvTable struct {
	name   string
	header []string
	rows   [][]string
}

func csvTables(data *domain.ExportData) ([]csvTable, error) {
	sessions := csvTable{name: "sessions", header: []string{"id", "actor_type", "actor_id", "started_at", "ended_at"}}
	for _, s := range data.Sessions {
		ended := ""
		if s.EndedAt != nil {
			ended = formatTime(*s.EndedAt)
		}
		sessions.rows = append(sessions.rows, []string{s.ID, string(s.ActorType), s.ActorID, formatTime(s.StartedAt), ended})
	}

	events := csvTable{name: "events", header: []string{"id", "session_id", "actor", "event_type", "goal_id", "state_hash_before", "state_hash_after", "payload", "ts"}}
	for _, e := range data.Events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		events.rows = append(events.rows, []string{
			e.ID.String(), e.SessionID, string(e.Actor), e.EventType,
			deref(e.GoalID), deref(e.StateHashBefore), deref(e.StateHashAfter),
			string(payload), formatTime(e.TS),
		})
	}

	checkpoints := csvTable{name: "checkpoints", header: []string{"id", "session_id", "goal_statement", "constraints", "plan_step", "coherence_estimate", "ts"}}
	for _, cp := range data.Checkpoints {
		constraints, err := json.Marshal(cp.Constraints)
		if err != nil {
			return nil, err
		}
		estimate := ""
		if cp.CoherenceEstimate != nil {
			estimate = strconv.FormatFloat(*cp.CoherenceEstimate, 'f', -1, 64)
		}
		checkpoints.rows = append(checkpoints.rows, []string{
			cp.ID.String(), cp.SessionID, cp.GoalStatement, string(constraints),
			deref(cp.PlanStep), estimate, formatTime(cp.TS),
		})
	}

	mappings := csvTable{name: "return_mappings", header: []string{"id", "session_id", "status", "failure_reason", "checkpoint_id", "score", "reconstruction", "ts"}}
	for _, rm := range data.ReturnMappings {
		cpID := ""
		if rm.CheckpointID != nil {
			cpID = rm.CheckpointID.String()
		}
		reconstruction := ""
		if rm.Reconstruction != nil {
			raw, err := json.Marshal(rm.Reconstruction)
			if err != nil {
				return nil, err
			}
			reconstruction = string(raw)
		}
		mappings.rows = append(mappings.rows, []string{
			rm.ID.String(), rm.SessionID, string(rm.Status), rm.Reason(), cpID,
			strconv.FormatFloat(rm.Score, 'f', -1, 64), reconstruction, formatTime(rm.TS),
		})
	}

	incidents := csvTable{name: "incidents", header: []string{"id", "session_id", "incident_type", "severity", "details", "ts"}}
	for _, inc := range data.Incidents {
		details, err := json.Marshal(inc.Details)
		if err != nil {
			return nil, err
		}
		incidents.rows = append(incidents.rows, []string{
			inc.ID.String(), inc.SessionID, inc.IncidentType, string(inc.Severity),
			string(details), formatTime(inc.TS),
		})
	}

	return []csvTable{sessions, events, checkpoints, mappings, incidents}, nil
}

func toCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
