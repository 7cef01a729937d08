// Package scenario holds the domain types shared by the workflow engine and
// the normalizer that turns loosely typed input into a strict Draft.
package scenario

import (
	"time"

	"github.com/google/uuid"
)

// ─── Scenario ─────────────────────────────────────────────────────────────────

// Source records how a scenario entered the system.
type Source string

const (
	SourceForm   Source = "form"
	SourceUpload Source = "upload"
)

// State is the workflow position of a scenario.
type State string

const (
	StateReceived    State = "received"
	StateNormalized  State = "normalized"
	StatePersisted   State = "persisted"
	StateMatched     State = "matched"
	StateRecommended State = "recommended"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// RecommendationSource says where a scenario's recommendations came from.
type RecommendationSource string

const (
	FromGenerator          RecommendationSource = "generator"
	FromHistoricalFallback RecommendationSource = "historical_fallback"
	FromNone               RecommendationSource = "none"
)

// Scenario is a risk event record under analysis.
type Scenario struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Description          string               `json:"description"`
	RiskType             string               `json:"riskType"`
	Source               Source               `json:"source"`
	FileName             string               `json:"fileName,omitempty"`
	CreatedAt            time.Time            `json:"createdAt"`
	State                State                `json:"state"`
	StepLog              []StepEntry          `json:"stepLog"`
	ConfidenceScore      *float64             `json:"confidenceScore"`
	MatchedCases         []Match              `json:"matchedCases"`
	Recommendations      []string             `json:"recommendations"`
	RecommendationSource RecommendationSource `json:"recommendationSource,omitempty"`
}

// NewID returns a fresh scenario identifier.
func NewID() string {
	return "scn-" + uuid.NewString()
}

// Clone returns a deep copy so callers can hand scenarios across goroutines
// and storage boundaries without sharing slices.
func (s *Scenario) Clone() *Scenario {
	if s == nil {
		return nil
	}
	c := *s
	c.StepLog = cloneSlice(s.StepLog)
	c.MatchedCases = cloneSlice(s.MatchedCases)
	c.Recommendations = cloneSlice(s.Recommendations)
	if s.ConfidenceScore != nil {
		v := *s.ConfidenceScore
		c.ConfidenceScore = &v
	}
	return &c
}

// cloneSlice copies s, keeping an empty non-nil slice empty rather than nil
// so it still encodes as [] instead of null.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	c := make([]T, len(s))
	copy(c, s)
	return c
}

// Summary is the short listing form of a scenario.
type Summary struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RiskType        string    `json:"riskType"`
	Source          Source    `json:"source"`
	State           State     `json:"state"`
	ConfidenceScore *float64  `json:"confidenceScore"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Summarize drops the heavy and sensitive fields.
func (s *Scenario) Summarize() Summary {
	return Summary{
		ID:              s.ID,
		Name:            s.Name,
		RiskType:        s.RiskType,
		Source:          s.Source,
		State:           s.State,
		ConfidenceScore: s.ConfidenceScore,
		CreatedAt:       s.CreatedAt,
	}
}

// ─── Step log ─────────────────────────────────────────────────────────────────

// Stage names used in the step log.
const (
	StepNormalize       = "normalize"
	StepPersistSkeleton = "persist_skeleton"
	StepMatch           = "match"
	StepRecommend       = "recommend"
	StepPersist         = "persist"
)

// StepStatus is the outcome recorded for a stage.
type StepStatus string

const (
	StatusStarted  StepStatus = "started"
	StatusOK       StepStatus = "ok"
	StatusFailed   StepStatus = "failed"
	StatusDegraded StepStatus = "degraded"
)

// StepEntry is one immutable step log record.
type StepEntry struct {
	Step      string     `json:"step"`
	Status    StepStatus `json:"status"`
	Timestamp time.Time  `json:"ts"`
	Detail    string     `json:"detail,omitempty"`
}

// ─── Matching ─────────────────────────────────────────────────────────────────

// Match is one ranked historical case for a scenario.
type Match struct {
	CaseID     string  `json:"caseId"`
	Name       string  `json:"name"`
	RiskType   string  `json:"riskType"`
	Score      float64 `json:"score"`
	Percentage string  `json:"percentage"`
}

// HistoricalCase is a read-only reference entry.
type HistoricalCase struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	IssueDescription string   `json:"issueDescription" yaml:"issue_description"`
	Impact           string   `json:"impact" yaml:"impact"`
	Recommendations  []string `json:"recommendations" yaml:"recommendations"`
	RiskType         string   `json:"riskType" yaml:"risk_type"`
}

// ─── Events ───────────────────────────────────────────────────────────────────

// Event types published to listeners.
const (
	EventCompleted = "scenario.completed"
	EventUploaded  = "scenario.upload.completed"
)

// Event is a lifecycle notification for bus subscribers and webhooks.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	ScenarioID string            `json:"scenario_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Summary    string            `json:"summary"`
	Details    map[string]string `json:"details,omitempty"`
}

// NewEvent stamps an event with an id and the current UTC time.
func NewEvent(eventType, scenarioID, actor, summary string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		ScenarioID: scenarioID,
		Actor:      actor,
		Summary:    summary,
		Details:    make(map[string]string),
	}
}

// Subject returns the bus subject for the event.
func (e *Event) Subject() string {
	return "scenario.events." + e.Type
}
