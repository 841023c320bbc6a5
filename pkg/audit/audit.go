// Package audit records assessment events for compliance review. The risk
// core only emits; this package owns delivery to whichever backing store the
// deployment wires in. Events carry scores, stages, and configuration
// versions, never message content.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

// Event types emitted by the service.
const (
	TypeAssessmentCompleted = "assessment.completed"
	TypeCaseDelivered       = "exposure.case_delivered"
	TypeSessionReset        = "exposure.session_reset"
)

// Event is the audit envelope for one recorded occurrence.
type Event struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	TimestampMicros int64           `json:"timestamp"`
	ConversationID  uuid.UUID       `json:"conversation_id,omitempty"`
	AssessmentID    uuid.UUID       `json:"assessment_id,omitempty"`
	AnalystID       string          `json:"analyst_id,omitempty"`
	Score           float64         `json:"score,omitempty"`
	Stage           string          `json:"stage,omitempty"`
	RiskLevel       string          `json:"risk_level,omitempty"`
	ConfigVersion   string          `json:"model_version,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

var (
	errMissingType = errors.New("audit: event type is required")

	nowFunc = time.Now
)

// NewAssessmentEvent builds the envelope for a completed assessment.
// The config version ties the recorded score to the exact weight tables
// that produced it.
func NewAssessmentEvent(a *risk.RiskAssessment, analystID string) (Event, error) {
	if a == nil {
		return Event{}, errors.New("audit: assessment is required")
	}
	return Event{
		EventID:         uuid.New(),
		EventType:       TypeAssessmentCompleted,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		ConversationID:  a.ConversationID,
		AssessmentID:    a.AssessmentID,
		AnalystID:       strings.TrimSpace(analystID),
		Score:           a.GroomingRiskScore,
		Stage:           string(a.CurrentStage),
		RiskLevel:       string(a.RiskLevel),
		ConfigVersion:   a.ConfigVersion,
	}, nil
}

// NewExposureEvent builds the envelope for an exposure-tracker occurrence
// (case delivery or session reset).
func NewExposureEvent(eventType, analystID string, payload any) (Event, error) {
	if strings.TrimSpace(eventType) == "" {
		return Event{}, errMissingType
	}
	evt := Event{
		EventID:         uuid.New(),
		EventType:       eventType,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		AnalystID:       strings.TrimSpace(analystID),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("audit: marshal payload: %w", err)
		}
		evt.Payload = data
	}
	return evt, nil
}

// Sink records events. Implementations must be safe for concurrent use.
// A sink failure never fails the assessment that produced the event; the
// caller logs and moves on.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// NopSink drops everything. The default when no audit backend is wired.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) error { return nil }
