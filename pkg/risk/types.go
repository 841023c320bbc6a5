// Package risk implements behavioral risk assessment for abstracted
// conversations: feature extraction, progression-stage classification,
// weighted risk scoring, and explainability.
//
// The package never inspects raw explicit content. Inputs are
// pre-abstracted message text plus metadata; all signals are derived from
// temporal patterns and lightweight marker matching.
package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// SenderRole identifies who sent a message within a conversation.
type SenderRole string

const (
	RoleAdult   SenderRole = "adult"
	RoleMinor   SenderRole = "minor"
	RoleUnknown SenderRole = "unknown"
)

// Message is a single timestamped, role-tagged, content-abstracted message.
// Messages are immutable once created; ordering by timestamp is load-bearing
// and extraction re-sorts defensively.
type Message struct {
	ID             uuid.UUID  `json:"message_id"`
	Timestamp      time.Time  `json:"timestamp"`
	SenderRole     SenderRole `json:"sender_role"`
	AbstractedText string     `json:"abstracted_text"`
}

// Conversation is an ordered sequence of messages under assessment.
// A conversation owns its messages exclusively.
type Conversation struct {
	ID           uuid.UUID `json:"conversation_id"`
	Messages     []Message `json:"messages"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time,omitempty"`
	PlatformType string    `json:"platform_type,omitempty"`
	IsSynthetic  bool      `json:"is_synthetic"`
}

// ErrEmptyConversation is returned when a conversation carries no messages.
var ErrEmptyConversation = errors.New("risk: conversation must contain at least one message")

// Validate rejects malformed conversations before extraction.
func (c *Conversation) Validate() error {
	if c == nil {
		return errors.New("risk: conversation is nil")
	}
	if len(c.Messages) == 0 {
		return ErrEmptyConversation
	}
	for i, m := range c.Messages {
		switch m.SenderRole {
		case RoleAdult, RoleMinor, RoleUnknown:
		default:
			return &ValidationError{Field: fmt.Sprintf("messages[%d].sender_role", i), Reason: fmt.Sprintf("unknown role %q", m.SenderRole)}
		}
	}
	return nil
}

// Duration returns the conversation span in hours, derived from message
// timestamps (falling back to declared start/end when under two messages).
func (c *Conversation) Duration() float64 {
	if len(c.Messages) < 2 {
		if !c.EndTime.IsZero() && c.EndTime.After(c.StartTime) {
			return c.EndTime.Sub(c.StartTime).Hours()
		}
		return 0
	}
	minTS, maxTS := c.Messages[0].Timestamp, c.Messages[0].Timestamp
	for _, m := range c.Messages[1:] {
		if m.Timestamp.Before(minTS) {
			minTS = m.Timestamp
		}
		if m.Timestamp.After(maxTS) {
			maxTS = m.Timestamp
		}
	}
	return maxTS.Sub(minTS).Hours()
}

// ValidationError reports a malformed input field. It is returned before any
// extraction or scoring happens; inputs are never silently defaulted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("risk: invalid %s: %s", e.Field, e.Reason)
}

// ============================================================================
// FEATURE VECTOR
// ============================================================================

// Feature names, used as stable keys in contributions, explanations, and
// the audit trail.
const (
	FeatureContactFrequency  = "contact_frequency_score"
	FeaturePersistence       = "persistence_after_nonresponse"
	FeatureTimeIrregularity  = "time_of_day_irregularity"
	FeatureEmotionalDep      = "emotional_dependency_indicators"
	FeatureIsolationPressure = "isolation_pressure"
	FeatureSecrecyPressure   = "secrecy_pressure"
	FeaturePlatformMigration = "platform_migration_attempts"
	FeatureToneShift         = "tone_shift_score"
)

// FeatureVector is the fixed set of 8 behavioral signals, each normalized to
// [0,1]. Produced fresh per assessment and never mutated afterwards.
type FeatureVector struct {
	ContactFrequencyScore       float64 `json:"contact_frequency_score"`
	PersistenceAfterNonresponse float64 `json:"persistence_after_nonresponse"`
	TimeOfDayIrregularity       float64 `json:"time_of_day_irregularity"`
	EmotionalDependency         float64 `json:"emotional_dependency_indicators"`
	IsolationPressure           float64 `json:"isolation_pressure"`
	SecrecyPressure             float64 `json:"secrecy_pressure"`
	PlatformMigration           float64 `json:"platform_migration_attempts"`
	ToneShiftScore              float64 `json:"tone_shift_score"`
}

// Values returns the vector as ordered (name, value) pairs. The ordering is
// fixed so contribution output is deterministic.
func (f *FeatureVector) Values() []FeatureValue {
	return []FeatureValue{
		{FeatureContactFrequency, f.ContactFrequencyScore},
		{FeaturePersistence, f.PersistenceAfterNonresponse},
		{FeatureTimeIrregularity, f.TimeOfDayIrregularity},
		{FeatureEmotionalDep, f.EmotionalDependency},
		{FeatureIsolationPressure, f.IsolationPressure},
		{FeatureSecrecyPressure, f.SecrecyPressure},
		{FeaturePlatformMigration, f.PlatformMigration},
		{FeatureToneShift, f.ToneShiftScore},
	}
}

// FeatureValue pairs a feature name with its extracted value.
type FeatureValue struct {
	Name  string
	Value float64
}

// Validate reports a programming error when any signal is missing the [0,1]
// range or is NaN. A malformed vector fails the assessment call; it is never
// silently repaired.
func (f *FeatureVector) Validate() error {
	for _, fv := range f.Values() {
		if math.IsNaN(fv.Value) || math.IsInf(fv.Value, 0) {
			return fmt.Errorf("risk: feature %s is not a finite number", fv.Name)
		}
		if fv.Value < 0 || fv.Value > 1 {
			return fmt.Errorf("risk: feature %s out of range: %v", fv.Name, fv.Value)
		}
	}
	return nil
}

// ============================================================================
// PROGRESSION STAGES
// ============================================================================

// Stage is a discrete progression stage with strictly ordered severity.
// The classifier picks the highest-severity stage whose criteria hold; a
// stage represents an observed behavioral pattern, not certainty of intent.
type Stage string

const (
	StageInitialContact      Stage = "initial_contact"
	StageTrustBuilding       Stage = "trust_building"
	StageEmotionalDependency Stage = "emotional_dependency"
	StageIsolationAttempts   Stage = "isolation_attempts"
	StageEscalationRisk      Stage = "escalation_risk"
)

// AllStages lists stages from lowest to highest severity.
func AllStages() []Stage {
	return []Stage{
		StageInitialContact,
		StageTrustBuilding,
		StageEmotionalDependency,
		StageIsolationAttempts,
		StageEscalationRisk,
	}
}

// Rank returns the severity ordinal of a stage (0 = initial_contact).
// Unknown stages rank below initial_contact.
func (s Stage) Rank() int {
	switch s {
	case StageInitialContact:
		return 0
	case StageTrustBuilding:
		return 1
	case StageEmotionalDependency:
		return 2
	case StageIsolationAttempts:
		return 3
	case StageEscalationRisk:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is one of the five defined stages.
func (s Stage) Valid() bool {
	return s.Rank() >= 0
}

func (s Stage) String() string { return string(s) }

// Title renders the stage for human-facing text ("Isolation Attempts").
func (s Stage) Title() string {
	switch s {
	case StageInitialContact:
		return "Initial Contact"
	case StageTrustBuilding:
		return "Trust Building"
	case StageEmotionalDependency:
		return "Emotional Dependency"
	case StageIsolationAttempts:
		return "Isolation Attempts"
	case StageEscalationRisk:
		return "Escalation Risk"
	default:
		return string(s)
	}
}

// ============================================================================
// RISK LEVELS & ASSESSMENT
// ============================================================================

// RiskLevel is the discrete bucket derived from the final 0-100 score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"  // [0, 20]
	RiskLow      RiskLevel = "low"      // (20, 40]
	RiskModerate RiskLevel = "moderate" // (40, 60]
	RiskHigh     RiskLevel = "high"     // (60, 80]
	RiskCritical RiskLevel = "critical" // (80, 100]
)

// LevelForScore buckets a final score into a RiskLevel.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score <= 20:
		return RiskMinimal
	case score <= 40:
		return RiskLow
	case score <= 60:
		return RiskModerate
	case score <= 80:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// IsHighRisk reports whether the level counts against an analyst's
// high-risk exposure budget.
func (l RiskLevel) IsHighRisk() bool {
	return l == RiskHigh || l == RiskCritical
}

// FeatureContribution is one feature's weighted share of the base score,
// kept pre-stage and pre-synergy for explainability. Contributions do not
// sum to the final score: stage and synergy effects are global.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Description  string  `json:"description"`
}

// RiskAssessment is the immutable result of one assessment call. The core
// does not persist it; the audit collaborator records the emitted event.
type RiskAssessment struct {
	AssessmentID   uuid.UUID `json:"assessment_id"`
	ConversationID uuid.UUID `json:"conversation_id"`

	GroomingRiskScore float64   `json:"grooming_risk_score"` // clamped [0,100]
	RiskLevel         RiskLevel `json:"risk_level"`
	ConfidenceLevel   float64   `json:"confidence_level"` // data volume proxy, not a CI

	CurrentStage    Stage   `json:"current_stage"`
	StageConfidence float64 `json:"stage_confidence"`

	FeatureContributions []FeatureContribution `json:"feature_contributions"`
	ReasoningSummary     string                `json:"reasoning_summary"`

	RequiresHumanReview bool      `json:"requires_human_review"`
	AssessedAt          time.Time `json:"assessment_timestamp"`
	ConfigVersion       string    `json:"model_version"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
