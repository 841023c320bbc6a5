package risk

import (
	"fmt"
	"strings"
)

// Explanation is the structured, fully deterministic attribution for one
// assessment. Every field is template-derived from the assessment inputs;
// nothing here is generative.
type Explanation struct {
	AssessmentID   string `json:"assessment_id"`
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
	ConfigVersion  string `json:"model_version"`

	Summary           string                `json:"summary"`
	FlaggingRationale FlaggingRationale     `json:"flagging_rationale"`
	TopContributors   []FeatureContribution `json:"top_contributors"`
	Interpretation    string                `json:"interpretation"`
	StageAnalysis     StageAnalysis         `json:"stage_analysis"`
	RiskEvolution     RiskEvolution         `json:"risk_evolution"`
	Recommendations   []string              `json:"recommendations"`
	Limitations       []string              `json:"limitations"`
}

// FlaggingRationale answers "why was this flagged".
type FlaggingRationale struct {
	Flagged        bool     `json:"flagged"`
	PrimaryReasons []string `json:"primary_reasons"`
	RiskLevel      string   `json:"risk_level"`
	RequiresAction bool     `json:"requires_action"`
}

// StageAnalysis contextualizes the classified stage for an analyst.
type StageAnalysis struct {
	CurrentStage       string   `json:"current_stage"`
	StageConfidence    float64  `json:"stage_confidence"`
	Severity           string   `json:"severity"`
	TypicalDuration    string   `json:"typical_duration"`
	PotentialNextStage string   `json:"potential_next_stage"`
	WarningSigns       []string `json:"warning_signs"`
}

// RiskEvolution summarizes how the risk developed over the conversation.
type RiskEvolution struct {
	DurationHours   float64 `json:"conversation_duration_hours"`
	MessageCount    int     `json:"message_count"`
	ProgressionRate string  `json:"progression_rate"`
	RiskTrajectory  string  `json:"risk_trajectory"`
	TimelineSummary string  `json:"timeline_summary"`
}

// stageProfile is the fixed analyst-facing context per stage.
type stageProfile struct {
	severity  string
	duration  string
	nextStage string
	watchFor  []string
}

var stageProfiles = map[Stage]stageProfile{
	StageInitialContact: {
		severity:  "low",
		duration:  "days to weeks",
		nextStage: "Trust Building",
		watchFor:  []string{"Increasing contact frequency", "Personal questions"},
	},
	StageTrustBuilding: {
		severity:  "moderate",
		duration:  "weeks to months",
		nextStage: "Emotional Dependency",
		watchFor:  []string{"Emotional manipulation", "Isolation attempts"},
	},
	StageEmotionalDependency: {
		severity:  "high",
		duration:  "variable",
		nextStage: "Isolation Attempts",
		watchFor:  []string{"Secrecy requests", "Platform migration"},
	},
	StageIsolationAttempts: {
		severity:  "critical",
		duration:  "variable",
		nextStage: "Escalation Risk",
		watchFor:  []string{"Off-platform contact", "Meeting requests"},
	},
	StageEscalationRisk: {
		severity:  "critical",
		duration:  "immediate",
		nextStage: "None (intervention required)",
		watchFor:  []string{"All escalation indicators"},
	},
}

// levelRecommendations are ordered most urgent first.
var levelRecommendations = map[RiskLevel][]string{
	RiskCritical: {
		"URGENT: Immediate human review required",
		"Escalate to platform safety team",
		"Consider emergency intervention protocols",
		"Preserve all evidence for potential investigation",
		"Activate victim support resources",
	},
	RiskHigh: {
		"High-priority human review required within 24 hours",
		"Consider platform-level safety interventions",
		"Monitor for escalation patterns",
		"Prepare support resources",
	},
	RiskModerate: {
		"Increased monitoring recommended",
		"Track feature progression over time",
		"Consider educational interventions",
	},
	RiskLow: {
		"Continue baseline monitoring",
		"Track for pattern changes",
	},
	RiskMinimal: {
		"Continue baseline monitoring",
		"Track for pattern changes",
	},
}

// stageRecommendations append to the level recommendations for the two
// most severe stages.
var stageRecommendations = map[Stage][]string{
	StageEscalationRisk: {
		"CRITICAL: Immediate action required",
	},
	StageIsolationAttempts: {
		"Alert platform safety team",
		"Document evidence for investigation",
	},
}

var systemLimitations = []string{
	"This is a risk signaling system, not a criminal accusation tool",
	"False positives are possible; human review is essential",
	"System analyzes behavioral patterns, not content semantics",
	"Effectiveness depends on data quality and completeness",
	"Cultural and contextual factors may not be fully captured",
	"System is designed as one component of comprehensive safety measures",
	"Regular model updates and validation are required for accuracy",
}

// ExplainabilityEngine renders deterministic explanations and audit reports
// from assessment outputs. Stateless and safe for concurrent use.
type ExplainabilityEngine struct{}

// NewExplainabilityEngine returns the engine.
func NewExplainabilityEngine() *ExplainabilityEngine {
	return &ExplainabilityEngine{}
}

// Explain builds the full structured explanation for an assessment.
func (e *ExplainabilityEngine) Explain(a *RiskAssessment, fv *FeatureVector, conv *Conversation) *Explanation {
	return &Explanation{
		AssessmentID:      a.AssessmentID.String(),
		ConversationID:    a.ConversationID.String(),
		Timestamp:         a.AssessedAt.Format("2006-01-02T15:04:05Z07:00"),
		ConfigVersion:     a.ConfigVersion,
		Summary:           e.Summary(a),
		FlaggingRationale: e.flaggingRationale(a, fv),
		TopContributors:   topContributors(a.FeatureContributions, 3),
		Interpretation:    interpretPattern(a.FeatureContributions),
		StageAnalysis:     e.stageAnalysis(a),
		RiskEvolution:     e.riskEvolution(a, conv),
		Recommendations:   Recommendations(a.RiskLevel, a.CurrentStage),
		Limitations:       Limitations(),
	}
}

// Summary renders the one-line assessment headline.
func (e *ExplainabilityEngine) Summary(a *RiskAssessment) string {
	review := "not required"
	if a.RequiresHumanReview {
		review = "IS REQUIRED"
	}
	return fmt.Sprintf(
		"Risk assessment classified as %s with score %.1f/100 (confidence: %.2f). Conversation stage: %s. Human review %s.",
		strings.ToUpper(string(a.RiskLevel)), a.GroomingRiskScore, a.ConfidenceLevel,
		a.CurrentStage.Title(), review,
	)
}

func (e *ExplainabilityEngine) flaggingRationale(a *RiskAssessment, fv *FeatureVector) FlaggingRationale {
	var reasons []string

	if a.GroomingRiskScore > 60 {
		reasons = append(reasons, fmt.Sprintf(
			"High risk score (%.1f/100) exceeds safety threshold", a.GroomingRiskScore))
	}
	if a.CurrentStage == StageIsolationAttempts || a.CurrentStage == StageEscalationRisk {
		reasons = append(reasons, fmt.Sprintf(
			"Advanced progression stage detected: %s", a.CurrentStage.Title()))
	}

	var elevated []string
	for _, v := range fv.Values() {
		if v.Name == FeatureTimeIrregularity || v.Name == FeatureToneShift {
			continue
		}
		if v.Value > 0.6 {
			elevated = append(elevated, fmt.Sprintf("%s (%.2f)", featureDescriptions[v.Name], v.Value))
		}
	}
	if len(elevated) > 0 {
		reasons = append(reasons, "High-risk behavioral patterns: "+strings.Join(elevated, ", "))
	}

	if len(reasons) == 0 {
		reasons = []string{"Moderate behavioral signals warrant monitoring"}
	}

	return FlaggingRationale{
		Flagged:        a.GroomingRiskScore > 40,
		PrimaryReasons: reasons,
		RiskLevel:      string(a.RiskLevel),
		RequiresAction: a.RequiresHumanReview,
	}
}

func (e *ExplainabilityEngine) stageAnalysis(a *RiskAssessment) StageAnalysis {
	p := stageProfiles[a.CurrentStage]
	return StageAnalysis{
		CurrentStage:       a.CurrentStage.Title(),
		StageConfidence:    a.StageConfidence,
		Severity:           p.severity,
		TypicalDuration:    p.duration,
		PotentialNextStage: p.nextStage,
		WarningSigns:       p.watchFor,
	}
}

func (e *ExplainabilityEngine) riskEvolution(a *RiskAssessment, conv *Conversation) RiskEvolution {
	hours := conv.Duration()

	rate := "unknown"
	switch {
	case hours <= 0:
	case hours < 24:
		rate = "rapid (less than 24 hours)"
	case hours < 168:
		rate = "moderate (days)"
	default:
		rate = "gradual (weeks or more)"
	}

	return RiskEvolution{
		DurationHours:   hours,
		MessageCount:    len(conv.Messages),
		ProgressionRate: rate,
		RiskTrajectory:  trajectory(a.GroomingRiskScore),
		TimelineSummary: fmt.Sprintf(
			"Conversation spanned %.1f hours with %d messages, reaching %s stage",
			hours, len(conv.Messages), strings.ReplaceAll(string(a.CurrentStage), "_", " ")),
	}
}

func trajectory(score float64) string {
	switch {
	case score < 30:
		return "stable at low risk"
	case score < 60:
		return "increasing to moderate risk"
	case score < 80:
		return "escalating to high risk"
	default:
		return "critical escalation"
	}
}

// topContributors returns the n highest-contribution features. Contributions
// arrive pre-sorted from the scorer; the slice is re-sorted defensively by
// the caller if needed.
func topContributors(contribs []FeatureContribution, n int) []FeatureContribution {
	if len(contribs) < n {
		n = len(contribs)
	}
	out := make([]FeatureContribution, n)
	copy(out, contribs[:n])
	return out
}

// interpretPattern maps co-occurring elevated contributors to a fixed
// pattern reading. Only contributions above 10% of the score scale count.
func interpretPattern(contribs []FeatureContribution) string {
	elevated := map[string]bool{}
	for _, c := range contribs {
		if c.Contribution > 10 {
			elevated[c.Feature] = true
		}
	}
	switch {
	case len(elevated) == 0:
		return "No significant behavioral patterns detected"
	case elevated[FeatureEmotionalDep] && elevated[FeatureIsolationPressure]:
		return "Pattern suggests emotional manipulation with isolation tactics"
	case elevated[FeatureEmotionalDep]:
		return "Pattern suggests emotional manipulation strategy"
	case elevated[FeaturePlatformMigration] && elevated[FeatureSecrecyPressure]:
		return "Pattern suggests attempt to move conversation to private channels"
	case elevated[FeatureContactFrequency] && elevated[FeaturePersistence]:
		return "Pattern suggests escalating and persistent contact behavior"
	default:
		return "Multiple behavioral risk indicators detected"
	}
}

// Recommendations merges level and stage recommendations, most urgent first,
// from the fixed tables keyed by (risk_level, stage).
func Recommendations(level RiskLevel, stage Stage) []string {
	recs := append([]string{}, levelRecommendations[level]...)
	recs = append(recs, stageRecommendations[stage]...)
	return recs
}

// Limitations returns the fixed caveat list attached to every explanation.
func Limitations() []string {
	out := make([]string, len(systemLimitations))
	copy(out, systemLimitations)
	return out
}

// AuditReport renders the formal plain-text report for compliance review.
func (e *ExplainabilityEngine) AuditReport(a *RiskAssessment, fv *FeatureVector, conv *Conversation) string {
	ex := e.Explain(a, fv, conv)
	rule := strings.Repeat("=", 80)
	sep := strings.Repeat("-", 80)

	var b strings.Builder
	section := func(title string) {
		b.WriteString("\n" + sep + "\n" + title + "\n" + sep + "\n")
	}

	b.WriteString(rule + "\nRISK ASSESSMENT AUDIT REPORT\n" + rule + "\n\n")
	fmt.Fprintf(&b, "Assessment ID: %s\n", ex.AssessmentID)
	fmt.Fprintf(&b, "Conversation ID: %s\n", ex.ConversationID)
	fmt.Fprintf(&b, "Timestamp: %s\n", ex.Timestamp)
	fmt.Fprintf(&b, "Model Version: %s\n", ex.ConfigVersion)

	section("SUMMARY")
	b.WriteString(ex.Summary + "\n")

	section("RISK METRICS")
	fmt.Fprintf(&b, "Risk Score: %.2f/100\n", a.GroomingRiskScore)
	fmt.Fprintf(&b, "Risk Level: %s\n", strings.ToUpper(string(a.RiskLevel)))
	fmt.Fprintf(&b, "Confidence: %.2f\n", a.ConfidenceLevel)
	fmt.Fprintf(&b, "Stage: %s\n", a.CurrentStage.Title())
	fmt.Fprintf(&b, "Stage Confidence: %.2f\n", a.StageConfidence)

	section("PRIMARY RISK FACTORS")
	for _, r := range ex.FlaggingRationale.PrimaryReasons {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	section("TOP CONTRIBUTING FEATURES")
	for _, c := range ex.TopContributors {
		fmt.Fprintf(&b, "- %s: %.3f (contribution: %.3f)\n  %s\n",
			c.Feature, c.Value, c.Contribution, c.Description)
	}

	section("RECOMMENDATIONS")
	for _, r := range ex.Recommendations {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	section("LIMITATIONS")
	for _, l := range ex.Limitations {
		fmt.Fprintf(&b, "- %s\n", l)
	}

	b.WriteString("\n" + rule + "\nEND OF REPORT\n" + rule + "\n")
	return b.String()
}
