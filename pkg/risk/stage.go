package risk

// StageThresholds are the classifier cut points. Evaluated fresh each call;
// nothing incremental is maintained between assessments.
type StageThresholds struct {
	// High gates escalation_risk: secrecy and isolation must both exceed it.
	High float64 `yaml:"high"`
	// Mid gates isolation_attempts and emotional_dependency.
	Mid float64 `yaml:"mid"`
	// Low gates trust_building via contact frequency or persistence.
	Low float64 `yaml:"low"`
}

// DefaultStageThresholds mirror the tuned heuristics the scoring weights were
// calibrated against. Changing them requires a ConfigVersion bump.
func DefaultStageThresholds() StageThresholds {
	return StageThresholds{High: 0.70, Mid: 0.50, Low: 0.30}
}

// ProgressionClassifier assigns a progression stage to a feature vector.
// Stateless and safe for concurrent use.
type ProgressionClassifier struct {
	thresholds StageThresholds
}

// NewProgressionClassifier returns a classifier with the default thresholds.
func NewProgressionClassifier() *ProgressionClassifier {
	return &ProgressionClassifier{thresholds: DefaultStageThresholds()}
}

// NewProgressionClassifierWithThresholds allows threshold overrides, chiefly
// for calibration experiments.
func NewProgressionClassifierWithThresholds(t StageThresholds) *ProgressionClassifier {
	return &ProgressionClassifier{thresholds: t}
}

// Classify evaluates stage criteria from highest severity downward and
// returns the first stage whose criteria hold, with a confidence derived
// from the deciding signal's margin above its threshold. Stages are never
// averaged; the highest satisfied stage wins outright.
//
// The conversation supplies raw marker context beyond the vector: an
// explicit meeting arrangement in any adult message forces escalation_risk
// even when the pressure signals sit below threshold.
func (c *ProgressionClassifier) Classify(fv *FeatureVector, conv *Conversation) (Stage, float64) {
	t := c.thresholds

	if hasMeetingMarker(conv) {
		return StageEscalationRisk, 0.9
	}
	if fv.SecrecyPressure > t.High && fv.IsolationPressure > t.High {
		margin := min2(fv.SecrecyPressure, fv.IsolationPressure) - t.High
		return StageEscalationRisk, stageConfidence(margin)
	}
	if fv.SecrecyPressure >= t.Mid || fv.IsolationPressure >= t.Mid || fv.PlatformMigration >= t.Mid {
		margin := max3(fv.SecrecyPressure, fv.IsolationPressure, fv.PlatformMigration) - t.Mid
		return StageIsolationAttempts, stageConfidence(margin)
	}
	if fv.EmotionalDependency >= t.Mid {
		return StageEmotionalDependency, stageConfidence(fv.EmotionalDependency - t.Mid)
	}
	if fv.ContactFrequencyScore >= t.Low || fv.PersistenceAfterNonresponse >= t.Low {
		margin := max2(fv.ContactFrequencyScore, fv.PersistenceAfterNonresponse) - t.Low
		return StageTrustBuilding, stageConfidence(margin)
	}
	return StageInitialContact, 0.5
}

// hasMeetingMarker scans adult messages for explicit meeting arrangement
// phrasing.
func hasMeetingMarker(conv *Conversation) bool {
	if conv == nil {
		return false
	}
	markers := GetMeetingMarkers()
	for _, m := range conv.Messages {
		if m.SenderRole != RoleAdult {
			continue
		}
		if containsAnyMarker(NormalizeText(m.AbstractedText), markers) {
			return true
		}
	}
	return false
}

// stageConfidence maps the deciding signal's margin above its threshold to
// [0.5, 1.0]. A signal exactly at threshold is a coin-flip classification.
func stageConfidence(margin float64) float64 {
	return clamp(0.5+margin, 0.5, 1.0)
}

// StageDescription returns the fixed human-readable summary for a stage.
func StageDescription(s Stage) string {
	switch s {
	case StageInitialContact:
		return "Initial contact phase with minimal behavioral signals. Conversation appears exploratory with low risk indicators."
	case StageTrustBuilding:
		return "Trust building phase characterized by increasing contact frequency and developing rapport. Moderate behavioral signals present."
	case StageEmotionalDependency:
		return "Emotional dependency phase with patterns suggesting emotional manipulation or dependency building. Elevated risk indicators."
	case StageIsolationAttempts:
		return "Isolation attempt phase showing secrecy pressure, isolation tactics, or platform migration attempts. High risk indicators present."
	case StageEscalationRisk:
		return "Escalation risk phase with multiple high-risk behavioral signals. Urgent patterns detected requiring immediate review."
	default:
		return "Unable to classify stage due to insufficient data or ambiguous patterns."
	}
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func max3(a, b, c float64) float64 {
	return max2(max2(a, b), c)
}
