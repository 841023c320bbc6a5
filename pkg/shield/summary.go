package shield

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

// ExposureLevel controls how much structural detail a summary surfaces.
// Raw message text is never included at any level.
type ExposureLevel string

const (
	ExposureMinimal  ExposureLevel = "minimal"
	ExposureModerate ExposureLevel = "moderate"
	ExposureDetailed ExposureLevel = "detailed"
)

func normalizeExposureLevel(l ExposureLevel) ExposureLevel {
	switch l {
	case ExposureMinimal, ExposureModerate, ExposureDetailed:
		return l
	default:
		return ExposureMinimal
	}
}

// SafeSummary is the analyst-facing rendering of a case: counts, durations,
// and clinical pattern descriptions only.
type SafeSummary struct {
	ConversationID         uuid.UUID       `json:"conversation_id"`
	MessageCount           int             `json:"message_count"`
	DurationHours          float64         `json:"conversation_duration_hours"`
	TemporalPatternSummary string          `json:"temporal_pattern_summary"`
	BehavioralCluster      string          `json:"behavioral_cluster"`
	KeyRiskIndicators      []string        `json:"key_risk_indicators"`
	TimelineEvents         []TimelineEvent `json:"timeline_events"`
	ExposureLevel          ExposureLevel   `json:"exposure_level"`
	AnalystSafetyCertified bool            `json:"analyst_safety_certified"`
}

// TimelineEvent is an abstract, graph-ready point on the case timeline.
type TimelineEvent struct {
	Timestamp   string `json:"timestamp"`
	EventType   string `json:"event_type"`
	Description string `json:"description"`
	RiskLevel   string `json:"risk_level"`
	Stage       string `json:"stage,omitempty"`
}

// CreateSafeSummary builds the abstracted case summary for an analyst.
func CreateSafeSummary(conv *risk.Conversation, a *risk.RiskAssessment, fv *risk.FeatureVector, level ExposureLevel) *SafeSummary {
	level = normalizeExposureLevel(level)
	duration := conv.Duration()

	return &SafeSummary{
		ConversationID:         conv.ID,
		MessageCount:           len(conv.Messages),
		DurationHours:          duration,
		TemporalPatternSummary: temporalSummary(conv, fv, duration),
		BehavioralCluster:      behavioralCluster(fv),
		KeyRiskIndicators:      riskIndicators(fv, a),
		TimelineEvents:         timelineEvents(conv, fv, a, level),
		ExposureLevel:          level,
		AnalystSafetyCertified: true,
	}
}

func temporalSummary(conv *risk.Conversation, fv *risk.FeatureVector, durationHours float64) string {
	var perHour float64
	if durationHours > 0 {
		perHour = float64(len(conv.Messages)) / durationHours
	}

	var intensity string
	switch {
	case perHour > 10:
		intensity = "Very high"
	case perHour > 5:
		intensity = "High"
	case perHour > 2:
		intensity = "Moderate"
	default:
		intensity = "Low"
	}

	var timing string
	switch {
	case fv.TimeOfDayIrregularity > 0.6:
		timing = "with significant off-hours activity"
	case fv.TimeOfDayIrregularity > 0.3:
		timing = "with some off-hours activity"
	default:
		timing = "during normal hours"
	}

	return fmt.Sprintf("%s messaging intensity (%.1f msg/hr) over %.1f hours, %s",
		intensity, perHour, durationHours, timing)
}

// clusterLabels are the clinical names for each dominant signal.
var clusterLabels = map[string]string{
	risk.FeatureContactFrequency:  "High Contact Frequency",
	risk.FeaturePersistence:       "Persistence Pattern",
	risk.FeatureTimeIrregularity:  "Temporal Anomaly",
	risk.FeatureEmotionalDep:      "Emotional Manipulation",
	risk.FeatureIsolationPressure: "Isolation Tactics",
	risk.FeatureSecrecyPressure:   "Secrecy Pressure",
	risk.FeaturePlatformMigration: "Platform Migration",
	risk.FeatureToneShift:         "Linguistic Shifts",
}

func behavioralCluster(fv *risk.FeatureVector) string {
	values := fv.Values()
	sort.SliceStable(values, func(i, j int) bool { return values[i].Value > values[j].Value })
	dominant := values[0]

	switch {
	case dominant.Value < 0.3:
		return "Low Risk Behavioral Pattern"
	case dominant.Value < 0.6:
		return "Moderate Risk: " + clusterLabels[dominant.Name]
	default:
		return "High Risk: " + clusterLabels[dominant.Name]
	}
}

// indicatorTexts gate on the 0.5 significance threshold.
var indicatorTexts = []struct {
	feature string
	text    string
}{
	{risk.FeatureContactFrequency, "Escalating contact pattern detected"},
	{risk.FeaturePersistence, "Persistent messaging despite non-response"},
	{risk.FeatureTimeIrregularity, "Off-hours messaging pattern"},
	{risk.FeatureEmotionalDep, "Emotional manipulation indicators"},
	{risk.FeatureIsolationPressure, "Isolation attempt signals"},
	{risk.FeatureSecrecyPressure, "Secrecy or privacy pressure"},
	{risk.FeaturePlatformMigration, "Platform migration attempts"},
}

var stageIndicators = map[risk.Stage]string{
	risk.StageTrustBuilding:       "Trust building phase detected",
	risk.StageEmotionalDependency: "Emotional dependency phase detected",
	risk.StageIsolationAttempts:   "Isolation attempt phase detected",
	risk.StageEscalationRisk:      "ESCALATION RISK PHASE DETECTED",
}

func riskIndicators(fv *risk.FeatureVector, a *risk.RiskAssessment) []string {
	byName := map[string]float64{}
	for _, v := range fv.Values() {
		byName[v.Name] = v.Value
	}

	var indicators []string
	for _, it := range indicatorTexts {
		if byName[it.feature] > 0.5 {
			indicators = append(indicators, it.text)
		}
	}
	if text, ok := stageIndicators[a.CurrentStage]; ok {
		indicators = append(indicators, text)
	}
	if len(indicators) == 0 {
		return []string{"No significant risk indicators"}
	}
	return indicators
}

func timelineEvents(conv *risk.Conversation, fv *risk.FeatureVector, a *risk.RiskAssessment, level ExposureLevel) []TimelineEvent {
	if len(conv.Messages) == 0 {
		return nil
	}

	msgs := make([]risk.Message, len(conv.Messages))
	copy(msgs, conv.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	first, last := msgs[0], msgs[len(msgs)-1]

	const tsLayout = "2006-01-02T15:04:05Z07:00"
	events := []TimelineEvent{{
		Timestamp:   first.Timestamp.Format(tsLayout),
		EventType:   "conversation_start",
		Description: "Initial contact",
		RiskLevel:   string(risk.RiskMinimal),
	}}

	if len(msgs) >= 3 {
		mid := msgs[len(msgs)/2]
		events = append(events, TimelineEvent{
			Timestamp:   mid.Timestamp.Format(tsLayout),
			EventType:   "behavioral_shift",
			Description: "Mid-conversation behavioral analysis point",
			RiskLevel:   string(risk.LevelForScore(a.GroomingRiskScore * 0.6)),
		})
	}

	events = append(events, TimelineEvent{
		Timestamp:   last.Timestamp.Format(tsLayout),
		EventType:   "risk_assessment",
		Description: fmt.Sprintf("Final risk score: %.1f", a.GroomingRiskScore),
		RiskLevel:   string(a.RiskLevel),
		Stage:       string(a.CurrentStage),
	})

	if level == ExposureDetailed && fv.PlatformMigration > 0.6 {
		events = append(events, TimelineEvent{
			Timestamp:   last.Timestamp.Format(tsLayout),
			EventType:   "platform_migration",
			Description: "Platform migration attempt detected",
			RiskLevel:   string(risk.RiskHigh),
		})
	}

	return events
}

// VisualizationData is graph-ready data for analyst dashboards. No raw
// content appears anywhere in it.
type VisualizationData struct {
	RiskScoreGauge   GaugeData      `json:"risk_score_gauge"`
	FeatureRadar     map[string]any `json:"feature_radar"`
	TemporalHeatmap  HeatmapData    `json:"temporal_heatmap"`
	StageProgression StageData      `json:"stage_progression"`
}

type GaugeData struct {
	Score      float64 `json:"score"`
	Level      string  `json:"level"`
	Confidence float64 `json:"confidence"`
}

type HeatmapData struct {
	Hours         []int `json:"hours"`
	MessageCounts []int `json:"message_counts"`
	PeakHour      int   `json:"peak_hour"`
}

type StageData struct {
	CurrentStage string  `json:"current_stage"`
	Confidence   float64 `json:"confidence"`
}

// GenerateVisualizationData builds the dashboard payload.
func GenerateVisualizationData(conv *risk.Conversation, fv *risk.FeatureVector, a *risk.RiskAssessment) *VisualizationData {
	radar := make(map[string]any, 8)
	for _, v := range fv.Values() {
		radar[v.Name] = v.Value
	}

	return &VisualizationData{
		RiskScoreGauge: GaugeData{
			Score:      a.GroomingRiskScore,
			Level:      string(a.RiskLevel),
			Confidence: a.ConfidenceLevel,
		},
		FeatureRadar:     radar,
		TemporalHeatmap:  temporalHeatmap(conv),
		StageProgression: StageData{CurrentStage: string(a.CurrentStage), Confidence: a.StageConfidence},
	}
}

func temporalHeatmap(conv *risk.Conversation) HeatmapData {
	counts := make([]int, 24)
	for _, m := range conv.Messages {
		if m.SenderRole == risk.RoleAdult {
			counts[m.Timestamp.Hour()]++
		}
	}

	hours := make([]int, 24)
	peak, peakCount := 12, 0
	for h := range hours {
		hours[h] = h
		if counts[h] > peakCount {
			peak, peakCount = h, counts[h]
		}
	}
	return HeatmapData{Hours: hours, MessageCounts: counts, PeakHour: peak}
}
