package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Engine chains extraction, classification, and scoring into the single
// assessment operation. Pure and stateless: any number of assessments may
// run concurrently on independent conversations with no locking.
type Engine struct {
	extractor  *FeatureExtractor
	classifier *ProgressionClassifier
	scorer     *RiskScorer
}

// NewEngine wires the default subsystem configurations.
func NewEngine() *Engine {
	return &Engine{
		extractor:  NewFeatureExtractor(),
		classifier: NewProgressionClassifier(),
		scorer:     NewRiskScorer(),
	}
}

// NewEngineWithScorer keeps default extraction and classification but swaps
// the scoring tables.
func NewEngineWithScorer(scorer *RiskScorer) *Engine {
	return &Engine{
		extractor:  NewFeatureExtractor(),
		classifier: NewProgressionClassifier(),
		scorer:     scorer,
	}
}

// Scorer exposes the active scorer, chiefly so callers can record the
// config version alongside emitted events.
func (e *Engine) Scorer() *RiskScorer { return e.scorer }

// ExtractFeatures runs extraction alone.
func (e *Engine) ExtractFeatures(conv *Conversation) (*FeatureVector, error) {
	return e.extractor.Extract(conv)
}

// ClassifyStage runs classification alone.
func (e *Engine) ClassifyStage(fv *FeatureVector, conv *Conversation) (Stage, float64) {
	return e.classifier.Classify(fv, conv)
}

// AssessRisk performs a complete assessment: extract, classify, score,
// derive level and review flag. The returned assessment is immutable and
// not persisted here; recording is the audit collaborator's job. The
// feature vector is returned alongside for explainability and summaries.
func (e *Engine) AssessRisk(conv *Conversation) (*RiskAssessment, *FeatureVector, error) {
	fv, err := e.extractor.Extract(conv)
	if err != nil {
		return nil, nil, err
	}

	stage, stageConf := e.classifier.Classify(fv, conv)

	score, contributions, err := e.scorer.Score(fv, stage)
	if err != nil {
		return nil, nil, err
	}

	level := LevelForScore(score)
	assessment := &RiskAssessment{
		AssessmentID:         uuid.New(),
		ConversationID:       conv.ID,
		GroomingRiskScore:    score,
		RiskLevel:            level,
		ConfidenceLevel:      ConfidenceForMessageCount(len(conv.Messages)),
		CurrentStage:         stage,
		StageConfidence:      stageConf,
		FeatureContributions: contributions,
		ReasoningSummary:     reasoningSummary(score, stage, fv, conv),
		RequiresHumanReview:  RequiresHumanReview(level, stage),
		AssessedAt:           time.Now().UTC(),
		ConfigVersion:        e.scorer.Config().Version,
	}
	return assessment, fv, nil
}

// reasoningSummary is the compact pipe-delimited rationale carried on the
// assessment itself. The full structured explanation lives in explain.go.
func reasoningSummary(score float64, stage Stage, fv *FeatureVector, conv *Conversation) string {
	parts := []string{
		fmt.Sprintf("Risk Score: %.1f/100", score),
		"Classification: " + stage.Title(),
		StageDescription(stage),
		fmt.Sprintf("Message Count: %d", len(conv.Messages)),
	}

	values := fv.Values()
	sort.SliceStable(values, func(i, j int) bool { return values[i].Value > values[j].Value })
	var factors []string
	for _, v := range values[:3] {
		if v.Value > 0.3 {
			factors = append(factors, fmt.Sprintf("%s (%.2f)", featureDescriptions[v.Name], v.Value))
		}
	}
	if len(factors) > 0 {
		parts = append(parts, "Primary Risk Factors: "+strings.Join(factors, ", "))
	}
	return strings.Join(parts, " | ")
}
