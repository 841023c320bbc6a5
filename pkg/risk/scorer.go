package risk

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfigVersion identifies the active weight/threshold table. Recorded on
// every assessment so an audit trail can tie a score back to the exact
// configuration that produced it. Any change to weights, multipliers,
// synergy tiers, or stage thresholds requires a bump.
const ConfigVersion = "v1.2.0"

// ScoringConfig holds the weight and multiplier tables for the scorer.
// Treated as immutable once constructed.
type ScoringConfig struct {
	Version string `yaml:"version"`

	// FeatureWeights must sum to 1.0 across the 8 features. Critical
	// manipulation indicators (emotional dependency, isolation, secrecy)
	// carry the bulk of the mass.
	FeatureWeights map[string]float64 `yaml:"feature_weights"`

	// StageMultipliers scale the base score per stage. Monotonic with stage
	// severity. The escalation_risk multiplier exceeds 1.0 on purpose: the
	// most severe stage amplifies the score and relies on the final clamp.
	StageMultipliers map[Stage]float64 `yaml:"stage_multipliers"`

	// SynergyTiers multiply the staged score when several critical features
	// fire together. Index = count of critical features above 0.5, capped
	// at the last tier. Combined indicators are worse than their sum.
	SynergyTiers []float64 `yaml:"synergy_tiers"`
}

// DefaultScoringConfig returns the calibrated production tables.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Version: ConfigVersion,
		FeatureWeights: map[string]float64{
			FeatureContactFrequency:  0.10,
			FeaturePersistence:       0.13,
			FeatureTimeIrregularity:  0.08,
			FeatureEmotionalDep:      0.22,
			FeatureIsolationPressure: 0.20,
			FeatureSecrecyPressure:   0.18,
			FeaturePlatformMigration: 0.06,
			FeatureToneShift:         0.03,
		},
		StageMultipliers: map[Stage]float64{
			StageInitialContact:      0.40,
			StageTrustBuilding:       0.60,
			StageEmotionalDependency: 0.80,
			StageIsolationAttempts:   0.95,
			StageEscalationRisk:      1.20,
		},
		SynergyTiers: []float64{1.0, 1.0, 1.2, 1.4},
	}
}

// LoadScoringConfig loads weight overrides from scoring.yaml in configDir.
// A missing file falls back to the defaults so the scorer works without any
// configuration on disk. A present but invalid file is an error.
func LoadScoringConfig(configDir string) (*ScoringConfig, error) {
	path := filepath.Join(configDir, "scoring.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultScoringConfig(), nil
		}
		return nil, fmt.Errorf("failed to read scoring config file: %w", err)
	}

	cfg := DefaultScoringConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse scoring config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural invariants of the tables.
func (c *ScoringConfig) Validate() error {
	sum := 0.0
	for _, fv := range (&FeatureVector{}).Values() {
		w, ok := c.FeatureWeights[fv.Name]
		if !ok {
			return fmt.Errorf("risk: scoring config missing weight for %s", fv.Name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("risk: feature weights sum to %v, want 1.0", sum)
	}

	prev := -1.0
	for _, s := range AllStages() {
		m, ok := c.StageMultipliers[s]
		if !ok {
			return fmt.Errorf("risk: scoring config missing multiplier for stage %s", s)
		}
		if m < prev {
			return fmt.Errorf("risk: stage multiplier for %s breaks severity ordering", s)
		}
		prev = m
	}

	if len(c.SynergyTiers) == 0 {
		return fmt.Errorf("risk: scoring config has no synergy tiers")
	}
	for i := 1; i < len(c.SynergyTiers); i++ {
		if c.SynergyTiers[i] < c.SynergyTiers[i-1] {
			return fmt.Errorf("risk: synergy tier %d breaks monotonicity", i)
		}
	}
	return nil
}

// featureDescriptions annotate contributions for explainability.
var featureDescriptions = map[string]string{
	FeatureContactFrequency:  "Escalation in contact frequency over time",
	FeaturePersistence:       "Continued messaging despite non-response",
	FeatureTimeIrregularity:  "Messaging at unusual hours",
	FeatureEmotionalDep:      "Patterns suggesting emotional manipulation",
	FeatureIsolationPressure: "Attempts to isolate target from others",
	FeatureSecrecyPressure:   "Requests for secrecy or privacy",
	FeaturePlatformMigration: "Attempts to move conversation to other platforms",
	FeatureToneShift:         "Changes in linguistic tone over time",
}

// criticalSynergyThreshold is the activation level above which a critical
// feature (emotional dependency, isolation, secrecy) counts toward synergy.
const criticalSynergyThreshold = 0.5

// RiskScorer turns a feature vector and a stage into a bounded score with
// per-feature contributions. Stateless and safe for concurrent use.
type RiskScorer struct {
	config *ScoringConfig
}

// NewRiskScorer returns a scorer with the default calibrated config.
func NewRiskScorer() *RiskScorer {
	return &RiskScorer{config: DefaultScoringConfig()}
}

// NewRiskScorerWithConfig returns a scorer with a validated custom config.
func NewRiskScorerWithConfig(cfg *ScoringConfig) (*RiskScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RiskScorer{config: cfg}, nil
}

// Config returns the active scoring tables.
func (s *RiskScorer) Config() *ScoringConfig { return s.config }

// Score computes the final risk score for a vector under a stage.
//
// Pipeline: weighted sum of features scaled to 0-100, times the stage
// multiplier, times the synergy tier, then a single clamp to [0,100].
// Intermediate values above 100 are expected under escalation_risk.
//
// Contributions are the pre-stage, pre-synergy weighted values ranked
// descending. They deliberately do not sum to the final score: the stage
// and synergy effects are global, not attributable per feature.
func (s *RiskScorer) Score(fv *FeatureVector, stage Stage) (float64, []FeatureContribution, error) {
	if err := fv.Validate(); err != nil {
		return 0, nil, err
	}
	if !stage.Valid() {
		return 0, nil, fmt.Errorf("risk: unknown stage %q", stage)
	}

	base := 0.0
	contributions := make([]FeatureContribution, 0, 8)
	for _, v := range fv.Values() {
		weighted := v.Value * s.config.FeatureWeights[v.Name]
		base += weighted
		contributions = append(contributions, FeatureContribution{
			Feature:      v.Name,
			Value:        v.Value,
			Contribution: weighted * 100,
			Description:  featureDescriptions[v.Name],
		})
	}

	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].Contribution > contributions[j].Contribution
	})

	score := base * 100
	score *= s.config.StageMultipliers[stage]
	score *= s.synergyMultiplier(fv)

	return clamp(score, 0, 100), contributions, nil
}

// synergyMultiplier picks the tier for the count of critical features
// active above the synergy threshold.
func (s *RiskScorer) synergyMultiplier(fv *FeatureVector) float64 {
	count := 0
	for _, v := range []float64{fv.EmotionalDependency, fv.IsolationPressure, fv.SecrecyPressure} {
		if v > criticalSynergyThreshold {
			count++
		}
	}
	if count >= len(s.config.SynergyTiers) {
		count = len(s.config.SynergyTiers) - 1
	}
	return s.config.SynergyTiers[count]
}

// RequiresHumanReview applies the review gate. Review is mandatory for
// high or critical scores and for the two most severe stages regardless
// of score.
func RequiresHumanReview(level RiskLevel, stage Stage) bool {
	if level.IsHighRisk() {
		return true
	}
	return stage == StageIsolationAttempts || stage == StageEscalationRisk
}

// ConfidenceForMessageCount maps input volume to assessment confidence.
// A data-quantity proxy only, not a statistical interval.
func ConfidenceForMessageCount(n int) float64 {
	switch {
	case n < 5:
		return 0.3
	case n < 10:
		return 0.5
	case n < 20:
		return 0.7
	default:
		return 0.9
	}
}
