// Package enrich provides optional advisory analysis on top of the
// behavioral risk core. Analyzers are strictly supplementary: their output
// never replaces or adjusts the deterministic risk score, and an
// unavailable analyzer degrades to a flag on the response rather than an
// assessment failure.
package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

// ErrUnavailable is returned by analyzers that are not configured or whose
// backing model/service cannot be reached. Callers treat it as "no advisory
// opinion", not as an error condition.
var ErrUnavailable = errors.New("enrich: analyzer unavailable")

// Advisory severity vocabulary. Mirrors the risk level scale so operator
// dashboards can render both on one axis.
const (
	SeverityLow      = "low"
	SeverityModerate = "moderate"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Result is an advisory second opinion on a conversation.
type Result struct {
	Provider           string   `json:"provider"`
	Model              string   `json:"model,omitempty"`
	Severity           string   `json:"severity"`
	Confidence         float64  `json:"confidence"`
	RiskFactors        []string `json:"risk_factors,omitempty"`
	Explanation        string   `json:"explanation,omitempty"`
	RecommendedActions []string `json:"recommended_actions,omitempty"`
	LatencyMs          int64    `json:"latency_ms"`
}

// Analyzer produces an advisory result for a conversation that has already
// been scored by the behavioral core. behavioralScore is the 0-100 risk
// score, passed as context only; implementations must not echo it back as
// their own judgment.
type Analyzer interface {
	IsAvailable() bool
	Analyze(ctx context.Context, conv *risk.Conversation, behavioralScore float64) (*Result, error)
}

// Disabled is the analyzer used when no enrichment backend is configured.
type Disabled struct{}

// IsAvailable always reports false.
func (Disabled) IsAvailable() bool { return false }

// Analyze always returns ErrUnavailable.
func (Disabled) Analyze(context.Context, *risk.Conversation, float64) (*Result, error) {
	return nil, ErrUnavailable
}

// Config selects and parameterizes an analyzer backend.
type Config struct {
	// Provider is one of "openai", "remote", "local", or "" (disabled).
	Provider string

	// Remote / OpenAI settings.
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration

	// Local model settings.
	ModelPath       string
	OnnxLibraryPath string
}

// analyzerFactory is set via RegisterAnalyzerFactory. External builds can
// install their own analyzer ahead of the built-in providers.
var analyzerFactory func(cfg Config) Analyzer

// RegisterAnalyzerFactory installs a custom analyzer constructor. Must be
// called before NewAnalyzer, typically from an init function.
func RegisterAnalyzerFactory(factory func(cfg Config) Analyzer) {
	analyzerFactory = factory
}

// NewAnalyzer builds the analyzer for cfg. A registered factory wins;
// otherwise the provider name selects a built-in. Unknown or empty
// providers, and providers whose construction fails, yield Disabled so the
// assessment path never depends on enrichment health.
func NewAnalyzer(cfg Config) Analyzer {
	if analyzerFactory != nil {
		if a := analyzerFactory(cfg); a != nil {
			return a
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		if a := NewOpenAIAnalyzer(cfg.APIKey, cfg.Model); a != nil {
			return a
		}
	case "remote":
		if a, err := NewRemoteAnalyzer(cfg.Endpoint, cfg.Timeout); err == nil {
			return a
		}
	case "local":
		if a := NewLocalAnalyzer(LocalConfig{
			ModelPath:       cfg.ModelPath,
			OnnxLibraryPath: cfg.OnnxLibraryPath,
		}); a != nil {
			return a
		}
	}
	return Disabled{}
}

// normalizeSeverity maps free-form severity text onto the fixed vocabulary.
// Anything unrecognized becomes SeverityLow so a misbehaving backend cannot
// inflate an advisory signal.
func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityModerate, "medium":
		return SeverityModerate
	default:
		return SeverityLow
	}
}
