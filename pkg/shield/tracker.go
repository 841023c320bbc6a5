// Package shield protects human analysts from excessive exposure to
// high-risk case material. It tracks per-analyst session counters, enforces
// break and session limits, and renders content-free case summaries.
package shield

import (
	"context"
	"fmt"
	"time"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

// SafetyStatus is the admit/deny/warn decision for an analyst session.
// Limit violations are policy signals, not errors: they are returned, never
// thrown, and the transport layer decides how to act on them.
type SafetyStatus string

const (
	StatusOK            SafetyStatus = "ok"
	StatusWarn          SafetyStatus = "warn_approaching_limit"
	StatusBreakRequired SafetyStatus = "break_required"
	StatusSessionLimit  SafetyStatus = "session_limit_reached"
)

// ExposureState is the per-analyst session record. Owned exclusively by the
// tracker's store; mutated only through serialized per-key operations.
type ExposureState struct {
	CasesThisSession int       `json:"cases_this_session"`
	HighRiskCases    int       `json:"high_risk_cases_this_session"`
	SessionStart     time.Time `json:"session_start"`
	LastBreak        time.Time `json:"last_break"`
}

// Limits are the fixed exposure policy thresholds.
type Limits struct {
	MaxCasesPerSession    int
	MaxHighRiskPerSession int
	MaxSessionDuration    time.Duration
	MaxContinuousUse      time.Duration
	MandatoryBreak        time.Duration
	// WarnFraction of any limit triggers warn_approaching_limit.
	WarnFraction float64
}

// DefaultLimits returns the production exposure policy.
func DefaultLimits() Limits {
	return Limits{
		MaxCasesPerSession:    20,
		MaxHighRiskPerSession: 5,
		MaxSessionDuration:    120 * time.Minute,
		MaxContinuousUse:      90 * time.Minute,
		MandatoryBreak:        15 * time.Minute,
		WarnFraction:          0.75,
	}
}

// Store persists per-analyst exposure state. Implementations must serialize
// updates per analyst key; operations on distinct analysts may interleave
// freely.
type Store interface {
	// RecordCase increments the case counters for an analyst, starting a
	// session on first use, and returns the updated state.
	RecordCase(ctx context.Context, analystID string, highRisk bool) (ExposureState, error)
	// Snapshot returns the current state without mutating it. An analyst
	// with no recorded cases yields a zero-counter state.
	Snapshot(ctx context.Context, analystID string) (ExposureState, error)
	// Reset clears the counters and restarts the session clock, marking a
	// break as taken.
	Reset(ctx context.Context, analystID string) (ExposureState, error)
}

// SafetyReport is the full answer to a safety check.
type SafetyReport struct {
	Status            SafetyStatus `json:"status"`
	SafeToProceed     bool         `json:"safe_to_proceed"`
	Reason            string       `json:"reason,omitempty"`
	Recommendation    string       `json:"recommendation,omitempty"`
	CasesReviewed     int          `json:"cases_reviewed"`
	HighRiskExposures int          `json:"high_risk_exposures"`
	RemainingCases    int          `json:"remaining_cases"`
	SessionMinutes    float64      `json:"session_duration_minutes"`
}

// Tracker applies the exposure policy over a Store.
type Tracker struct {
	store  Store
	limits Limits
	now    func() time.Time
}

// NewTracker returns a tracker with the default limits.
func NewTracker(store Store) *Tracker {
	return NewTrackerWithLimits(store, DefaultLimits())
}

// NewTrackerWithLimits allows policy overrides.
func NewTrackerWithLimits(store Store, limits Limits) *Tracker {
	return &Tracker{store: store, limits: limits, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// RecordCase registers one delivered assessment against an analyst.
// High and critical risk levels count against the high-risk budget.
func (t *Tracker) RecordCase(ctx context.Context, analystID string, level risk.RiskLevel) (ExposureState, error) {
	if analystID == "" {
		return ExposureState{}, fmt.Errorf("shield: analyst id is required")
	}
	return t.store.RecordCase(ctx, analystID, level.IsHighRisk())
}

// CheckSafety evaluates the analyst's current session against the limits.
func (t *Tracker) CheckSafety(ctx context.Context, analystID string) (*SafetyReport, error) {
	if analystID == "" {
		return nil, fmt.Errorf("shield: analyst id is required")
	}
	state, err := t.store.Snapshot(ctx, analystID)
	if err != nil {
		return nil, err
	}
	report := t.evaluate(state)
	return &report, nil
}

// ResetSession clears the analyst's counters after a break.
func (t *Tracker) ResetSession(ctx context.Context, analystID string) error {
	if analystID == "" {
		return fmt.Errorf("shield: analyst id is required")
	}
	_, err := t.store.Reset(ctx, analystID)
	return err
}

// evaluate is the pure policy decision over a state snapshot.
// Precedence: session limits, then mandatory breaks, then warnings.
func (t *Tracker) evaluate(state ExposureState) SafetyReport {
	now := t.now()

	var sessionMinutes float64
	if !state.SessionStart.IsZero() {
		sessionMinutes = now.Sub(state.SessionStart).Minutes()
	}

	report := SafetyReport{
		Status:            StatusOK,
		SafeToProceed:     true,
		CasesReviewed:     state.CasesThisSession,
		HighRiskExposures: state.HighRiskCases,
		RemainingCases:    t.limits.MaxCasesPerSession - state.CasesThisSession,
		SessionMinutes:    sessionMinutes,
	}
	if report.RemainingCases < 0 {
		report.RemainingCases = 0
	}

	breakRec := fmt.Sprintf("Mandatory %d-minute break required", int(t.limits.MandatoryBreak.Minutes()))

	switch {
	case !state.SessionStart.IsZero() && now.Sub(state.SessionStart) >= t.limits.MaxSessionDuration:
		report.Status = StatusSessionLimit
		report.SafeToProceed = false
		report.Reason = "Maximum session duration exceeded"
		report.Recommendation = breakRec

	case state.CasesThisSession >= t.limits.MaxCasesPerSession:
		report.Status = StatusSessionLimit
		report.SafeToProceed = false
		report.Reason = "Maximum cases per session exceeded"
		report.Recommendation = breakRec

	case state.HighRiskCases >= t.limits.MaxHighRiskPerSession:
		report.Status = StatusBreakRequired
		report.SafeToProceed = false
		report.Reason = "Maximum high-risk exposures exceeded"
		report.Recommendation = breakRec

	case !state.LastBreak.IsZero() && now.Sub(state.LastBreak) >= t.limits.MaxContinuousUse:
		report.Status = StatusBreakRequired
		report.SafeToProceed = false
		report.Reason = "Continuous use limit exceeded"
		report.Recommendation = breakRec

	case t.approachingLimit(state, now):
		report.Status = StatusWarn
		report.Reason = "Approaching exposure limits"
		report.Recommendation = "Plan a break soon"
	}

	return report
}

func (t *Tracker) approachingLimit(state ExposureState, now time.Time) bool {
	frac := t.limits.WarnFraction
	if float64(state.CasesThisSession) >= frac*float64(t.limits.MaxCasesPerSession) {
		return true
	}
	if float64(state.HighRiskCases) >= frac*float64(t.limits.MaxHighRiskPerSession) {
		return true
	}
	if !state.SessionStart.IsZero() &&
		now.Sub(state.SessionStart) >= time.Duration(frac*float64(t.limits.MaxSessionDuration)) {
		return true
	}
	return false
}
