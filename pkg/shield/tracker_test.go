package shield

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

func newTestTracker(start time.Time) (*Tracker, *time.Time) {
	current := start
	clock := func() time.Time { return current }
	store := NewMemoryStore().WithClock(clock)
	tracker := NewTracker(store).WithClock(clock)
	return tracker, &current
}

func TestCheckSafetyFreshAnalyst(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	report, err := tracker.CheckSafety(context.Background(), "analyst-1")
	if err != nil {
		t.Fatalf("CheckSafety: %v", err)
	}
	if report.Status != StatusOK || !report.SafeToProceed {
		t.Errorf("fresh analyst status = %s, want ok", report.Status)
	}
	if report.RemainingCases != DefaultLimits().MaxCasesPerSession {
		t.Errorf("remaining cases = %d, want %d", report.RemainingCases, DefaultLimits().MaxCasesPerSession)
	}
}

func TestHighRiskExposureLimit(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := tracker.RecordCase(ctx, "analyst-1", risk.RiskCritical); err != nil {
			t.Fatalf("RecordCase: %v", err)
		}
	}

	report, err := tracker.CheckSafety(ctx, "analyst-1")
	if err != nil {
		t.Fatalf("CheckSafety: %v", err)
	}
	if report.Status != StatusBreakRequired {
		t.Errorf("status after 5 high-risk cases = %s, want break_required", report.Status)
	}
	if report.SafeToProceed {
		t.Error("must not be safe to proceed after high-risk limit")
	}
	if report.HighRiskExposures != 5 {
		t.Errorf("high risk exposures = %d, want 5", report.HighRiskExposures)
	}

	// A different analyst is unaffected.
	other, err := tracker.CheckSafety(ctx, "analyst-2")
	if err != nil {
		t.Fatalf("CheckSafety: %v", err)
	}
	if other.Status != StatusOK {
		t.Errorf("unrelated analyst status = %s, want ok", other.Status)
	}
}

func TestCaseCountLimitAndWarning(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// Low-risk cases only, so the high-risk budget stays untouched.
	for i := 0; i < 15; i++ {
		if _, err := tracker.RecordCase(ctx, "analyst-1", risk.RiskLow); err != nil {
			t.Fatalf("RecordCase: %v", err)
		}
	}
	report, _ := tracker.CheckSafety(ctx, "analyst-1")
	if report.Status != StatusWarn {
		t.Errorf("status at 15/20 cases = %s, want warn_approaching_limit", report.Status)
	}
	if !report.SafeToProceed {
		t.Error("warning must still allow proceeding")
	}

	for i := 0; i < 5; i++ {
		if _, err := tracker.RecordCase(ctx, "analyst-1", risk.RiskLow); err != nil {
			t.Fatalf("RecordCase: %v", err)
		}
	}
	report, _ = tracker.CheckSafety(ctx, "analyst-1")
	if report.Status != StatusSessionLimit {
		t.Errorf("status at 20/20 cases = %s, want session_limit_reached", report.Status)
	}
	if report.RemainingCases != 0 {
		t.Errorf("remaining cases = %d, want 0", report.RemainingCases)
	}
}

func TestSessionDurationLimit(t *testing.T) {
	tracker, clock := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, err := tracker.RecordCase(ctx, "analyst-1", risk.RiskLow); err != nil {
		t.Fatalf("RecordCase: %v", err)
	}

	*clock = clock.Add(121 * time.Minute)
	report, _ := tracker.CheckSafety(ctx, "analyst-1")
	if report.Status != StatusSessionLimit {
		t.Errorf("status after 121 minutes = %s, want session_limit_reached", report.Status)
	}
	if report.SessionMinutes < 120 {
		t.Errorf("session minutes = %v, want >= 120", report.SessionMinutes)
	}
}

func TestContinuousUseRequiresBreak(t *testing.T) {
	tracker, clock := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if _, err := tracker.RecordCase(ctx, "analyst-1", risk.RiskLow); err != nil {
		t.Fatalf("RecordCase: %v", err)
	}

	*clock = clock.Add(91 * time.Minute)
	report, _ := tracker.CheckSafety(ctx, "analyst-1")
	if report.Status != StatusBreakRequired {
		t.Errorf("status after 91 continuous minutes = %s, want break_required", report.Status)
	}
}

func TestResetSessionClearsCounters(t *testing.T) {
	tracker, clock := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := tracker.RecordCase(ctx, "analyst-1", risk.RiskHigh); err != nil {
			t.Fatalf("RecordCase: %v", err)
		}
	}
	*clock = clock.Add(30 * time.Minute)

	if err := tracker.ResetSession(ctx, "analyst-1"); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}
	report, _ := tracker.CheckSafety(ctx, "analyst-1")
	if report.Status != StatusOK {
		t.Errorf("status after reset = %s, want ok", report.Status)
	}
	if report.CasesReviewed != 0 || report.HighRiskExposures != 0 {
		t.Errorf("counters not cleared: %+v", report)
	}
}

func TestRecordCaseConcurrentSameAnalyst(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		highRisk := i%2 == 0
		go func(high bool) {
			defer wg.Done()
			level := risk.RiskLow
			if high {
				level = risk.RiskCritical
			}
			if _, err := tracker.RecordCase(ctx, "analyst-1", level); err != nil {
				t.Errorf("RecordCase: %v", err)
			}
		}(highRisk)
	}
	wg.Wait()

	report, err := tracker.CheckSafety(ctx, "analyst-1")
	if err != nil {
		t.Fatalf("CheckSafety: %v", err)
	}
	if report.CasesReviewed != workers {
		t.Errorf("cases reviewed = %d, want %d (lost update)", report.CasesReviewed, workers)
	}
	if report.HighRiskExposures != workers/2 {
		t.Errorf("high risk exposures = %d, want %d", report.HighRiskExposures, workers/2)
	}
}

func TestTrackerRejectsEmptyAnalystID(t *testing.T) {
	tracker, _ := newTestTracker(time.Now())
	ctx := context.Background()

	if _, err := tracker.RecordCase(ctx, "", risk.RiskLow); err == nil {
		t.Error("expected error for empty analyst id on RecordCase")
	}
	if _, err := tracker.CheckSafety(ctx, ""); err == nil {
		t.Error("expected error for empty analyst id on CheckSafety")
	}
	if err := tracker.ResetSession(ctx, ""); err == nil {
		t.Error("expected error for empty analyst id on ResetSession")
	}
}
