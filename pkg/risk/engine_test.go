package risk

import (
	"strings"
	"testing"
	"time"
)

func TestAssessRiskZeroSignalScenario(t *testing.T) {
	e := NewEngine()

	conv := makeConv(
		msg(RoleAdult, "hello", baseTime),
		msg(RoleMinor, "hi", baseTime.Add(5*time.Minute)),
	)
	a, fv, err := e.AssessRisk(conv)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}

	if *fv != (FeatureVector{}) {
		t.Errorf("feature vector = %+v, want all zeros", fv)
	}
	if a.GroomingRiskScore != 0 {
		t.Errorf("score = %v, want 0", a.GroomingRiskScore)
	}
	if a.RiskLevel != RiskMinimal {
		t.Errorf("level = %s, want minimal", a.RiskLevel)
	}
	if a.CurrentStage != StageInitialContact {
		t.Errorf("stage = %s, want initial_contact", a.CurrentStage)
	}
	if a.RequiresHumanReview {
		t.Error("zero-signal assessment must not require review")
	}
	if a.ConfidenceLevel != 0.3 {
		t.Errorf("confidence = %v, want 0.3 for 2 messages", a.ConfidenceLevel)
	}
	if a.ConversationID != conv.ID {
		t.Error("assessment not tied to conversation id")
	}
	if a.ConfigVersion != ConfigVersion {
		t.Errorf("config version = %q, want %q", a.ConfigVersion, ConfigVersion)
	}
}

func TestAssessRiskEscalatoryConversation(t *testing.T) {
	e := NewEngine()

	late := time.Date(2026, 3, 10, 23, 45, 0, 0, time.UTC)
	conv := makeConv(
		msg(RoleAdult, "you are so special to me", late),
		msg(RoleAdult, "this is our secret ok, don't tell anyone", late.Add(10*time.Minute)),
		msg(RoleAdult, "we should be alone, just us", late.Add(20*time.Minute)),
		msg(RoleAdult, "your parents don't understand you like i do", late.Add(30*time.Minute)),
		msg(RoleAdult, "add me on snapchat so we can talk private", late.Add(40*time.Minute)),
		msg(RoleMinor, "ok", late.Add(50*time.Minute)),
	)
	a, fv, err := e.AssessRisk(conv)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}

	if fv.SecrecyPressure == 0 || fv.IsolationPressure == 0 {
		t.Fatalf("pressure signals missing: %+v", fv)
	}
	if a.CurrentStage != StageEscalationRisk {
		t.Errorf("stage = %s, want escalation_risk", a.CurrentStage)
	}
	if !a.RequiresHumanReview {
		t.Error("escalatory conversation must require review")
	}
	if a.GroomingRiskScore <= 40 {
		t.Errorf("score = %v, want well above low band", a.GroomingRiskScore)
	}
	if !strings.Contains(a.ReasoningSummary, "Risk Score:") {
		t.Errorf("reasoning summary malformed: %q", a.ReasoningSummary)
	}
	if len(a.FeatureContributions) != 8 {
		t.Errorf("contributions = %d, want 8", len(a.FeatureContributions))
	}
}

func TestAssessRiskRepeatedCallsAgree(t *testing.T) {
	e := NewEngine()

	conv := makeConv(
		msg(RoleAdult, "trust me, i'm always there for you", baseTime),
		msg(RoleAdult, "keep this between us", baseTime.Add(time.Hour)),
		msg(RoleMinor, "why", baseTime.Add(2*time.Hour)),
		msg(RoleAdult, "nobody else understands you", baseTime.Add(3*time.Hour)),
	)

	a, _, err := e.AssessRisk(conv)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}
	b, _, err := e.AssessRisk(conv)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}

	if a.GroomingRiskScore != b.GroomingRiskScore {
		t.Errorf("scores differ across identical runs: %v vs %v", a.GroomingRiskScore, b.GroomingRiskScore)
	}
	if a.CurrentStage != b.CurrentStage {
		t.Errorf("stages differ across identical runs: %s vs %s", a.CurrentStage, b.CurrentStage)
	}
	if a.AssessmentID == b.AssessmentID {
		t.Error("assessments must carry unique ids")
	}
}

func TestAssessRiskConcurrent(t *testing.T) {
	e := NewEngine()

	conv := makeConv(
		msg(RoleAdult, "you can trust me", baseTime),
		msg(RoleAdult, "our secret", baseTime.Add(time.Hour)),
		msg(RoleMinor, "ok", baseTime.Add(2*time.Hour)),
	)
	ref, _, err := e.AssessRisk(conv)
	if err != nil {
		t.Fatalf("AssessRisk: %v", err)
	}

	const workers = 16
	results := make(chan float64, workers)
	for i := 0; i < workers; i++ {
		go func() {
			a, _, err := e.AssessRisk(conv)
			if err != nil {
				results <- -1
				return
			}
			results <- a.GroomingRiskScore
		}()
	}
	for i := 0; i < workers; i++ {
		if got := <-results; got != ref.GroomingRiskScore {
			t.Fatalf("concurrent assessment diverged: %v vs %v", got, ref.GroomingRiskScore)
		}
	}
}
