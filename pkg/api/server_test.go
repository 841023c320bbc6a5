package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NineSunsInc/rampart/pkg/audit"
	"github.com/NineSunsInc/rampart/pkg/metrics"
	"github.com/NineSunsInc/rampart/pkg/risk"
	"github.com/NineSunsInc/rampart/pkg/shield"
)

// captureSink remembers every audit event it receives.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(_ context.Context, evt audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *captureSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.EventType)
	}
	return out
}

type testServer struct {
	*Server
	tracker *shield.Tracker
	sink    *captureSink
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	tracker := shield.NewTracker(shield.NewMemoryStore())
	sink := &captureSink{}
	srv := NewServer(Deps{
		Tracker:  tracker,
		Sink:     sink,
		Metrics:  metrics.NewAssessmentMetrics(reg),
		Registry: reg,
	})
	return &testServer{Server: srv, tracker: tracker, sink: sink}
}

func escalatoryConversation() risk.Conversation {
	base := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	mk := func(role risk.SenderRole, text string, offset time.Duration) risk.Message {
		return risk.Message{
			ID:             uuid.New(),
			Timestamp:      base.Add(offset),
			SenderRole:     role,
			AbstractedText: text,
		}
	}
	return risk.Conversation{
		ID:           uuid.New(),
		PlatformType: "chat",
		Messages: []risk.Message{
			mk(risk.RoleAdult, "you are so special and mature for your age", 0),
			mk(risk.RoleMinor, "thanks", 2*time.Minute),
			mk(risk.RoleAdult, "don't tell anyone about us, our secret", 4*time.Minute),
			mk(risk.RoleAdult, "your parents don't understand you like i do", 6*time.Minute),
			mk(risk.RoleAdult, "we should meet up soon, where do you live", 8*time.Minute),
		},
	}
}

func postJSON(t *testing.T, srv *Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
	if body["model_version"] != risk.ConfigVersion {
		t.Errorf("model_version = %q, want %q", body["model_version"], risk.ConfigVersion)
	}
}

func TestAssess(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.Server, "/api/v1/assess", AssessRequest{
		Conversation:         escalatoryConversation(),
		AnalystID:            "analyst-1",
		ExposureLevel:        shield.ExposureDetailed,
		IncludeVisualization: true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out AssessResponse
	decodeBody(t, resp, &out)

	if out.Assessment == nil {
		t.Fatal("no assessment in response")
	}
	if out.Assessment.CurrentStage != risk.StageEscalationRisk {
		t.Errorf("stage = %s, want escalation_risk", out.Assessment.CurrentStage)
	}
	if !out.Assessment.RequiresHumanReview {
		t.Error("escalation case must require human review")
	}
	if out.SafeSummary == nil || out.Explanation == nil {
		t.Error("safe summary and explanation must always be present")
	}
	if out.Visualization == nil {
		t.Error("visualization requested but missing")
	}
	if out.EnrichmentAvailable {
		t.Error("no analyzer configured, enrichment must be flagged unavailable")
	}
	if out.Enrichment != nil {
		t.Error("no analyzer configured, enrichment result must be absent")
	}
	if out.Safety == nil {
		t.Fatal("no safety report in response")
	}
	if out.Safety.CasesReviewed != 1 {
		t.Errorf("cases reviewed = %d, want 1", out.Safety.CasesReviewed)
	}

	types := srv.sink.types()
	if len(types) != 2 || types[0] != audit.TypeAssessmentCompleted || types[1] != audit.TypeCaseDelivered {
		t.Errorf("audit events = %v", types)
	}
}

func TestAssessValidation(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing analyst id", func(t *testing.T) {
		resp := postJSON(t, srv.Server, "/api/v1/assess", AssessRequest{
			Conversation: escalatoryConversation(),
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("empty conversation", func(t *testing.T) {
		resp := postJSON(t, srv.Server, "/api/v1/assess", AssessRequest{
			Conversation: risk.Conversation{ID: uuid.New()},
			AnalystID:    "analyst-1",
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestAssessExposureGate(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := srv.tracker.RecordCase(ctx, "analyst-1", risk.RiskCritical); err != nil {
			t.Fatalf("seed exposure: %v", err)
		}
	}

	resp := postJSON(t, srv.Server, "/api/v1/assess", AssessRequest{
		Conversation: escalatoryConversation(),
		AnalystID:    "analyst-1",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}

	var body struct {
		Safety *shield.SafetyReport `json:"safety"`
	}
	decodeBody(t, resp, &body)
	if body.Safety == nil || body.Safety.Status != shield.StatusBreakRequired {
		t.Errorf("safety = %+v, want break_required", body.Safety)
	}

	if len(srv.sink.types()) != 0 {
		t.Error("denied delivery must not emit assessment audit events")
	}
}

func TestCheckSafetyAndReset(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := srv.tracker.RecordCase(ctx, "analyst-2", risk.RiskLow); err != nil {
			t.Fatalf("seed exposure: %v", err)
		}
	}

	resp := postJSON(t, srv.Server, "/api/v1/analyst/check-safety", AnalystRequest{AnalystID: "analyst-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var report shield.SafetyReport
	decodeBody(t, resp, &report)
	if report.CasesReviewed != 3 {
		t.Errorf("cases reviewed = %d, want 3", report.CasesReviewed)
	}

	resp = postJSON(t, srv.Server, "/api/v1/analyst/reset-session", AnalystRequest{AnalystID: "analyst-2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &report)
	if report.CasesReviewed != 0 {
		t.Errorf("cases after reset = %d, want 0", report.CasesReviewed)
	}

	types := srv.sink.types()
	if len(types) != 1 || types[0] != audit.TypeSessionReset {
		t.Errorf("audit events = %v, want one session reset", types)
	}

	t.Run("missing analyst id", func(t *testing.T) {
		resp := postJSON(t, srv.Server, "/api/v1/analyst/check-safety", AnalystRequest{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestStageEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stage/escalation_risk", nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["title"] != "Escalation Risk" {
		t.Errorf("title = %v", body["title"])
	}
	if body["description"] == "" {
		t.Error("description missing")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stage/bogus", nil)
	resp, err = srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := postJSON(t, srv.Server, "/api/v1/assess", AssessRequest{
		Conversation: escalatoryConversation(),
		AnalystID:    "analyst-3",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assess status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "rampart_risk_assessments_total") {
		t.Error("assessment counter missing from scrape")
	}
}
