package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/NineSunsInc/rampart/pkg/risk"
)

func sampleAssessment() *risk.RiskAssessment {
	return &risk.RiskAssessment{
		AssessmentID:      uuid.New(),
		ConversationID:    uuid.New(),
		GroomingRiskScore: 73.5,
		RiskLevel:         risk.RiskHigh,
		CurrentStage:      risk.StageIsolationAttempts,
		ConfigVersion:     risk.ConfigVersion,
		AssessedAt:        time.Now().UTC(),
	}
}

func TestNewAssessmentEvent(t *testing.T) {
	a := sampleAssessment()

	evt, err := NewAssessmentEvent(a, "  analyst-1  ")
	if err != nil {
		t.Fatalf("NewAssessmentEvent: %v", err)
	}
	if evt.EventType != TypeAssessmentCompleted {
		t.Errorf("event type = %s", evt.EventType)
	}
	if evt.AnalystID != "analyst-1" {
		t.Errorf("analyst id = %q, want trimmed", evt.AnalystID)
	}
	if evt.Score != a.GroomingRiskScore || evt.Stage != string(a.CurrentStage) {
		t.Errorf("event does not mirror assessment: %+v", evt)
	}
	if evt.ConfigVersion != risk.ConfigVersion {
		t.Errorf("config version = %q, want %q", evt.ConfigVersion, risk.ConfigVersion)
	}
	if evt.EventID == uuid.Nil {
		t.Error("event id not assigned")
	}

	if _, err := NewAssessmentEvent(nil, "analyst-1"); err == nil {
		t.Error("expected error for nil assessment")
	}
}

func TestNewExposureEvent(t *testing.T) {
	evt, err := NewExposureEvent(TypeSessionReset, "analyst-1", map[string]int{"cases": 7})
	if err != nil {
		t.Fatalf("NewExposureEvent: %v", err)
	}
	if evt.EventType != TypeSessionReset {
		t.Errorf("event type = %s", evt.EventType)
	}
	var payload map[string]int
	if err := json.Unmarshal(evt.Payload, &payload); err != nil || payload["cases"] != 7 {
		t.Errorf("payload = %s, err = %v", evt.Payload, err)
	}

	if _, err := NewExposureEvent("  ", "analyst-1", nil); err == nil {
		t.Error("expected error for blank event type")
	}
}

// stubExecer captures the SQL issued by the outbox sink.
type stubExecer struct {
	sql  string
	args []any
	err  error
}

func (s *stubExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = sql
	s.args = args
	if s.err != nil {
		return pgconn.CommandTag{}, s.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestOutboxSinkRecord(t *testing.T) {
	exec := &stubExecer{}
	sink, err := NewOutboxSink(exec)
	if err != nil {
		t.Fatalf("NewOutboxSink: %v", err)
	}

	evt, _ := NewAssessmentEvent(sampleAssessment(), "analyst-1")
	if err := sink.Record(context.Background(), evt); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if !strings.Contains(exec.sql, "INSERT INTO audit_outbox") {
		t.Errorf("unexpected sql: %s", exec.sql)
	}
	if len(exec.args) != 4 {
		t.Fatalf("args = %d, want 4", len(exec.args))
	}
	if exec.args[0] != evt.EventID {
		t.Error("first arg must be the event id")
	}
	if exec.args[1] != evt.EventType {
		t.Error("second arg must be the event type")
	}

	var stored Event
	if err := json.Unmarshal(exec.args[3].([]byte), &stored); err != nil {
		t.Fatalf("stored payload not valid json: %v", err)
	}
	if stored.Score != evt.Score {
		t.Errorf("stored score = %v, want %v", stored.Score, evt.Score)
	}
}

func TestNewOutboxSinkRequiresExecer(t *testing.T) {
	if _, err := NewOutboxSink(nil); err == nil {
		t.Error("expected error for nil executor")
	}
}

func TestStreamSinkRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewStreamSinkWithKey(client, "test:audit")
	evt, _ := NewAssessmentEvent(sampleAssessment(), "analyst-1")

	if err := sink.Record(context.Background(), evt); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := client.XRange(context.Background(), "test:audit", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream entries = %d, want 1", len(entries))
	}
	if entries[0].Values["event_type"] != TypeAssessmentCompleted {
		t.Errorf("event_type field = %v", entries[0].Values["event_type"])
	}

	var stored Event
	if err := json.Unmarshal([]byte(entries[0].Values["payload"].(string)), &stored); err != nil {
		t.Fatalf("payload not valid json: %v", err)
	}
	if stored.EventID != evt.EventID {
		t.Error("stored event id mismatch")
	}
}

func TestNopSink(t *testing.T) {
	if err := (NopSink{}).Record(context.Background(), Event{}); err != nil {
		t.Errorf("NopSink must never fail, got %v", err)
	}
}
