package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/NineSunsInc/rampart/pkg/audit"
	"github.com/NineSunsInc/rampart/pkg/enrich"
	"github.com/NineSunsInc/rampart/pkg/risk"
	"github.com/NineSunsInc/rampart/pkg/shield"
)

// AssessRequest is the body of POST /api/v1/assess.
type AssessRequest struct {
	Conversation         risk.Conversation    `json:"conversation"`
	AnalystID            string               `json:"analyst_id"`
	ExposureLevel        shield.ExposureLevel `json:"exposure_level,omitempty"`
	IncludeVisualization bool                 `json:"include_visualization,omitempty"`
}

// AssessResponse is the full assessment result. Message content never
// appears anywhere in it.
type AssessResponse struct {
	Assessment          *risk.RiskAssessment      `json:"assessment"`
	SafeSummary         *shield.SafeSummary       `json:"safe_summary"`
	Explanation         *risk.Explanation         `json:"explanation"`
	Visualization       *shield.VisualizationData `json:"visualization,omitempty"`
	Enrichment          *enrich.Result            `json:"enrichment,omitempty"`
	EnrichmentAvailable bool                      `json:"enrichment_available"`
	Safety              *shield.SafetyReport      `json:"safety"`
}

// AnalystRequest is the body of the analyst session endpoints.
type AnalystRequest struct {
	AnalystID string `json:"analyst_id"`
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"model_version": s.engine.Scorer().Config().Version,
	})
}

func (s *Server) handleAssess(c fiber.Ctx) error {
	var req AssessRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	analystID := strings.TrimSpace(req.AnalystID)
	if analystID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "analyst_id is required")
	}

	ctx := c.Context()

	// Exposure gate before any case material reaches the analyst.
	safety, err := s.tracker.CheckSafety(ctx, analystID)
	if err != nil {
		return err
	}
	if !safety.SafeToProceed {
		s.metrics.ObserveExposureDenial(string(safety.Status))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":  "analyst exposure limit reached",
			"safety": safety,
		})
	}

	start := time.Now()
	assessment, fv, err := s.engine.AssessRisk(&req.Conversation)
	if err != nil {
		var verr *risk.ValidationError
		if errors.As(err, &verr) || errors.Is(err, risk.ErrEmptyConversation) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}

	resp := AssessResponse{
		Assessment:  assessment,
		SafeSummary: shield.CreateSafeSummary(&req.Conversation, assessment, fv, req.ExposureLevel),
		Explanation: s.explainer.Explain(assessment, fv, &req.Conversation),
	}
	if req.IncludeVisualization {
		resp.Visualization = shield.GenerateVisualizationData(&req.Conversation, fv, assessment)
	}

	resp.EnrichmentAvailable = s.analyzer.IsAvailable()
	if resp.EnrichmentAvailable {
		resp.Enrichment = s.enrichBestEffort(ctx, &req.Conversation, assessment.GroomingRiskScore)
	}

	s.recordAssessment(ctx, assessment, analystID)

	if _, err := s.tracker.RecordCase(ctx, analystID, assessment.RiskLevel); err != nil {
		s.log.Error("record case failed", "analyst_id", analystID, "error", err)
	}
	if after, err := s.tracker.CheckSafety(ctx, analystID); err == nil {
		resp.Safety = after
	} else {
		resp.Safety = safety
	}

	s.metrics.ObserveAssessment(
		string(assessment.RiskLevel),
		string(assessment.CurrentStage),
		assessment.GroomingRiskScore,
		time.Since(start).Seconds(),
	)
	return c.JSON(resp)
}

// enrichBestEffort fetches an advisory opinion, tolerating any failure.
func (s *Server) enrichBestEffort(ctx context.Context, conv *risk.Conversation, score float64) *enrich.Result {
	enrichCtx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	result, err := s.analyzer.Analyze(enrichCtx, conv, score)
	s.metrics.ObserveEnrichment(providerName(result), err)
	if err != nil {
		if !errors.Is(err, enrich.ErrUnavailable) {
			s.log.Warn("enrichment failed", "conversation_id", conv.ID, "error", err)
		}
		return nil
	}
	return result
}

func providerName(r *enrich.Result) string {
	if r == nil {
		return "unknown"
	}
	return r.Provider
}

// recordAssessment emits the audit events for a delivered case. Audit
// failures are logged, never surfaced to the caller.
func (s *Server) recordAssessment(ctx context.Context, assessment *risk.RiskAssessment, analystID string) {
	evt, err := audit.NewAssessmentEvent(assessment, analystID)
	if err != nil {
		s.log.Error("build audit event failed", "error", err)
		return
	}
	if err := s.sink.Record(ctx, evt); err != nil {
		s.log.Error("audit record failed", "event_id", evt.EventID, "error", err)
	}

	delivered, err := audit.NewExposureEvent(audit.TypeCaseDelivered, analystID, fiber.Map{
		"assessment_id": assessment.AssessmentID,
		"risk_level":    assessment.RiskLevel,
	})
	if err != nil {
		s.log.Error("build exposure event failed", "error", err)
		return
	}
	if err := s.sink.Record(ctx, delivered); err != nil {
		s.log.Error("audit record failed", "event_id", delivered.EventID, "error", err)
	}
}

func (s *Server) handleCheckSafety(c fiber.Ctx) error {
	analystID, err := bindAnalystID(c)
	if err != nil {
		return err
	}
	report, err := s.tracker.CheckSafety(c.Context(), analystID)
	if err != nil {
		return err
	}
	if !report.SafeToProceed {
		s.metrics.ObserveExposureDenial(string(report.Status))
	}
	return c.JSON(report)
}

func (s *Server) handleResetSession(c fiber.Ctx) error {
	analystID, err := bindAnalystID(c)
	if err != nil {
		return err
	}
	if err := s.tracker.ResetSession(c.Context(), analystID); err != nil {
		return err
	}

	if evt, err := audit.NewExposureEvent(audit.TypeSessionReset, analystID, nil); err == nil {
		if err := s.sink.Record(c.Context(), evt); err != nil {
			s.log.Error("audit record failed", "event_id", evt.EventID, "error", err)
		}
	}

	report, err := s.tracker.CheckSafety(c.Context(), analystID)
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) handleStage(c fiber.Ctx) error {
	stage := risk.Stage(c.Params("stage"))
	if !stage.Valid() {
		return fiber.NewError(fiber.StatusNotFound, "unknown stage")
	}
	return c.JSON(fiber.Map{
		"stage":       stage,
		"title":       stage.Title(),
		"rank":        stage.Rank(),
		"description": risk.StageDescription(stage),
		"recommendations": fiber.Map{
			"moderate": risk.Recommendations(risk.RiskModerate, stage),
			"high":     risk.Recommendations(risk.RiskHigh, stage),
		},
	})
}

func bindAnalystID(c fiber.Ctx) (string, error) {
	var req AnalystRequest
	if err := c.Bind().Body(&req); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	id := strings.TrimSpace(req.AnalystID)
	if id == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "analyst_id is required")
	}
	return id, nil
}
