// Package api exposes the assessment pipeline over HTTP. Every response
// body follows the exposure policy: raw message text is never echoed back,
// only assessments, safe summaries, and explanations.
package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NineSunsInc/rampart/pkg/audit"
	"github.com/NineSunsInc/rampart/pkg/enrich"
	"github.com/NineSunsInc/rampart/pkg/logging"
	"github.com/NineSunsInc/rampart/pkg/metrics"
	"github.com/NineSunsInc/rampart/pkg/risk"
	"github.com/NineSunsInc/rampart/pkg/shield"
)

// enrichTimeout bounds the advisory call inside an assessment request.
// Enrichment is best-effort; the behavioral result never waits longer than
// this for a second opinion.
const enrichTimeout = 20 * time.Second

// Deps are the collaborators a Server needs. Nil optional fields degrade:
// no tracker means an in-memory one, no analyzer means enrichment is
// flagged unavailable, no sink means audit events are dropped.
type Deps struct {
	Logger   *logging.Logger
	Engine   *risk.Engine
	Tracker  *shield.Tracker
	Analyzer enrich.Analyzer
	Sink     audit.Sink
	Metrics  *metrics.AssessmentMetrics
	Registry *prometheus.Registry
}

// Server wires the risk pipeline behind a fiber app.
type Server struct {
	log       *logging.Logger
	engine    *risk.Engine
	explainer *risk.ExplainabilityEngine
	tracker   *shield.Tracker
	analyzer  enrich.Analyzer
	sink      audit.Sink
	metrics   *metrics.AssessmentMetrics
	registry  *prometheus.Registry
	app       *fiber.App
}

// NewServer builds the server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		log:       deps.Logger,
		engine:    deps.Engine,
		explainer: risk.NewExplainabilityEngine(),
		tracker:   deps.Tracker,
		analyzer:  deps.Analyzer,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		registry:  deps.Registry,
	}
	if s.log == nil {
		s.log = logging.Default()
	}
	if s.engine == nil {
		s.engine = risk.NewEngine()
	}
	if s.tracker == nil {
		s.tracker = shield.NewTracker(shield.NewMemoryStore())
	}
	if s.analyzer == nil {
		s.analyzer = enrich.Disabled{}
	}
	if s.sink == nil {
		s.sink = audit.NopSink{}
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "rampart",
		ErrorHandler: s.errorHandler,
	})
	s.routes()
	return s
}

// App returns the underlying fiber app for serving and testing.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)

	if s.registry != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := s.app.Group("/api/v1")
	v1.Post("/assess", s.handleAssess)
	v1.Post("/analyst/check-safety", s.handleCheckSafety)
	v1.Post("/analyst/reset-session", s.handleResetSession)
	v1.Get("/stage/:stage", s.handleStage)
}

func (s *Server) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if fe, ok := err.(*fiber.Error); ok {
		fiberErr = fe
		code = fe.Code
	}
	if fiberErr == nil {
		s.log.Error("unhandled request error", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
