// Package http exposes the memory engine over an HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server serves the engine façade.
type Server struct {
	echo   *echo.Echo
	engine *memory.Engine
	logger *zap.Logger
	addr   string
}

// NewServer creates the HTTP server around an engine.
func NewServer(engine *memory.Engine, logger *zap.Logger, addr string) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking")
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, engine: engine, logger: logger, addr: addr}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/guidance", s.handleGuidance)
	v1.POST("/predictions", s.handleRegisterPrediction)
	v1.POST("/outcomes", s.handleRecordOutcome)
	v1.POST("/scores", s.handleScore)
	v1.POST("/consolidation", s.handleConsolidation)
	v1.GET("/stats", s.handleStats)
	v1.DELETE("/session", s.handleClearSession)
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// GuidanceRequest is the body for POST /v1/guidance.
type GuidanceRequest struct {
	TenantID  string                 `json:"tenant_id"`
	SkillName string                 `json:"skill_name"`
	Domain    string                 `json:"domain"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) handleGuidance(c echo.Context) error {
	var req GuidanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	g, err := s.engine.GetGuidance(c.Request().Context(), req.TenantID, req.SkillName,
		memory.Domain(req.Domain), memory.MappingFromInterface(req.Context))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleRegisterPrediction(c echo.Context) error {
	var p memory.Prediction
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.engine.RegisterPrediction(c.Request().Context(), &p)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"prediction_id": id})
}

// OutcomeRequest is the body for POST /v1/outcomes.
type OutcomeRequest struct {
	PredictionID string         `json:"prediction_id"`
	Outcome      memory.Outcome `json:"outcome"`
}

func (s *Server) handleRecordOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PredictionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prediction_id is required")
	}

	result, err := s.engine.RecordOutcome(c.Request().Context(), req.PredictionID, req.Outcome)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ScoreRequest is the body for POST /v1/scores.
type ScoreRequest struct {
	Domain  string             `json:"domain"`
	Metrics map[string]float64 `json:"metrics"`
	Context map[string]float64 `json:"context,omitempty"`
}

// ScoreResponse is the body for POST /v1/scores.
type ScoreResponse struct {
	Score float64 `json:"score"`
}

func (s *Server) handleScore(c echo.Context) error {
	var req ScoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	score, err := s.engine.Score(c.Request().Context(), memory.Domain(req.Domain), req.Metrics, req.Context)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, ScoreResponse{Score: score})
}

// ConsolidationRequest is the body for POST /v1/consolidation.
type ConsolidationRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
}

func (s *Server) handleConsolidation(c echo.Context) error {
	var req ConsolidationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	counters, err := s.engine.RunConsolidation(c.Request().Context(), req.TenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, counters)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.engine.GetStats(c.Request().Context(), c.QueryParam("tenant_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleClearSession(c echo.Context) error {
	s.engine.ClearSession()
	return c.NoContent(http.StatusNoContent)
}

// mapError translates engine errors into HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, memory.ErrPredictionNotFound),
		errors.Is(err, memory.ErrPatternNotFound),
		errors.Is(err, memory.ErrKnowledgeNotFound),
		errors.Is(err, memory.ErrEpisodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, memory.ErrEmptyTenantID),
		errors.Is(err, memory.ErrEmptySkillName),
		errors.Is(err, memory.ErrUnknownDomain):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
