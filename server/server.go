// Package server exposes the current run to a rendering layer over HTTP.
//
// Routes:
//
//	POST /v1/runs                  start a run (cancels the current one)
//	GET  /v1/runs                  list finished runs
//	GET  /v1/runs/:run_id          final state of a finished run
//	GET  /v1/run                   snapshot of the current run
//	GET  /v1/run/hitl              outstanding checkpoint (204 when none)
//	POST /v1/run/hitl              answer the outstanding checkpoint
//	GET  /v1/run/artifacts         artifact list
//	GET  /v1/run/artifacts/*       one artifact by filename
//	GET  /v1/run/reasoning         reasoning transcript
//	POST /v1/run/cancel            cancel the current run
//	GET  /metrics                  Prometheus metrics
//	GET  /health                   liveness
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/pipewatch/artifact"
	"github.com/hupe1980/pipewatch/core"
	"github.com/hupe1980/pipewatch/history"
	"github.com/hupe1980/pipewatch/logging"
	"github.com/hupe1980/pipewatch/runner"
	"github.com/hupe1980/pipewatch/transport"
)

// Controller is the part of *runner.Runner the handlers use.
type Controller interface {
	Start(ctx context.Context, req transport.TaskRequest) (*runner.RunHandle, error)
	Current() *runner.RunHandle
	CancelCurrent() error
	History() core.HistoryStore
}

var _ Controller = (*runner.Runner)(nil)

// Options configures a Server.
type Options struct {
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// BaseContext bounds runs started over HTTP. Request contexts end with
	// the request, so they are not used for runs.
	BaseContext context.Context
	Logger      logging.Logger
}

// Server is the HTTP façade.
type Server struct {
	ctrl   Controller
	echo   *echo.Echo
	opts   Options
	logger logging.Logger
}

// New creates a Server with all routes registered.
func New(ctrl Controller, optFns ...func(o *Options)) *Server {
	opts := Options{
		Gatherer:    prometheus.DefaultGatherer,
		BaseContext: context.Background(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{ctrl: ctrl, echo: e, opts: opts, logger: logging.OrNoOp(opts.Logger)}
	s.RegisterRoutes(e)
	return s
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// RegisterRoutes registers routes with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", s.StartRun)
	e.GET("/v1/runs", s.ListRuns)
	e.GET("/v1/runs/:run_id", s.GetRun)

	e.GET("/v1/run", s.CurrentRun)
	e.GET("/v1/run/hitl", s.GetHitl)
	e.POST("/v1/run/hitl", s.SubmitHitl)
	e.GET("/v1/run/artifacts", s.ListArtifacts)
	e.GET("/v1/run/artifacts/*", s.GetArtifact)
	e.GET("/v1/run/reasoning", s.GetReasoning)
	e.POST("/v1/run/cancel", s.CancelRun)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	e.GET("/health", s.Health)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StartRunResponse is returned by POST /v1/runs.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// ReasoningResponse is returned by GET /v1/run/reasoning.
type ReasoningResponse struct {
	Transcript []string `json:"transcript"`
	InProgress string   `json:"in_progress,omitempty"`
}

// Health returns health status.
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// StartRun handles POST /v1/runs.
func (s *Server) StartRun(c echo.Context) error {
	var req transport.TaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	h, err := s.ctrl.Start(s.opts.BaseContext, req)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusAccepted, StartRunResponse{RunID: h.ID()})
}

// ListRuns handles GET /v1/runs.
func (s *Server) ListRuns(c echo.Context) error {
	list, err := s.ctrl.History().List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list runs"})
	}
	return c.JSON(http.StatusOK, list)
}

// GetRun handles GET /v1/runs/:run_id. The current run is served from memory.
func (s *Server) GetRun(c echo.Context) error {
	runID := c.Param("run_id")
	if h := s.ctrl.Current(); h != nil && h.ID() == runID {
		return c.JSON(http.StatusOK, h.State())
	}
	st, err := s.ctrl.History().Get(c.Request().Context(), runID)
	if err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, st)
}

// CurrentRun handles GET /v1/run.
func (s *Server) CurrentRun(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	return c.JSON(http.StatusOK, h.State())
}

// GetHitl handles GET /v1/run/hitl.
func (s *Server) GetHitl(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	req := h.GetOutstandingHitl()
	if req == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, req)
}

// SubmitHitl handles POST /v1/run/hitl.
func (s *Server) SubmitHitl(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	var resp core.HitlResponse
	if err := c.Bind(&resp); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if resp.RequestID == "" || resp.Action == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "request_id and action are required"})
	}
	if err := h.SubmitHitlResponse(c.Request().Context(), resp); err != nil {
		body := errorResponse{Error: err.Error()}
		var pv *core.ProtocolViolation
		if errors.As(err, &pv) {
			body.Kind = pv.Kind
		}
		return c.JSON(statusFor(err), body)
	}
	return c.JSON(http.StatusOK, h.State())
}

// ListArtifacts handles GET /v1/run/artifacts.
func (s *Server) ListArtifacts(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	return c.JSON(http.StatusOK, h.GetArtifacts())
}

// GetArtifact handles GET /v1/run/artifacts/*.
func (s *Server) GetArtifact(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	a, err := h.GetArtifact(c.Param("*"))
	if err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, a)
}

// GetReasoning handles GET /v1/run/reasoning.
func (s *Server) GetReasoning(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	return c.JSON(http.StatusOK, ReasoningResponse{
		Transcript: h.GetReasoningTranscript(),
		InProgress: h.State().ReasoningInProgress,
	})
}

// CancelRun handles POST /v1/run/cancel.
func (s *Server) CancelRun(c echo.Context) error {
	h, err := s.current(c)
	if h == nil {
		return err
	}
	if err := s.ctrl.CancelCurrent(); err != nil {
		return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, h.State())
}

// current returns the current run, or nil after writing a 404.
func (s *Server) current(c echo.Context) (*runner.RunHandle, error) {
	h := s.ctrl.Current()
	if h == nil {
		return nil, c.JSON(http.StatusNotFound, errorResponse{Error: runner.ErrNoCurrentRun.Error()})
	}
	return h, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrProtocolViolation):
		return http.StatusConflict
	case errors.Is(err, runner.ErrRunCancelled):
		return http.StatusGone
	case errors.Is(err, runner.ErrNoCurrentRun),
		errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
