// Package server exposes the HTTP control surface: health, manual cycle
// triggers and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alkahfi23/aibottrading/internal/core"
	"github.com/alkahfi23/aibottrading/internal/orchestrator"
)

// Server wires HTTP endpoints around the orchestrator.
type Server struct {
	Router  *gin.Engine
	orch    *orchestrator.Orchestrator
	logger  core.ILogger
	symbols map[string]bool
	metrics bool
	srv     *http.Server
}

// NewServer builds the router. Only configured symbols can be triggered.
func NewServer(orch *orchestrator.Orchestrator, logger core.ILogger, symbols []string, enableMetrics bool) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	allowed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		allowed[strings.ToUpper(s)] = true
	}

	s := &Server{
		Router:  r,
		orch:    orch,
		logger:  logger.WithField("component", "server"),
		symbols: allowed,
		metrics: enableMetrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/healthz", s.health)
	if s.metrics {
		s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	s.Router.POST("/trigger/:symbol", s.trigger)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// A triggered cycle gets its own deadline instead of the request's.
const triggerTimeout = 2 * time.Minute

// trigger runs one evaluation cycle for a symbol and returns its report. The
// cycle is synchronous; the caller sees the outcome directly.
func (s *Server) trigger(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if !s.symbols[symbol] {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("symbol %s not configured", symbol)})
		return
	}

	// The cycle is detached from the request context: a caller hanging up
	// after the entry is submitted must not cancel protection placement.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), triggerTimeout)
	defer cancel()

	report := s.orch.TriggerSymbol(ctx, symbol)
	c.JSON(http.StatusOK, reportJSON(report))
}

func reportJSON(r *core.CycleReport) gin.H {
	legs := make([]string, len(r.MissingLegs))
	for i, l := range r.MissingLegs {
		legs[i] = string(l)
	}
	return gin.H{
		"cycle_id":      r.CycleID,
		"symbol":        r.Symbol,
		"side":          string(r.Side),
		"quantity":      r.Quantity.String(),
		"entry_price":   r.EntryPrice.String(),
		"stop_loss":     r.StopLossPrice.String(),
		"take_profit":   r.TakeProfitPrice.String(),
		"outcome":       string(r.Outcome),
		"reason":        string(r.Reason),
		"missing_legs":  legs,
		"entry_skipped": r.EntrySkipped,
		"state_reached": r.StateReached,
	}
}

// Start begins serving and blocks until the listener fails or Shutdown runs.
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
