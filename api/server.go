// Package api serves run status over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"envgrid/logger"
	"envgrid/store"
	"envgrid/trader"
)

// RunSource is the runner as seen by the API.
type RunSource interface {
	LastReport() *trader.RunReport
	Run(ctx context.Context) (*trader.RunReport, error)
}

// RunHistory reads the run journal.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunRecord, error)
	RunOrders(ctx context.Context, runID string) ([]trader.OrderRecord, error)
}

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	runner     RunSource
	history    RunHistory // nil when the journal is disabled
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	port       int
}

// NewServer Creates API server. history and gatherer may be nil.
func NewServer(runner RunSource, history RunHistory, gatherer prometheus.Gatherer, port int) *Server {
	// Set to Release mode (reduce log output)
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		runner:   runner,
		history:  history,
		gatherer: gatherer,
		port:     port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/runs/last", s.handleLastRun)
		api.POST("/runs", s.handleTriggerRun)
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id/orders", s.handleRunOrders)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok", "time": time.Now().UTC()}
	if last := s.runner.LastReport(); last != nil {
		resp["last_run_id"] = last.ID
		resp["last_run_ok"] = last.Succeeded()
		resp["last_run_at"] = last.FinishedAt
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLastRun(c *gin.Context) {
	last := s.runner.LastReport()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run yet"})
		return
	}
	c.JSON(http.StatusOK, last)
}

// handleTriggerRun starts an out-of-schedule run in the background.
func (s *Server) handleTriggerRun(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		if _, err := s.runner.Run(ctx); err != nil {
			logger.Warnf("⚠️ Triggered run failed: %v", err)
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run journal disabled"})
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	runs, err := s.history.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunOrders(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run journal disabled"})
		return
	}
	orders, err := s.history.RunOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if orders == nil {
		orders = []trader.OrderRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "orders": orders})
}

// Start Start server; blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	logger.Infof("🌐 API server starting at http://localhost%s", addr)
	logger.Infof("  • GET  /api/health            - Health check")
	logger.Infof("  • GET  /api/runs/last         - Last run report")
	logger.Infof("  • POST /api/runs              - Trigger a run")
	logger.Infof("  • GET  /api/runs?limit=n      - Journaled runs")
	logger.Infof("  • GET  /api/runs/:id/orders   - Orders of a journaled run")
	logger.Infof("  • GET  /metrics               - Prometheus metrics")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown Gracefully shutdown server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
