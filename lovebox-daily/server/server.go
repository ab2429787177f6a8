// Package server exposes run status and shuffle-cycle state over HTTP and
// lets a run be triggered on demand.
package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/cycle"
	"lovebox_automation/lovebox-daily/logger"
	"lovebox_automation/lovebox-daily/pipeline"
)

// Version is reported by the health check.
const Version = "1.0.0"

// Runner executes one daily run. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Report, error)
}

// Cycles reads and resets shuffle-cycle state. *cycle.Selector satisfies it.
type Cycles interface {
	Entries(ctx context.Context) (cycle.Document, error)
	Reset(ctx context.Context, key string) (bool, error)
}

// Run states.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// RunStatus tracks a run started through the API.
type RunStatus struct {
	RunID     string           `json:"run_id"`
	State     string           `json:"state"`
	Alt       bool             `json:"alt"`
	StartedAt time.Time        `json:"started_at"`
	Report    *pipeline.Report `json:"report,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// CycleInfo summarizes one stored cycle.
type CycleInfo struct {
	Key       string `json:"key"`
	Index     int    `json:"index"`
	Len       int    `json:"len"`
	Remaining int    `json:"remaining"`
	Signature string `json:"signature"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	ActiveRun string `json:"active_run,omitempty"`
}

type runRequest struct {
	Alt bool `json:"alt"`
}

// Server is the status and trigger API.
type Server struct {
	router *gin.Engine
	runner Runner
	cycles Cycles
	log    zerolog.Logger
	// baseCtx outlives requests so background runs are not cut short.
	baseCtx context.Context

	mu     sync.Mutex
	active string
	runs   map[string]*RunStatus
	wg     sync.WaitGroup
}

// New creates a Server. Background runs use ctx.
func New(ctx context.Context, runner Runner, cycles Cycles, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:  gin.New(),
		runner:  runner,
		cycles:  cycles,
		log:     log,
		baseCtx: ctx,
		runs:    make(map[string]*RunStatus),
	}

	s.router.Use(requestLogger(log))
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/cycles", s.listCycles)
	s.router.DELETE("/cycles/:key", s.resetCycle)
	s.router.POST("/runs", s.startRun)
	s.router.GET("/runs/:id", s.getRun)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down and
// waits for a background run to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("💌 Lovebox status server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Wait blocks until no background run is in progress.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) healthCheck(c *gin.Context) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   Version,
		ActiveRun: active,
	})
}

func (s *Server) listCycles(c *gin.Context) {
	doc, err := s.cycles.Entries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable", Message: err.Error()})
		return
	}

	out := make([]CycleInfo, 0, len(doc))
	for key, entry := range doc {
		out = append(out, CycleInfo{
			Key:       key,
			Index:     entry.Index,
			Len:       len(entry.Order),
			Remaining: entry.Remaining(),
			Signature: entry.Signature,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	c.JSON(http.StatusOK, gin.H{"cycles": out, "count": len(out)})
}

func (s *Server) resetCycle(c *gin.Context) {
	key := c.Param("key")
	existed, err := s.cycles.Reset(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable", Message: err.Error()})
		return
	}
	if !existed {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "no cycle stored for " + key})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startRun(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
	}

	s.mu.Lock()
	if s.active != "" {
		active := s.active
		s.mu.Unlock()
		c.JSON(http.StatusConflict, ErrorResponse{Error: "run_active", Message: "run " + active + " is still in progress"})
		return
	}
	status := &RunStatus{
		RunID:     uuid.New().String(),
		State:     RunRunning,
		Alt:       req.Alt,
		StartedAt: time.Now(),
	}
	s.active = status.RunID
	s.runs[status.RunID] = status
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(status.RunID, req.Alt)

	c.JSON(http.StatusAccepted, gin.H{"run_id": status.RunID, "state": RunRunning})
}

func (s *Server) execute(runID string, alt bool) {
	defer s.wg.Done()
	log := s.log.With().Str(logger.FieldRunID, runID).Logger()

	report, err := s.runner.Run(s.baseCtx, pipeline.Options{Alt: alt, RunID: runID})

	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.runs[runID]
	status.Report = report
	if err != nil {
		status.State = RunFailed
		status.Error = err.Error()
		log.Error().Err(err).Msg("run failed")
	} else {
		status.State = RunFinished
	}
	s.active = ""
}

func (s *Server) getRun(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.runs[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Run not found"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int(logger.FieldStatus, c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
