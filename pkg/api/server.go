// Package api exposes the runtime over HTTP: the SSE chat endpoint, run
// reads, event replay, and health.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/maestro-ai/maestro/pkg/config"
	"github.com/maestro-ai/maestro/pkg/database"
	"github.com/maestro-ai/maestro/pkg/queue"
	"github.com/maestro-ai/maestro/pkg/services"
	"github.com/maestro-ai/maestro/pkg/stream"
	"github.com/maestro-ai/maestro/pkg/version"
)

// Server holds the handlers' dependencies.
type Server struct {
	runs      *services.RunService
	messages  *services.MessageService
	log       stream.EventLog
	streamCfg *config.StreamConfig

	// Optional: nil disables the corresponding health details.
	db   *sql.DB
	pool *queue.WorkerPool
}

// NewServer creates the API server.
func NewServer(runs *services.RunService, messages *services.MessageService, log stream.EventLog, streamCfg *config.StreamConfig) *Server {
	return &Server{
		runs:      runs,
		messages:  messages,
		log:       log,
		streamCfg: streamCfg,
	}
}

// WithDB attaches the database handle for health reporting.
func (s *Server) WithDB(db *sql.DB) *Server {
	s.db = db
	return s
}

// WithPool attaches the worker pool for health reporting.
func (s *Server) WithPool(pool *queue.WorkerPool) *Server {
	s.pool = pool
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	router.GET("/api/v1/healthz", s.Health)

	v1 := router.Group("/api/v1", TenantRequired())
	{
		v1.POST("/chat", s.Chat)
		v1.GET("/runs", s.ListRuns)
		v1.GET("/runs/:id", s.GetRun)
		v1.GET("/runs/:id/events", s.StreamRunEvents)
	}
	return router
}

// Health reports process, database, and worker pool health.
func (s *Server) Health(c *gin.Context) {
	body := gin.H{"status": "healthy", "version": version.Full()}
	healthy := true

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := database.Health(ctx, s.db)
		body["database"] = dbHealth
		if err != nil {
			healthy = false
			body["error"] = err.Error()
		}
	}
	if s.pool != nil {
		poolHealth := s.pool.Health()
		body["pool"] = poolHealth
		healthy = healthy && poolHealth.IsHealthy
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
