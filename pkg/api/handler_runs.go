package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/pkg/models"
)

const defaultListLimit = 50

// GetRun returns a single run scoped to the caller's tenant.
func (s *Server) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), tenantID(c), runID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns returns the tenant's runs, optionally filtered by
// conversation and status.
func (s *Server) ListRuns(c *gin.Context) {
	filters := models.RunFilters{
		TenantID: tenantID(c),
		Limit:    defaultListLimit,
	}

	if raw := c.Query("conversation_id"); raw != "" {
		conversationID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation_id"})
			return
		}
		filters.ConversationID = &conversationID
	}
	if raw := c.Query("status"); raw != "" {
		filters.Status = models.RunStatus(raw)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filters.Limit = limit
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), filters)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// StreamRunEvents replays a run's event stream as SSE. A Last-Event-ID
// header resumes after the given log entry, so a client that lost its
// chat connection picks up where it left off.
func (s *Server) StreamRunEvents(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	// Tenant check before tailing the log.
	if _, err := s.runs.GetRun(c.Request.Context(), tenantID(c), runID); err != nil {
		abortWithServiceError(c, err)
		return
	}

	setSSEHeaders(c)
	s.relayRunEvents(c, runID.String(), c.GetHeader("Last-Event-ID"))
}
