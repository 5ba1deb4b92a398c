// Conversation API handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// ConversationHandler exposes message ingest and orchestration status.
type ConversationHandler struct {
	ingest *service.IngestService
	engine *orchestrator.Engine
}

func NewConversationHandler(ingest *service.IngestService, engine *orchestrator.Engine) *ConversationHandler {
	return &ConversationHandler{ingest: ingest, engine: engine}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r *gin.RouterGroup) {
	org := r.Group("/organizations/:org")
	{
		org.POST("/conversations", h.PostMessage)
		org.POST("/conversations/:id/messages", h.PostMessage)
		org.GET("/conversations/:id/messages", h.ListMessages)
		org.POST("/conversations/:id/agent-messages", h.PostAgentMessage)
		org.GET("/conversations/:id/status", h.GetStatus)
		org.POST("/conversations/:id/context/reset", h.ResetContext)
		org.POST("/inactivity/check", h.CheckInactivity)
	}
}

// PostMessage accepts a customer message. Without :id a new conversation is started.
// POST /api/organizations/:org/conversations/:id/messages
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req models.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.ingest.ReceiveCustomerMessage(c.Request.Context(), c.Param("org"), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// ListMessages returns the transcript
// GET /api/organizations/:org/conversations/:id/messages
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.ingest.Messages(c.Request.Context(), c.Param("org"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []db.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// PostAgentMessage records a human agent reply
// POST /api/organizations/:org/conversations/:id/agent-messages
func (h *ConversationHandler) PostAgentMessage(c *gin.Context) {
	var req models.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.ingest.PostAgentMessage(c.Request.Context(), c.Param("org"), c.Param("id"), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GetStatus returns the orchestration status
// GET /api/organizations/:org/conversations/:id/status
func (h *ConversationHandler) GetStatus(c *gin.Context) {
	st, err := h.ingest.ConversationStatus(c.Request.Context(), c.Param("org"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ResetContext starts a new context epoch
// POST /api/organizations/:org/conversations/:id/context/reset
func (h *ConversationHandler) ResetContext(c *gin.Context) {
	if err := h.engine.ResetContext(c.Request.Context(), c.Param("id"), c.Param("org")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CheckInactivity runs one inactivity sweep for the organization
// POST /api/organizations/:org/inactivity/check
func (h *ConversationHandler) CheckInactivity(c *gin.Context) {
	h.engine.CheckInactiveConversations(c.Request.Context(), c.Param("org"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrConversationNotFound),
		errors.Is(err, service.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrConversationBusy),
		errors.Is(err, db.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVectorStoreDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
