// Knowledge base API handlers
package handler

import (
	"net/http"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

const defaultSearchLimit = 5

// KnowledgeHandler handles knowledge document requests
type KnowledgeHandler struct {
	knowledge *service.KnowledgeService
}

func NewKnowledgeHandler(knowledge *service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

// RegisterRoutes registers knowledge routes
func (h *KnowledgeHandler) RegisterRoutes(r *gin.RouterGroup) {
	docs := r.Group("/organizations/:org/documents")
	{
		docs.GET("", h.ListDocuments)
		docs.POST("", h.IndexDocument)
		docs.DELETE("/:doc_id", h.DeleteDocument)
		docs.POST("/search", h.SearchDocuments)
	}
}

// ListDocuments lists indexed documents
// GET /api/organizations/:org/documents
func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	docs, err := h.knowledge.ListDocuments(c.Request.Context(), c.Param("org"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if docs == nil {
		docs = []db.KnowledgeDocument{}
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"count":     len(docs),
	})
}

// IndexDocument adds or replaces a document
// POST /api/organizations/:org/documents
func (h *KnowledgeHandler) IndexDocument(c *gin.Context) {
	var req models.IndexDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.knowledge.IndexDocument(c.Request.Context(), c.Param("org"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// DeleteDocument removes a document
// DELETE /api/organizations/:org/documents/:doc_id
func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	if err := h.knowledge.DeleteDocument(c.Request.Context(), c.Param("org"), c.Param("doc_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SearchDocuments runs a similarity search
// POST /api/organizations/:org/documents/search
func (h *KnowledgeHandler) SearchDocuments(c *gin.Context) {
	var req models.SearchDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	matches, err := h.knowledge.Search(c.Request.Context(), c.Param("org"), req.Query, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results": matches,
		"count":   len(matches),
	})
}
