package handler

import (
	"net/http"

	"github.com/choraleia/helpdesk/pkg/tools"
	"github.com/gin-gonic/gin"
)

// ToolHandler lists the built-in tools playbooks can reference
type ToolHandler struct {
	tools *tools.BuiltinToolsService
}

func NewToolHandler(svc *tools.BuiltinToolsService) *ToolHandler {
	return &ToolHandler{tools: svc}
}

// RegisterRoutes registers tool routes
func (h *ToolHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tools", h.ListTools)
	r.GET("/tools/:id", h.GetTool)
}

// ListTools lists tools, optionally filtered by category
// GET /api/tools?category=customer_data
func (h *ToolHandler) ListTools(c *gin.Context) {
	var list []tools.BuiltinToolInfo
	if category := c.Query("category"); category != "" {
		list = h.tools.ListByCategory(category)
	} else {
		list = h.tools.ListAll()
	}
	if list == nil {
		list = []tools.BuiltinToolInfo{}
	}
	c.JSON(http.StatusOK, gin.H{
		"tools":      list,
		"categories": h.tools.GetCategories(),
	})
}

// GetTool returns one tool
// GET /api/tools/:id
func (h *ToolHandler) GetTool(c *gin.Context) {
	info, err := h.tools.GetToolInfo(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}
