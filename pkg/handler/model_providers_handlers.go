package handler

import (
	"net/http"

	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// GetPresets HTTP handler to return the provider catalog
func GetPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": models.LoadPresets()})
}

// ModelHandler checks model endpoint configurations.
type ModelHandler struct {
	models *service.ModelService
}

func NewModelHandler(ms *service.ModelService) *ModelHandler {
	return &ModelHandler{models: ms}
}

// RegisterRoutes registers model routes
func (h *ModelHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/models/providers", GetPresets)
	r.POST("/models/test", h.TestConnection)
}

// TestConnection sends a one-line prompt through the configured model
// POST /api/models/test
func (h *ModelHandler) TestConnection(c *gin.Context) {
	var cfg models.ModelConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}
	cfg.Normalize()
	if _, ok := models.SupportedModelProviders[cfg.Provider]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": "unsupported provider: " + cfg.Provider})
		return
	}

	if err := h.models.TestConnection(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusOK, gin.H{"code": 502, "message": "Connection failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok"})
}
