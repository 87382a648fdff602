package cases

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/halcyonpay/sentinel/internal/logging"
)

// Handler provides HTTP endpoints for fraud case review
type Handler struct {
	store Store
}

// NewHandler creates a new cases handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up case routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cases/:id", h.GetCase)
	r.GET("/cards/:id/cases", h.ListCardCases)
	r.POST("/cases/:id/close", h.CloseCase)
}

// GetCase handles GET /cases/:id
func (h *Handler) GetCase(c *gin.Context) {
	ctx := c.Request.Context()

	fc, err := h.store.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "case_not_found",
				"message": "No case with that ID",
			})
			return
		}
		logging.L(ctx).Error("failed to get case", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to fetch case",
		})
		return
	}

	c.JSON(http.StatusOK, fc)
}

// ListCardCases handles GET /cards/:id/cases
func (h *Handler) ListCardCases(c *gin.Context) {
	ctx := c.Request.Context()

	list, err := h.store.ListByCard(ctx, c.Param("id"))
	if err != nil {
		logging.L(ctx).Error("failed to list cases", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list cases",
		})
		return
	}
	if list == nil {
		list = []*FraudCase{}
	}

	c.JSON(http.StatusOK, gin.H{
		"cases": list,
		"count": len(list),
	})
}

// CloseCase handles POST /cases/:id/close
// Closed by the fraud team once the incident is resolved.
func (h *Handler) CloseCase(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	caseID := c.Param("id")

	if err := h.store.Close(ctx, caseID); err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "case_not_found",
				"message": "No case with that ID",
			})
			return
		}
		logger.Error("failed to close case", "case_id", caseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to close case",
		})
		return
	}

	logger.Info("fraud case closed", "case_id", caseID)
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}
