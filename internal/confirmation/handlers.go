package confirmation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the confirmation response endpoint
type Handler struct {
	service *Service
}

// NewHandler creates a new confirmation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up confirmation routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/confirmations/:id/respond", h.Respond)
	r.GET("/confirmations/:id", h.GetRequest)
}

// RespondRequest carries the customer's answer.
// FlaggedAsFraud is a pointer so an explicit false passes binding.
type RespondRequest struct {
	FlaggedAsFraud *bool `json:"flagged_as_fraud" binding:"required"`
}

// Respond handles POST /confirmations/:id/respond
func (h *Handler) Respond(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "flagged_as_fraud is required",
		})
		return
	}

	result, err := h.service.Respond(c.Request.Context(), c.Param("id"), *req.FlaggedAsFraud)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "confirmation_not_found",
				"message": "No confirmation request with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "respond_failed",
			"message": "Failed to process response",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"confirmationId": result.Request.ID,
		"transactionId":  result.Request.TransactionID,
		"outcome":        result.Outcome,
		"late":           result.Late,
	})
}

// GetRequest handles GET /confirmations/:id
func (h *Handler) GetRequest(c *gin.Context) {
	req, err := h.service.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "confirmation_not_found",
				"message": "No confirmation request with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": "Failed to load confirmation request",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"confirmation": req})
}
