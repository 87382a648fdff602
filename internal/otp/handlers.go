package otp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the OTP submission endpoint
type Handler struct {
	service *Service
}

// NewHandler creates a new OTP handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up OTP routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/otp", h.SubmitCode)
}

// SubmitCodeRequest carries the customer's code attempt
type SubmitCodeRequest struct {
	SubmittedCode string `json:"submitted_code" binding:"required"`
}

// SubmitCode handles POST /transactions/:id/otp
func (h *Handler) SubmitCode(c *gin.Context) {
	var req SubmitCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "submitted_code is required",
		})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), c.Param("id"), req.SubmittedCode)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "challenge_not_found",
				"message": "No challenge exists for this transaction",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "submit_failed",
			"message": "Failed to process code submission",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactionId": result.Challenge.TransactionID,
		"challengeId":   result.Challenge.ID,
		"outcome":       result.Outcome,
		"final":         outcomeAction(result.Outcome),
	})
}

// outcomeAction maps a challenge outcome onto the final transaction action
func outcomeAction(status Status) string {
	if status == StatusConfirmed {
		return "accept"
	}
	return "decline"
}
