package adjudication

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halcyonpay/sentinel/internal/idgen"
	"github.com/halcyonpay/sentinel/internal/logging"
	"github.com/halcyonpay/sentinel/internal/registry"
	"github.com/halcyonpay/sentinel/internal/scoring"
	"github.com/halcyonpay/sentinel/internal/validation"
)

// Handler provides the transaction submission endpoint
type Handler struct {
	service *Service
}

// NewHandler creates a new adjudication handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up adjudication routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.SubmitTransaction)
}

// SubmitTransactionRequest is the transaction submission payload
type SubmitTransactionRequest struct {
	TransactionID    string    `json:"transactionId,omitempty"` // Optional caller-supplied ID
	CardID           string    `json:"cardId" binding:"required"`
	Amount           float64   `json:"amount" binding:"required"`
	Currency         string    `json:"currency" binding:"required"`
	MerchantID       string    `json:"merchantId" binding:"required"`
	MerchantCategory string    `json:"merchantCategory,omitempty"`
	Country          string    `json:"country,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"` // Defaults to receive time
}

// SubmitTransaction handles POST /transactions
func (h *Handler) SubmitTransaction(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	if errs := validation.Validate(
		validation.ValidID("transactionId", req.TransactionID),
		validation.Required("cardId", req.CardID),
		validation.PositiveAmount("amount", req.Amount),
		validation.ValidCurrency("currency", req.Currency),
		validation.MaxLength("merchantId", req.MerchantID, 100),
		validation.ValidTimestamp("timestamp", req.Timestamp),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if req.TransactionID == "" {
		req.TransactionID = idgen.WithPrefix("txn_")
	}

	tx := &scoring.TransactionContext{
		TransactionID:    req.TransactionID,
		CardID:           req.CardID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		MerchantID:       req.MerchantID,
		MerchantCategory: req.MerchantCategory,
		Country:          req.Country,
		Timestamp:        req.Timestamp,
	}

	result, err := h.service.Process(ctx, tx)
	if err != nil {
		if errors.Is(err, registry.ErrCardNotFound) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "unknown_card",
				"message": "Card is not enrolled",
			})
			return
		}
		logger.Error("adjudication failed", "transaction", req.TransactionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "adjudication_failed",
			"message": "Failed to adjudicate transaction",
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
