package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/halcyonpay/sentinel/internal/logging"
)

// Handler provides HTTP endpoints for audit trail queries
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cards/:id/ledger", h.GetCardHistory)
	r.GET("/transactions/:id/ledger", h.GetTransactionHistory)
	r.GET("/transactions/:id/decision", h.GetDecision)
	r.GET("/feed", h.GetFeed)
}

// GetCardHistory handles GET /cards/:id/ledger
func (h *Handler) GetCardHistory(c *gin.Context) {
	ctx := c.Request.Context()

	limit := parseLimit(c.Query("limit"), 100)
	entries, err := h.ledger.CardHistory(ctx, c.Param("id"), limit)
	if err != nil {
		logging.L(ctx).Error("failed to fetch card history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve card history",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetTransactionHistory handles GET /transactions/:id/ledger
func (h *Handler) GetTransactionHistory(c *gin.Context) {
	ctx := c.Request.Context()

	entries, err := h.ledger.History(ctx, c.Param("id"))
	if err != nil {
		logging.L(ctx).Error("failed to fetch transaction history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve transaction history",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetDecision handles GET /transactions/:id/decision
func (h *Handler) GetDecision(c *gin.Context) {
	ctx := c.Request.Context()

	entry, err := h.ledger.GetDecision(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "decision_not_found",
				"message": "No decision recorded for that transaction",
			})
			return
		}
		logging.L(ctx).Error("failed to fetch decision", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve decision",
		})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// GetFeed handles GET /feed - the newest entries across all cards
func (h *Handler) GetFeed(c *gin.Context) {
	ctx := c.Request.Context()

	limit := parseLimit(c.Query("limit"), 50)
	entries, err := h.ledger.Recent(ctx, limit)
	if err != nil {
		logging.L(ctx).Error("failed to fetch feed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve feed",
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
