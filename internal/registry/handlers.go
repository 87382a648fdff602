package registry

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/halcyonpay/sentinel/internal/logging"
	"github.com/halcyonpay/sentinel/internal/validation"
)

// Handler provides HTTP handlers for the registry API
type Handler struct {
	store Store
}

// NewHandler creates a new registry handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up the registry routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	// Customer management
	r.POST("/customers", h.RegisterCustomer)
	r.GET("/customers/:id", h.GetCustomer)
	r.GET("/customers/:id/cards", h.ListCustomerCards)

	// Card enrollment and protection state
	r.POST("/cards", h.RegisterCard)
	r.GET("/cards/:id", h.GetCard)
	r.POST("/cards/:id/unblock", h.UnblockCard)
}

// -----------------------------------------------------------------------------
// Customer Handlers
// -----------------------------------------------------------------------------

// RegisterCustomer handles POST /customers
func (h *Handler) RegisterCustomer(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req RegisterCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !IsKnownChannel(req.Channel) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_channel",
			"message": "Channel must be one of: sms, push, email",
		})
		return
	}

	customer := &Customer{
		Name:    validation.SanitizeString(req.Name, 200),
		Channel: req.Channel,
		Address: validation.SanitizeString(req.Address, 500),
	}

	if err := h.store.CreateCustomer(ctx, customer); err != nil {
		if errors.Is(err, ErrCustomerExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "customer_exists",
				"message": "Customer is already registered",
			})
			return
		}
		logger.Error("failed to register customer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register customer",
		})
		return
	}

	logger.Info("customer registered", "customer_id", customer.ID, "channel", customer.Channel)
	c.JSON(http.StatusCreated, customer)
}

// GetCustomer handles GET /customers/:id
func (h *Handler) GetCustomer(c *gin.Context) {
	ctx := c.Request.Context()

	customer, err := h.store.GetCustomer(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "customer_not_found",
				"message": "No customer with that ID",
			})
			return
		}
		logging.L(ctx).Error("failed to get customer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to fetch customer",
		})
		return
	}

	c.JSON(http.StatusOK, customer)
}

// ListCustomerCards handles GET /customers/:id/cards
func (h *Handler) ListCustomerCards(c *gin.Context) {
	ctx := c.Request.Context()

	cards, err := h.store.ListCardsByCustomer(ctx, c.Param("id"))
	if err != nil {
		logging.L(ctx).Error("failed to list cards", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list cards",
		})
		return
	}
	if cards == nil {
		cards = []*Card{}
	}

	c.JSON(http.StatusOK, gin.H{
		"cards": cards,
		"count": len(cards),
	})
}

// -----------------------------------------------------------------------------
// Card Handlers
// -----------------------------------------------------------------------------

// RegisterCard handles POST /cards
func (h *Handler) RegisterCard(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)

	var req RegisterCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("id", req.ID),
		validation.Required("customerId", req.CustomerID),
		validation.Required("bankId", req.BankID),
		validation.MaxLength("bankId", req.BankID, 100),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	card := &Card{
		ID:         req.ID,
		CustomerID: req.CustomerID,
		BankID:     req.BankID,
	}

	if err := h.store.CreateCard(ctx, card); err != nil {
		switch {
		case errors.Is(err, ErrCardExists):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "card_exists",
				"message": "Card is already enrolled",
			})
		case errors.Is(err, ErrCustomerNotFound):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "customer_not_found",
				"message": "Card owner must be registered first",
			})
		default:
			logger.Error("failed to enroll card", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to enroll card",
			})
		}
		return
	}

	logger.Info("card enrolled",
		"card_id", card.ID,
		"customer_id", card.CustomerID,
		"bank_id", card.BankID,
	)

	c.JSON(http.StatusCreated, card)
}

// GetCard handles GET /cards/:id
func (h *Handler) GetCard(c *gin.Context) {
	ctx := c.Request.Context()

	card, err := h.store.GetCard(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrCardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "card_not_found",
				"message": "No card with that ID",
			})
			return
		}
		logging.L(ctx).Error("failed to get card", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to fetch card",
		})
		return
	}

	c.JSON(http.StatusOK, card)
}

// UnblockCard handles POST /cards/:id/unblock
// Manual release by the fraud team after review; resets the attempt counter.
func (h *Handler) UnblockCard(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.L(ctx)
	cardID := c.Param("id")

	if err := h.store.UnblockCard(ctx, cardID); err != nil {
		if errors.Is(err, ErrCardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "card_not_found",
				"message": "No card with that ID",
			})
			return
		}
		logger.Error("failed to unblock card", "card_id", cardID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to unblock card",
		})
		return
	}

	logger.Info("card unblocked", "card_id", cardID)
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}
