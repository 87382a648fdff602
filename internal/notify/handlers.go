package notify

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halcyonpay/sentinel/internal/idgen"
	"github.com/halcyonpay/sentinel/internal/security"
)

// Handler provides HTTP endpoints for delivery endpoint management
type Handler struct {
	store Store
}

// NewHandler creates a new notify handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up notification endpoint routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/notify/endpoints", h.CreateEndpoint)
	r.GET("/notify/endpoints", h.ListEndpoints)
	r.DELETE("/notify/endpoints/:endpointId", h.DeleteEndpoint)
}

// CreateEndpointRequest for registering a delivery endpoint
type CreateEndpointRequest struct {
	Channel string `json:"channel" binding:"required"`
	URL     string `json:"url" binding:"required"`
}

// CreateEndpoint handles POST /notify/endpoints
func (h *Handler) CreateEndpoint(c *gin.Context) {
	var req CreateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	switch Channel(req.Channel) {
	case ChannelOTP, ChannelCustomer, ChannelFraudTeam:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_channel",
			"message": "Channel must be one of: otp_delivery, customer_messaging, fraud_team",
		})
		return
	}

	// Reject URLs pointing at internal infrastructure
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	secret := idgen.Hex(32)
	ep := &Endpoint{
		ID:        idgen.WithPrefix("nep_"),
		Channel:   Channel(req.Channel),
		URL:       req.URL,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), ep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to register endpoint",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"endpoint": gin.H{
			"id":        ep.ID,
			"channel":   ep.Channel,
			"url":       ep.URL,
			"active":    ep.Active,
			"createdAt": ep.CreatedAt,
		},
		"secret": secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Sentinel-Signature",
		},
	})
}

// ListEndpoints handles GET /notify/endpoints
func (h *Handler) ListEndpoints(c *gin.Context) {
	channels := []Channel{ChannelOTP, ChannelCustomer, ChannelFraudTeam}

	// Don't expose secrets
	var endpoints []gin.H
	for _, ch := range channels {
		eps, err := h.store.GetByChannel(c.Request.Context(), ch)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "list_failed",
				"message": "Failed to list endpoints",
			})
			return
		}
		for _, ep := range eps {
			endpoints = append(endpoints, gin.H{
				"id":          ep.ID,
				"channel":     ep.Channel,
				"url":         ep.URL,
				"active":      ep.Active,
				"createdAt":   ep.CreatedAt,
				"lastSuccess": ep.LastSuccess,
				"lastError":   ep.LastError,
			})
		}
	}
	if endpoints == nil {
		endpoints = []gin.H{}
	}

	c.JSON(http.StatusOK, gin.H{
		"endpoints": endpoints,
	})
}

// DeleteEndpoint handles DELETE /notify/endpoints/:endpointId
func (h *Handler) DeleteEndpoint(c *gin.Context) {
	endpointID := c.Param("endpointId")

	if err := h.store.Delete(c.Request.Context(), endpointID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete endpoint",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Endpoint deleted",
	})
}
