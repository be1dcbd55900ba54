package api

import (
	"net/http"

	"subscription-api/internal/response"
	"subscription-api/internal/services"

	"github.com/gin-gonic/gin"
)

// GetSubscriptionStatus gets subscription status
// GET /api/subscription/status?user_id=xxx
func (h *Handler) GetSubscriptionStatus(c *gin.Context) {
	userID, ok := parseID(c, c.Query("user_id"), "user_id")
	if !ok {
		return
	}

	status, err := h.subscriptions.GetSubscriptionStatus(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, status)
}

// IsSubscriptionValid reports whether the user has access right now
// GET /api/subscription/valid?user_id=xxx
func (h *Handler) IsSubscriptionValid(c *gin.Context) {
	userID, ok := parseID(c, c.Query("user_id"), "user_id")
	if !ok {
		return
	}

	valid, err := h.subscriptions.IsSubscriptionValid(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, gin.H{"user_id": userID, "valid": valid})
}

// CreateSubscription grants a catalog product
// POST /api/subscription/create
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req services.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	result, err := h.subscriptions.CreateSubscription(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if result.Duplicate {
		response.MessageJSON(c, http.StatusOK, "Transaction already processed", result)
		return
	}
	response.MessageJSON(c, http.StatusCreated, "Subscription created", result)
}

// VerifyPurchase verifies a receipt or purchase token submitted by the client
// POST /api/subscription/verify
func (h *Handler) VerifyPurchase(c *gin.Context) {
	var req services.VerifyPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	result, err := h.subscriptions.VerifyPurchase(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	message := "Purchase verified"
	if result.Duplicate {
		message = "Purchase already processed"
	}
	response.MessageJSON(c, http.StatusOK, message, result)
}

// CancelSubscriptionRequest represents cancel subscription request
type CancelSubscriptionRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// CancelSubscription turns off auto-renew for the user
// POST /api/subscription/cancel
func (h *Handler) CancelSubscription(c *gin.Context) {
	var req CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	status, err := h.subscriptions.CancelSubscription(c.Request.Context(), req.UserID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.MessageJSON(c, http.StatusOK, "Subscription cancelled", status)
}

// ListProducts lists the active catalog
// GET /api/subscription/products?platform=AppStore
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.subscriptions.ListProducts(c.Request.Context(), c.Query("platform"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.SuccessJSON(c, products)
}
