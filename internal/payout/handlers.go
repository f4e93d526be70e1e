package payout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mensahlabs/rentlink/internal/identity"
	"github.com/mensahlabs/rentlink/internal/logging"
)

// Handler provides HTTP endpoints for payout operations.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new payout handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterProtectedRoutes sets up payout routes requiring authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/request", identity.RequireRole(identity.RoleProvider, identity.RoleAdmin), h.RequestPayout)
	r.GET("/payouts/history/:providerId", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only payout routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/:id/fail", h.FailPayout)
}

// CreateRequest is the body of POST /v1/payouts/request. Amount is a
// json.Number so both 500 and "500" parse without float drift.
type CreateRequest struct {
	ProviderID    string      `json:"providerId"`
	Amount        json.Number `json:"amount" binding:"required"`
	Method        Method      `json:"method" binding:"required"`
	AccountNumber string      `json:"accountNumber" binding:"required"`
	AccountName   string      `json:"accountName" binding:"required"`
}

// FailRequest is the body of POST /v1/admin/payouts/:id/fail.
type FailRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RequestPayout handles POST /v1/payouts/request
func (h *Handler) RequestPayout(c *gin.Context) {
	principal, _ := identity.FromContext(c)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// Providers can only move their own earnings; admins may act for any.
	providerID := req.ProviderID
	if providerID == "" {
		providerID = principal.ID
	}
	if providerID != principal.ID && !identity.HasRole(principal, identity.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "insufficient_role",
			"message": "You can only request payouts for your own balance.",
		})
		return
	}

	request, err := h.ledger.RequestPayout(c.Request.Context(), RequestParams{
		ProviderID:    providerID,
		Amount:        req.Amount.String(),
		Method:        req.Method,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
	})
	if err != nil {
		var fieldErr *FieldError
		var insufficient *InsufficientFundsError
		switch {
		case errors.As(err, &fieldErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": fieldErr.Error(),
				"field":   fieldErr.Field,
			})
		case errors.As(err, &insufficient):
			logging.L(c.Request.Context()).Info("payout denied, insufficient funds",
				"provider", providerID, "balance", insufficient.Balance.String())
			c.JSON(http.StatusBadRequest, gin.H{
				"error":          "insufficient_funds",
				"message":        insufficient.Error(),
				"currentBalance": insufficient.Balance,
			})
		default:
			logging.L(c.Request.Context()).Error("payout request failed",
				"provider", providerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "An unexpected error occurred",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": request})
}

// GetHistory handles GET /v1/payouts/history/:providerId
func (h *Handler) GetHistory(c *gin.Context) {
	principal, _ := identity.FromContext(c)
	providerID := c.Param("providerId")

	if providerID != principal.ID && !identity.HasRole(principal, identity.RoleAdmin) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "insufficient_role",
			"message": "You can only view your own payout history.",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	history, err := h.ledger.History(c.Request.Context(), providerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	c.JSON(http.StatusOK, history)
}

// FailPayout handles POST /v1/admin/payouts/:id/fail, the manual hook for a
// settlement backend reporting failure. Restores the locked funds.
func (h *Handler) FailPayout(c *gin.Context) {
	id := c.Param("id")

	var req FailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	request, err := h.ledger.Fail(c.Request.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payout request not found",
			})
		case errors.Is(err, ErrAlreadySettled):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_state",
				"message": "Payout request already settled",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "An unexpected error occurred",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": request})
}
