package unlock

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mensahlabs/rentlink/internal/identity"
	"github.com/mensahlabs/rentlink/internal/logging"
	"github.com/mensahlabs/rentlink/internal/quota"
)

// Handler provides HTTP endpoints for contact unlocks.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new unlock handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterProtectedRoutes sets up unlock routes. All of them require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/unlock", identity.RequireRole(identity.RoleTenant, identity.RoleAdmin), h.Unlock)
	r.GET("/unlocks", h.History)
}

// UnlockRequest is the body of POST /v1/unlock.
type UnlockRequest struct {
	TargetID string `json:"targetId" binding:"required"`
}

// Unlock handles POST /v1/unlock
func (h *Handler) Unlock(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Bearer token required.",
		})
		return
	}

	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "targetId is required",
		})
		return
	}

	result, err := h.engine.Unlock(c.Request.Context(), principal, req.TargetID)
	if err != nil {
		var exhausted *quota.QuotaExhaustedError
		switch {
		case errors.As(err, &exhausted):
			// Policy denial, not a fault: the caller can render an upgrade prompt.
			logging.L(c.Request.Context()).Info("unlock denied, quota exhausted",
				"principal", principal.ID, "tier", exhausted.Tier)
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "quota_exhausted",
				"message": exhausted.Error(),
				"tier":    exhausted.Tier,
				"ceiling": exhausted.Ceiling,
			})
		case errors.Is(err, ErrTargetNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "target_not_found",
				"message": "Listing not found",
			})
		default:
			logging.L(c.Request.Context()).Error("unlock failed",
				"principal", principal.ID, "target", req.TargetID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "An unexpected error occurred",
			})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// History handles GET /v1/unlocks
func (h *Handler) History(c *gin.Context) {
	principal, ok := identity.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Bearer token required.",
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

	records, err := h.engine.History(c.Request.Context(), principal.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unlocks": records,
		"count":   len(records),
	})
}
