package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the public listing read endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes sets up unauthenticated listing routes. Contact details
// are never serialized on this surface.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/listings/:id", h.GetListing)
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}
