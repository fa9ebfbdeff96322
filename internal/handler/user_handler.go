package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/thesis-track-api/internal/models"
	appErrors "github.com/noah-isme/thesis-track-api/pkg/errors"
	"github.com/noah-isme/thesis-track-api/pkg/response"
)

type userService interface {
	ListGuides(ctx context.Context) ([]models.User, error)
	Profile(ctx context.Context, id string) (*models.User, error)
}

// UserHandler exposes the user roster endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler constructs the handler.
func NewUserHandler(service userService) *UserHandler {
	return &UserHandler{service: service}
}

// Guides godoc
// @Summary List active guides
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/guides [get]
func (h *UserHandler) Guides(c *gin.Context) {
	guides, err := h.service.ListGuides(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, guides, nil)
}

// Profile godoc
// @Summary Current user's profile
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Profile(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	user, err := h.service.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
