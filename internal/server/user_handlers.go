package server

import (
	"pollapp/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetMyProfile handles GET /api/users/me
// @Summary Current user
// @Tags users
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} models.ErrorResponse
// @Router /users/me [get]
func (s *Server) GetMyProfile(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	user, err := s.userService.GetUserByID(c.UserContext(), userID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Account no longer exists"))
		}
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// UpdateMyTheme handles PUT /api/users/me/theme
// @Summary Save theme preference
// @Tags users
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body object{theme=string} true "light or dark"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Router /users/me/theme [put]
func (s *Server) UpdateMyTheme(c *fiber.Ctx) error {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	user, err := s.userService.UpdateTheme(c.UserContext(), actor, req.Theme)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}
