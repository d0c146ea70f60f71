package server

import (
	"github.com/gofiber/fiber/v2"
)

// AdminListUsers handles GET /api/admin/users
// @Summary List users
// @Description Users with poll and vote counts
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.User
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/users [get]
func (s *Server) AdminListUsers(c *fiber.Ctx) error {
	page := parsePagination(c, 50)
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	users, err := s.userService.ListUsers(c.UserContext(), actor, page.Limit, page.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(users)
}

// AdminUpdateUserRole handles PATCH /api/admin/users/:id/role
// @Summary Change a user's role
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body object{role=string} true "admin or member"
// @Success 200 {object} models.User
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/users/{id}/role [patch]
func (s *Server) AdminUpdateUserRole(c *fiber.Ctx) error {
	targetID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	user, err := s.userService.UpdateRole(c.UserContext(), actor, targetID, req.Role)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(user)
}

// AdminDeleteUser handles DELETE /api/admin/users/:id
// @Summary Delete a user
// @Description Removes the account with its votes, polls, comments and reactions
// @Tags admin
// @Security BearerAuth
// @Param id path int true "User ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /admin/users/{id} [delete]
func (s *Server) AdminDeleteUser(c *fiber.Ctx) error {
	targetID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	if err := s.userService.DeleteUser(c.UserContext(), actor, targetID); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "User deleted"})
}

// AdminAnalytics handles GET /api/admin/analytics
// @Summary Platform analytics
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.Analytics
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/analytics [get]
func (s *Server) AdminAnalytics(c *fiber.Ctx) error {
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	report, err := s.analyticsService.Report(c.UserContext(), actor)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(report)
}
