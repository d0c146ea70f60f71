package server

import (
	"pollapp/internal/policy"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags handles GET /api/admin/feature-flags
// @Summary Feature flags
// @Description Configured values and their evaluation for the caller
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} object{raw=map[string]string,evaluated=map[string]bool}
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/feature-flags [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	if err := s.policy.Authorize(actor, policy.Platform, policy.ViewFlags); err != nil {
		return respondServiceError(c, err)
	}

	if s.featureFlags == nil {
		return c.JSON(fiber.Map{
			"raw":       map[string]string{},
			"evaluated": map[string]bool{},
		})
	}
	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(actor.UserID),
	})
}
