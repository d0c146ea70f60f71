package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetReactions handles GET /api/polls/:id/reactions
// @Summary Reaction counts
// @Tags reactions
// @Produce json
// @Param id path int true "Poll ID"
// @Success 200 {array} models.ReactionCount
// @Router /polls/{id}/reactions [get]
func (s *Server) GetReactions(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	counts, err := s.reactionService.Counts(c.UserContext(), pollID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(counts)
}

// ToggleReaction handles POST /api/polls/:id/reactions
// @Summary Toggle a reaction
// @Tags reactions
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Poll ID"
// @Param request body object{emoji=string} true "Emoji"
// @Success 200 {object} service.ToggleReactionResult
// @Failure 400 {object} models.ErrorResponse
// @Router /polls/{id}/reactions [post]
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	result, err := s.reactionService.Toggle(c.UserContext(), actor, pollID, req.Emoji)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(result)
}
