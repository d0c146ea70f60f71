package server

import (
	"pollapp/internal/models"
	"pollapp/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SubmitVote handles POST /api/polls/:id/vote
// @Summary Vote on a poll
// @Description Signed-in users vote by account, others by client IP. Returns created or changed.
// @Tags votes
// @Accept json
// @Produce json
// @Param id path int true "Poll ID"
// @Param request body object{option_id=int} true "Choice"
// @Success 200 {object} service.VoteResult
// @Failure 400 {object} models.ErrorResponse "VALIDATION_ERROR, POLL_EXPIRED or ALREADY_VOTED"
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/{id}/vote [post]
func (s *Server) SubmitVote(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		OptionID uint `json:"option_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	caller, err := s.currentIdentity(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	result, err := s.voteService.SubmitVote(c.UserContext(), service.SubmitVoteInput{
		PollID:   pollID,
		OptionID: req.OptionID,
		Caller:   caller,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(result)
}

// GetVoteStatus handles GET /api/polls/:id/vote
// @Summary Caller's vote on a poll
// @Tags votes
// @Produce json
// @Param id path int true "Poll ID"
// @Success 200 {object} models.VoteStatus
// @Router /polls/{id}/vote [get]
func (s *Server) GetVoteStatus(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	caller, err := s.currentIdentity(c)
	if err != nil {
		return c.JSON(models.VoteStatus{})
	}
	return c.JSON(s.voteService.GetVoteStatus(c.UserContext(), pollID, caller))
}
