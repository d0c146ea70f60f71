package server

import (
	"pollapp/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetComments handles GET /api/polls/:id/comments
// @Summary List comments
// @Tags comments
// @Produce json
// @Param id path int true "Poll ID"
// @Success 200 {array} models.Comment
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/{id}/comments [get]
func (s *Server) GetComments(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	comments, err := s.commentService.ListComments(c.UserContext(), pollID)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/polls/:id/comments
// @Summary Comment on a poll
// @Tags comments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Poll ID"
// @Param request body object{text=string} true "Comment"
// @Success 201 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Router /polls/{id}/comments [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	comment, err := s.commentService.CreateComment(c.UserContext(), actor, service.CreateCommentInput{
		PollID: pollID,
		Text:   req.Text,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// DeleteComment handles DELETE /api/polls/:id/comments/:commentId
// @Summary Delete comment
// @Description Allowed for the author, the poll owner and admins
// @Tags comments
// @Security BearerAuth
// @Param id path int true "Poll ID"
// @Param commentId path int true "Comment ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/{id}/comments/{commentId} [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	commentID, err := parseID(c, "commentId")
	if err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	if err := s.commentService.DeleteComment(c.UserContext(), actor, service.DeleteCommentInput{
		PollID:    pollID,
		CommentID: commentID,
	}); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Comment deleted"})
}
