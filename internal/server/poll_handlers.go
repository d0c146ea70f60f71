package server

import (
	"bytes"
	"fmt"

	"pollapp/internal/models"
	"pollapp/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetPolls handles GET /api/polls
// @Summary List public polls
// @Description Newest public polls first, with option tallies
// @Tags polls
// @Produce json
// @Param category query string false "Category filter"
// @Param status query string false "active or expired"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.PollPage
// @Failure 400 {object} models.ErrorResponse
// @Router /polls [get]
func (s *Server) GetPolls(c *fiber.Ctx) error {
	page := parsePagination(c, 20)
	result, err := s.pollService.ListPolls(c.UserContext(), service.ListPollsInput{
		Category: c.Query("category"),
		Status:   c.Query("status"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(result)
}

// GetTrendingPolls handles GET /api/polls/trending
// @Summary Trending polls
// @Description Open public polls ordered by votes over the last 24 hours
// @Tags polls
// @Produce json
// @Param limit query int false "Number of polls" default(10)
// @Success 200 {array} models.Poll
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/trending [get]
func (s *Server) GetTrendingPolls(c *fiber.Ctx) error {
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	polls, err := s.pollService.Trending(c.UserContext(), actor, c.QueryInt("limit", 10))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(polls)
}

// GetMyPolls handles GET /api/polls/mine
// @Summary My polls
// @Tags polls
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.Poll
// @Failure 401 {object} models.ErrorResponse
// @Router /polls/mine [get]
func (s *Server) GetMyPolls(c *fiber.Ctx) error {
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	polls, err := s.pollService.ListMine(c.UserContext(), actor)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(polls)
}

// GetPoll handles GET /api/polls/:id
// @Summary Get poll
// @Description Poll with options, tallies and owner
// @Tags polls
// @Produce json
// @Param id path int true "Poll ID"
// @Success 200 {object} models.Poll
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/{id} [get]
func (s *Server) GetPoll(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	poll, err := s.pollService.GetPoll(c.UserContext(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(poll)
}

// CreatePoll handles POST /api/polls
// @Summary Create poll
// @Tags polls
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body service.CreatePollInput true "Poll"
// @Success 201 {object} models.Poll
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /polls [post]
func (s *Server) CreatePoll(c *fiber.Ctx) error {
	var in service.CreatePollInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	poll, err := s.pollService.CreatePoll(c.UserContext(), actor, in)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(poll)
}

// UpdatePoll handles PATCH /api/polls/:id
// @Summary Update poll
// @Description Edit fields, rename options, add options and delete options
// @Tags polls
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Poll ID"
// @Param request body service.UpdatePollInput true "Changes"
// @Success 200 {object} models.Poll
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/{id} [patch]
func (s *Server) UpdatePoll(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var in service.UpdatePollInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	in.PollID = id

	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	poll, err := s.pollService.UpdatePoll(c.UserContext(), actor, in)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(poll)
}

// DeletePoll handles DELETE /api/polls/:id
// @Summary Delete poll
// @Description Deletes the poll with its options, votes, comments and reactions
// @Tags polls
// @Security BearerAuth
// @Param id path int true "Poll ID"
// @Success 200 {object} object{message=string}
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /polls/{id} [delete]
func (s *Server) DeletePoll(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	if err := s.pollService.DeletePoll(c.UserContext(), actor, id); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Poll deleted"})
}

// AddPollOption handles POST /api/polls/:id/options
// @Summary Add option
// @Tags polls
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path int true "Poll ID"
// @Param request body service.OptionInput true "Option"
// @Success 201 {object} models.Option
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /polls/{id}/options [post]
func (s *Server) AddPollOption(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var in service.OptionInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	option, err := s.pollService.AddOption(c.UserContext(), actor, id, in)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(option)
}

// DeletePollOption handles DELETE /api/polls/:id/options/:optionId
// @Summary Delete option
// @Description Removes the option and its votes; a poll keeps at least two options
// @Tags polls
// @Security BearerAuth
// @Param id path int true "Poll ID"
// @Param optionId path int true "Option ID"
// @Success 200 {object} object{message=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /polls/{id}/options/{optionId} [delete]
func (s *Server) DeletePollOption(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	optionID, err := parseID(c, "optionId")
	if err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	if err := s.pollService.DeleteOption(c.UserContext(), actor, id, optionID); err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Option deleted"})
}

// GetPollResults handles GET /api/polls/:id/results
// @Summary Detailed results
// @Description Every vote with the voter's name; anonymous voters show as "Anonymous"
// @Tags polls
// @Security BearerAuth
// @Produce json
// @Param id path int true "Poll ID"
// @Success 200 {object} service.PollResultsReport
// @Failure 403 {object} models.ErrorResponse
// @Router /polls/{id}/results [get]
func (s *Server) GetPollResults(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}
	report, err := s.pollService.Results(c.UserContext(), actor, id)
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(report)
}

// ExportPollResults handles GET /api/polls/:id/results/export
// @Summary Export results as CSV
// @Tags polls
// @Security BearerAuth
// @Produce text/csv
// @Param id path int true "Poll ID"
// @Success 200 {string} string "CSV file"
// @Failure 403 {object} models.ErrorResponse
// @Router /polls/{id}/results/export [get]
func (s *Server) ExportPollResults(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	actor, err := s.actorFor(c)
	if err != nil {
		return respondServiceError(c, err)
	}

	var buf bytes.Buffer
	filename, err := s.pollService.ExportCSV(c.UserContext(), actor, id, &buf)
	if err != nil {
		return respondServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(buf.Bytes())
}

// GetEmbeddedPoll handles GET /api/embed/polls/:id
// @Summary Embeddable poll view
// @Description Read-only poll JSON that third-party pages may frame
// @Tags embed
// @Produce json
// @Param id path int true "Poll ID"
// @Success 200 {object} models.Poll
// @Failure 404 {object} models.ErrorResponse
// @Router /embed/polls/{id} [get]
func (s *Server) GetEmbeddedPoll(c *fiber.Ctx) error {
	c.Response().Header.Del(fiber.HeaderXFrameOptions)
	c.Set(fiber.HeaderContentSecurityPolicy, "frame-ancestors *")

	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	poll, err := s.pollService.GetPoll(c.UserContext(), id)
	if err != nil {
		return respondServiceError(c, err)
	}
	if !poll.IsPublic {
		return respondServiceError(c, models.NewNotFoundError("Poll", id))
	}
	return c.JSON(poll)
}
