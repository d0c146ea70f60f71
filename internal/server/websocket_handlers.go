package server

import (
	"context"
	"encoding/json"

	"pollapp/internal/featureflags"
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// LiveResultsUpgrade validates a live results request before the upgrade:
// the feature must be on, the poll must exist and the request must be a
// websocket handshake.
func (s *Server) LiveResultsUpgrade(c *fiber.Ctx) error {
	pollID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	userID, _ := s.optionalUserID(c)
	if s.featureFlags != nil && !s.featureFlags.Enabled(featureflags.LiveResults, userID) {
		return models.RespondWithError(c, fiber.StatusNotFound,
			&models.AppError{Code: models.CodeNotFound, Message: "Live results are not available"})
	}
	if s.hub == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			&models.AppError{Code: models.CodeInternal, Message: "Live results are temporarily unavailable"})
	}
	if _, err := s.pollRepo.GetByID(c.UserContext(), pollID); err != nil {
		return respondServiceError(c, err)
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	c.Locals("pollID", pollID)
	return c.Next()
}

// LiveResultsHandler streams vote and poll events for one poll.
// @Summary Live results
// @Description Websocket stream of vote_recorded, poll_updated, poll_closed and poll_deleted events
// @Tags polls
// @Param id path int true "Poll ID"
// @Success 101
// @Failure 404 {object} models.ErrorResponse
// @Router /ws/polls/{id} [get]
func (s *Server) LiveResultsHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		pollID, _ := conn.Locals("pollID").(uint)
		client, err := s.hub.Register(pollID, conn)
		if err != nil {
			middleware.Logger.Warn("live results registration failed", "poll_id", pollID, "error", err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"`+err.Error()+`"}}`))
			_ = conn.Close()
			return
		}

		if snapshot, err := s.resultsSnapshot(context.Background(), pollID); err == nil {
			client.TrySend(snapshot)
		} else {
			middleware.Logger.Warn("live results snapshot failed", "poll_id", pollID, "error", err)
		}

		go client.WritePump()
		client.ReadPump()
	})
}

// resultsSnapshot encodes the poll's current tallies as the first message of a stream.
func (s *Server) resultsSnapshot(ctx context.Context, pollID uint) ([]byte, error) {
	tallies, err := s.pollRepo.Tallies(ctx, pollID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notifications.Event{
		Type:    "results_snapshot",
		PollID:  pollID,
		Payload: tallies,
	})
}
