package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"pollapp/internal/config"
	"pollapp/internal/models"
	"pollapp/internal/notifications"
	"pollapp/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen serves the env's app on a loopback port and wires the hub to Redis.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.srv.hub.StartWiring(ctx, e.srv.notifier))
	t.Cleanup(func() {
		cancel()
		_ = e.srv.hub.Shutdown(context.Background())
		_ = e.app.ShutdownWithTimeout(time.Second)
	})
	return ln.Addr().String()
}

func readEvent(t *testing.T, conn *websocket.Conn) notifications.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev notifications.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestLiveResults_StreamsVotes(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.account(t, "owner@example.com", models.RoleMember)
	voter, _ := e.account(t, "voter@example.com", models.RoleMember)
	poll := e.poll(t, owner.ID)
	addr := e.listen(t)

	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/api/ws/polls/%d", addr, poll.ID), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	snapshot := readEvent(t, conn)
	assert.Equal(t, "results_snapshot", snapshot.Type)
	assert.Equal(t, poll.ID, snapshot.PollID)

	_, err = e.srv.voteService.SubmitVote(context.Background(), service.SubmitVoteInput{
		PollID:   poll.ID,
		OptionID: poll.Options[1].ID,
		Caller:   models.UserIdentity(voter.ID),
	})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, service.EventVoteRecorded, ev.Type)
	payload, ok := ev.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "created", payload["status"])
	assert.EqualValues(t, poll.Options[1].ID, payload["option_id"])
	assert.Equal(t, 1, e.srv.hub.Viewers(poll.ID))
}

func TestLiveResults_UpgradeChecks(t *testing.T) {
	e := newTestEnv(t)
	owner, _ := e.account(t, "owner@example.com", models.RoleMember)
	poll := e.poll(t, owner.ID)

	resp := e.do(t, http.MethodGet, fmt.Sprintf("/api/ws/polls/%d", poll.ID), nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/ws/polls/777", nil)
	assertAPIError(t, resp, fiber.StatusNotFound, models.CodeNotFound)

	t.Run("flag off", func(t *testing.T) {
		e := newTestEnv(t, func(c *config.Config) { c.FeatureFlags = "live_results=off" })
		owner, _ := e.account(t, "owner@example.com", models.RoleMember)
		poll := e.poll(t, owner.ID)

		resp := e.do(t, http.MethodGet, fmt.Sprintf("/api/ws/polls/%d", poll.ID), nil)
		require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "Live results are not available", decode[models.ErrorResponse](t, resp).Error)
	})
}
