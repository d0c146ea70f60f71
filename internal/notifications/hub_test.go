package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.Send:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("no message")
		return ""
	}
}

func TestHub_BroadcastReachesOnlyTheRoom(t *testing.T) {
	hub := NewHub()
	defer func() { _ = hub.Shutdown(context.Background()) }()

	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	b, err := hub.Register(2, nil)
	require.NoError(t, err)

	hub.Broadcast(1, []byte("tally"))
	assert.Equal(t, "tally", receive(t, a))
	assert.Empty(t, b.Send)

	hub.BroadcastAll([]byte("all"))
	assert.Equal(t, "all", receive(t, a))
	assert.Equal(t, "all", receive(t, b))
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()

	c, err := hub.Register(3, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Viewers(3))

	hub.UnregisterClient(c)
	hub.UnregisterClient(c)
	assert.Zero(t, hub.Viewers(3))

	_, open := <-c.Send
	assert.False(t, open)

	// Sending to a removed client must not panic.
	c.TrySend([]byte("late"))
}

func TestHub_SlowClientGetsDropNotice(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(4, nil)
	require.NoError(t, err)

	for i := 0; i < sendBuffer+5; i++ {
		hub.Broadcast(4, []byte("tally"))
	}
	assert.Len(t, c.Send, sendBuffer)
}

func TestHub_ShutdownRejectsNewViewers(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(5, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	_, open := <-c.Send
	assert.False(t, open)

	_, err = hub.Register(5, nil)
	assert.ErrorIs(t, err, ErrHubShutdown)
	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestHub_WiringForwardsPollEvents(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, hub.StartWiring(ctx, n))
	watcher, err := hub.Register(9, nil)
	require.NoError(t, err)
	other, err := hub.Register(10, nil)
	require.NoError(t, err)

	n.PublishPoll(context.Background(), 9, "vote_recorded", map[string]any{"option_id": 1})
	assert.Contains(t, receive(t, watcher), `"type":"vote_recorded"`)

	n.PublishBroadcast(context.Background(), "poll_created", nil)
	assert.Contains(t, receive(t, watcher), `"type":"poll_created"`)
	assert.Contains(t, receive(t, other), `"type":"poll_created"`)
	assert.Empty(t, other.Send)
}
