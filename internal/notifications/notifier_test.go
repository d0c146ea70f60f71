package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.Publish(context.Background(), PollChannel(1), Event{Type: "vote_recorded"}))
	n.PublishPoll(context.Background(), 1, "vote_recorded", nil)
	n.PublishBroadcast(context.Background(), "poll_created", nil)
	assert.NoError(t, n.StartPollSubscriber(context.Background(), func(string, string) {
		t.Fatal("no messages expected")
	}))
}

func TestPollChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "polls:42", PollChannel(42))

	tests := []struct {
		channel string
		id      uint
		ok      bool
	}{
		{"polls:42", 42, true},
		{"polls:0", 0, false},
		{"polls:abc", 0, false},
		{"notifications:broadcast", 0, false},
	}
	for _, tt := range tests {
		id, ok := ParsePollChannel(tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
		assert.Equal(t, tt.id, id, tt.channel)
	}
}

func TestNotifier_SubscriberReceivesEnvelope(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type message struct{ channel, payload string }
	got := make(chan message, 4)
	require.NoError(t, n.StartPollSubscriber(ctx, func(channel, payload string) {
		got <- message{channel, payload}
	}))

	n.PublishPoll(context.Background(), 7, "vote_recorded", map[string]any{"option_id": 3})

	select {
	case m := <-got:
		assert.Equal(t, "polls:7", m.channel)
		var ev struct {
			Type    string         `json:"type"`
			PollID  uint           `json:"poll_id"`
			Payload map[string]any `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(m.payload), &ev))
		assert.Equal(t, "vote_recorded", ev.Type)
		assert.Equal(t, uint(7), ev.PollID)
		assert.EqualValues(t, 3, ev.Payload["option_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	n.PublishBroadcast(context.Background(), "poll_created", map[string]any{"poll_id": 8})
	select {
	case m := <-got:
		assert.Equal(t, BroadcastChannel, m.channel)
		assert.Contains(t, m.payload, `"type":"poll_created"`)
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	rdb := setupRedis(t)
	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 4)
	require.NoError(t, n.StartPollSubscriber(ctx, func(_, payload string) { got <- payload }))
	cancel()

	assert.Eventually(t, func() bool {
		subs, err := rdb.PubSubNumPat(context.Background()).Result()
		return err == nil && subs == 0
	}, time.Second, 10*time.Millisecond)

	n.PublishPoll(context.Background(), 1, "after_cancel", nil)
	assert.Never(t, func() bool { return len(got) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
