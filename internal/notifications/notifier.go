// Package notifications fans poll events out over Redis pub/sub and the
// live results websocket hub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"pollapp/internal/middleware"
	"pollapp/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	pollChannelPrefix = "polls:"
	// BroadcastChannel carries events for every connected client.
	BroadcastChannel = "notifications:broadcast"
)

// Event is the JSON envelope published on every channel.
type Event struct {
	Type    string `json:"type"`
	PollID  uint   `json:"poll_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Notifier publishes poll events into Redis channels. A nil client turns
// every publish into a no-op.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PollChannel derives the Redis channel name for a poll.
func PollChannel(pollID uint) string {
	return pollChannelPrefix + strconv.FormatUint(uint64(pollID), 10)
}

// ParsePollChannel extracts the poll id from a polls:<id> channel.
func ParsePollChannel(channel string) (uint, bool) {
	raw, ok := strings.CutPrefix(channel, pollChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// Publish sends ev to channel.
func (n *Notifier) Publish(ctx context.Context, channel string, ev Event) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := n.rdb.Publish(ctx, channel, data).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return fmt.Errorf("publish %s to %s: %w", ev.Type, channel, err)
	}
	return nil
}

// PublishPoll sends an event to the poll's channel. Failures are logged;
// a lost event never fails the write that caused it.
func (n *Notifier) PublishPoll(ctx context.Context, pollID uint, eventType string, payload any) {
	ev := Event{Type: eventType, PollID: pollID, Payload: payload}
	if err := n.Publish(ctx, PollChannel(pollID), ev); err != nil {
		middleware.Logger.WarnContext(ctx, "poll event not published", "poll_id", pollID, "type", eventType, "error", err)
	}
}

// PublishBroadcast sends an event to every subscriber.
func (n *Notifier) PublishBroadcast(ctx context.Context, eventType string, payload any) {
	if err := n.Publish(ctx, BroadcastChannel, Event{Type: eventType, Payload: payload}); err != nil {
		middleware.Logger.WarnContext(ctx, "broadcast event not published", "type", eventType, "error", err)
	}
}

// StartPollSubscriber subscribes to `polls:*` and the broadcast channel and
// calls onMessage for each incoming message until ctx is cancelled.
func (n *Notifier) StartPollSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, pollChannelPrefix+"*", BroadcastChannel)
	// Wait for the subscription to be confirmed so no early publish is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		observability.RedisErrorRate.WithLabelValues("subscribe").Inc()
		return fmt.Errorf("subscribe to poll events: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in poll subscriber", "panic", r, "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
