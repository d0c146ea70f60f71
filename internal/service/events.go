package service

import (
	"context"
)

// Poll event types published on polls:<id>.
const (
	EventVoteRecorded = "vote_recorded"
	EventPollUpdated  = "poll_updated"
	EventPollClosed   = "poll_closed"
	EventPollDeleted  = "poll_deleted"
	EventPollCreated  = "poll_created"
)

// EventPublisher fans poll events out to realtime subscribers.
type EventPublisher interface {
	PublishPoll(ctx context.Context, pollID uint, eventType string, payload any)
	PublishBroadcast(ctx context.Context, eventType string, payload any)
}

type noopPublisher struct{}

func (noopPublisher) PublishPoll(context.Context, uint, string, any) {}
func (noopPublisher) PublishBroadcast(context.Context, string, any)  {}

// FlagChecker reports feature flag state.
type FlagChecker interface {
	Enabled(name string, userID uint) bool
	EnabledFor(name, subject string) bool
}

type allFlagsOn struct{}

func (allFlagsOn) Enabled(string, uint) bool      { return true }
func (allFlagsOn) EnabledFor(string, string) bool { return true }
