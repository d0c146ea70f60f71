// Package jobs runs scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/middleware"
	"pollapp/internal/observability"
	"pollapp/internal/repository"
	"pollapp/internal/service"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = 30 * time.Second

// ExpirySweeper announces polls whose deadline passed since the previous run.
type ExpirySweeper struct {
	polls  repository.PollRepository
	events service.EventPublisher
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewExpirySweeper starts the sweep window at the current time.
func NewExpirySweeper(polls repository.PollRepository, events service.EventPublisher, now func() time.Time) *ExpirySweeper {
	if now == nil {
		now = time.Now
	}
	return &ExpirySweeper{polls: polls, events: events, now: now, last: now()}
}

// Run publishes poll_closed for each poll that expired in (last, now] and
// drops its cached tallies. The window only advances on success.
func (s *ExpirySweeper) Run(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	polls, err := s.polls.ExpiredBetween(ctx, s.last, now)
	if err != nil {
		return 0, fmt.Errorf("find expired polls: %w", err)
	}
	for _, p := range polls {
		cache.InvalidatePoll(ctx, p.ID)
		s.events.PublishPoll(ctx, p.ID, service.EventPollClosed, map[string]any{
			"poll_id":    p.ID,
			"expires_at": p.ExpiresAt,
		})
		observability.PollsClosedTotal.Inc()
	}
	s.last = now
	return len(polls), nil
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers the expiry sweep on schedule (cron spec or
// "@every <duration>").
func NewScheduler(schedule string, sweeper *ExpirySweeper) (*Scheduler, error) {
	logger := cronLogger{middleware.Logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		n, err := sweeper.Run(ctx)
		if err != nil {
			middleware.Logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			return
		}
		if n > 0 {
			middleware.Logger.InfoContext(ctx, "expiry sweep closed polls", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid expiry sweep schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
