package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/featureflags"
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/observability"
	"pollapp/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// VoteService records votes: one per identity per poll, changeable only when
// the poll allows it.
type VoteService struct {
	pollRepo repository.PollRepository
	voteRepo repository.VoteRepository
	flags    FlagChecker
	events   EventPublisher
	now      func() time.Time
}

// VoteServiceOption customises a VoteService.
type VoteServiceOption func(*VoteService)

// WithVoteClock replaces time.Now for expiry checks.
func WithVoteClock(now func() time.Time) VoteServiceOption {
	return func(s *VoteService) { s.now = now }
}

// WithVoteEvents sets the publisher notified after each recorded vote.
func WithVoteEvents(p EventPublisher) VoteServiceOption {
	return func(s *VoteService) { s.events = p }
}

// WithVoteFlags sets the feature flags consulted for anonymous voting.
func WithVoteFlags(f FlagChecker) VoteServiceOption {
	return func(s *VoteService) { s.flags = f }
}

func NewVoteService(pollRepo repository.PollRepository, voteRepo repository.VoteRepository, opts ...VoteServiceOption) *VoteService {
	s := &VoteService{
		pollRepo: pollRepo,
		voteRepo: voteRepo,
		flags:    allFlagsOn{},
		events:   noopPublisher{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SubmitVoteInput struct {
	PollID   uint
	OptionID uint
	Caller   models.Identity
}

// VoteResult is the outcome of a successful submission.
type VoteResult struct {
	Status models.VoteOutcome `json:"status"`
	Vote   *models.Vote       `json:"vote"`
}

// SubmitVote records the caller's choice. Checks run in a fixed order:
// option present, poll exists, poll open, caller eligible, option belongs to
// poll. A new identity gets a created vote; an existing one is moved when
// the poll allows changes and rejected with ALREADY_VOTED otherwise.
func (s *VoteService) SubmitVote(ctx context.Context, in SubmitVoteInput) (res *VoteResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "VoteService", "SubmitVote",
		attribute.Int64("poll.id", int64(in.PollID)),
		attribute.Bool("voter.anonymous", in.Caller.IsAnonymous()),
	)
	defer func() {
		observability.EndSpan(span, err)
		observability.VoteSubmitLatency.Observe(time.Since(start).Seconds())
		observability.VotesTotal.WithLabelValues(voteStatusLabel(res, err)).Inc()
	}()

	if in.OptionID == 0 {
		return nil, models.NewValidationError("Option ID is required")
	}

	poll, err := s.pollRepo.GetByID(ctx, in.PollID)
	if err != nil {
		return nil, err
	}
	if poll.IsExpired(s.now()) {
		return nil, models.NewExpiredError()
	}
	if err := s.checkEligible(poll, in.Caller); err != nil {
		return nil, err
	}
	if !poll.HasOption(in.OptionID) {
		return nil, models.NewValidationError("Invalid poll option")
	}

	existing, err := s.voteRepo.FindByIdentity(ctx, poll.ID, in.Caller)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.change(ctx, poll, existing, in.OptionID)
	}

	vote, err := models.NewVote(poll.ID, in.OptionID, in.Caller)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	err = s.voteRepo.Create(ctx, vote)
	if errors.Is(err, repository.ErrDuplicateVote) {
		// Another request for the same identity inserted first.
		winner, findErr := s.voteRepo.FindByIdentity(ctx, poll.ID, in.Caller)
		if findErr != nil {
			return nil, findErr
		}
		if winner == nil {
			return nil, models.NewInternalError(fmt.Errorf("vote for %s on poll %d vanished after conflict", in.Caller, poll.ID))
		}
		middleware.Logger.InfoContext(ctx, "concurrent vote absorbed",
			"poll_id", poll.ID, "voter", in.Caller.String())
		return s.change(ctx, poll, winner, in.OptionID)
	}
	if err != nil {
		return nil, err
	}

	s.recorded(ctx, poll, vote, models.VoteCreated)
	return &VoteResult{Status: models.VoteCreated, Vote: vote}, nil
}

func (s *VoteService) change(ctx context.Context, poll *models.Poll, vote *models.Vote, optionID uint) (*VoteResult, error) {
	if !poll.AllowVoteChange {
		return nil, models.NewAlreadyVotedError()
	}
	if err := s.voteRepo.UpdateOption(ctx, vote, optionID); err != nil {
		return nil, err
	}
	s.recorded(ctx, poll, vote, models.VoteChanged)
	return &VoteResult{Status: models.VoteChanged, Vote: vote}, nil
}

// checkEligible rejects callers that cannot own a vote on this poll.
func (s *VoteService) checkEligible(poll *models.Poll, who models.Identity) error {
	if !who.Resolved() {
		return models.NewUnauthorizedError("Unable to identify voter")
	}
	if !who.IsAnonymous() {
		return nil
	}
	if !poll.IsPublic {
		return models.NewUnauthorizedError("Please sign in to vote on this poll")
	}
	if !s.flags.EnabledFor(featureflags.AnonymousVoting, who.Key()) {
		return models.NewUnauthorizedError("Please sign in to vote")
	}
	return nil
}

func (s *VoteService) recorded(ctx context.Context, poll *models.Poll, vote *models.Vote, outcome models.VoteOutcome) {
	cache.InvalidatePoll(ctx, poll.ID)

	payload := map[string]any{
		"poll_id":   poll.ID,
		"option_id": vote.OptionID,
		"status":    outcome,
	}
	// Counted on the primary so the event never carries, or caches, replica-lagged numbers.
	if results, err := s.pollRepo.FreshTallies(ctx, poll.ID); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to load tallies for vote event", "poll_id", poll.ID, "error", err)
	} else {
		payload["results"] = results
	}
	s.events.PublishPoll(ctx, poll.ID, EventVoteRecorded, payload)
}

// GetVoteStatus reports whether the caller voted on the poll and for which
// option. It never fails: lookup errors are logged and read as "not voted".
func (s *VoteService) GetVoteStatus(ctx context.Context, pollID uint, caller models.Identity) models.VoteStatus {
	if !caller.Resolved() {
		return models.VoteStatus{}
	}
	vote, err := s.voteRepo.FindByIdentity(ctx, pollID, caller)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "vote status lookup failed",
			"poll_id", pollID, "voter", caller.String(), "error", err)
		return models.VoteStatus{}
	}
	if vote == nil {
		return models.VoteStatus{}
	}
	optionID := vote.OptionID
	return models.VoteStatus{HasVoted: true, OptionID: &optionID}
}

func voteStatusLabel(res *VoteResult, err error) string {
	if err == nil && res != nil {
		return string(res.Status)
	}
	if code := models.ErrorCode(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
