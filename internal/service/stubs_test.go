package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pollapp/internal/models"
	"pollapp/internal/policy"
	"pollapp/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollRepoStub is a stub for repository.PollRepository.
type pollRepoStub struct {
	createFn         func(context.Context, *models.Poll) error
	getByIDFn        func(context.Context, uint) (*models.Poll, error)
	listFn           func(context.Context, repository.PollFilter) ([]models.Poll, int64, error)
	listByUserFn     func(context.Context, uint) ([]models.Poll, error)
	trendingFn       func(context.Context, time.Time, time.Time, int) ([]models.Poll, error)
	talliesFn        func(context.Context, uint) (*models.PollResults, error)
	freshTalliesFn   func(context.Context, uint) (*models.PollResults, error)
	updateFn         func(context.Context, *models.Poll, repository.OptionEdit) error
	addOptionFn      func(context.Context, *models.Option) error
	deleteOptionFn   func(context.Context, uint, uint) error
	deleteFn         func(context.Context, uint) error
	voterResultsFn   func(context.Context, uint) ([]models.VoterResult, error)
	expiredBetweenFn func(context.Context, time.Time, time.Time) ([]models.Poll, error)
}

func (s *pollRepoStub) Create(ctx context.Context, p *models.Poll) error { return s.createFn(ctx, p) }
func (s *pollRepoStub) GetByID(ctx context.Context, id uint) (*models.Poll, error) {
	return s.getByIDFn(ctx, id)
}
func (s *pollRepoStub) List(ctx context.Context, f repository.PollFilter) ([]models.Poll, int64, error) {
	return s.listFn(ctx, f)
}
func (s *pollRepoStub) ListByUser(ctx context.Context, userID uint) ([]models.Poll, error) {
	return s.listByUserFn(ctx, userID)
}
func (s *pollRepoStub) Trending(ctx context.Context, since, now time.Time, limit int) ([]models.Poll, error) {
	return s.trendingFn(ctx, since, now, limit)
}
func (s *pollRepoStub) Tallies(ctx context.Context, pollID uint) (*models.PollResults, error) {
	return s.talliesFn(ctx, pollID)
}
func (s *pollRepoStub) FreshTallies(ctx context.Context, pollID uint) (*models.PollResults, error) {
	if s.freshTalliesFn == nil {
		return s.talliesFn(ctx, pollID)
	}
	return s.freshTalliesFn(ctx, pollID)
}
func (s *pollRepoStub) Update(ctx context.Context, p *models.Poll, e repository.OptionEdit) error {
	return s.updateFn(ctx, p, e)
}
func (s *pollRepoStub) AddOption(ctx context.Context, o *models.Option) error {
	return s.addOptionFn(ctx, o)
}
func (s *pollRepoStub) DeleteOption(ctx context.Context, pollID, optionID uint) error {
	return s.deleteOptionFn(ctx, pollID, optionID)
}
func (s *pollRepoStub) Delete(ctx context.Context, id uint) error { return s.deleteFn(ctx, id) }
func (s *pollRepoStub) VoterResults(ctx context.Context, pollID uint) ([]models.VoterResult, error) {
	return s.voterResultsFn(ctx, pollID)
}
func (s *pollRepoStub) ExpiredBetween(ctx context.Context, from, to time.Time) ([]models.Poll, error) {
	return s.expiredBetweenFn(ctx, from, to)
}

// stubPoll is an open public poll owned by user 1 with options 10 and 11.
func stubPoll(mutators ...func(*models.Poll)) *models.Poll {
	p := &models.Poll{
		ID:        1,
		Title:     "Lunch?",
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		IsPublic:  true,
		UserID:    1,
		Options:   []models.Option{{ID: 10, PollID: 1, Text: "Pizza"}, {ID: 11, PollID: 1, Text: "Sushi"}},
	}
	for _, m := range mutators {
		m(p)
	}
	return p
}

func noopPollRepo(poll *models.Poll) *pollRepoStub {
	return &pollRepoStub{
		createFn: func(_ context.Context, p *models.Poll) error { p.ID = 1; return nil },
		getByIDFn: func(_ context.Context, id uint) (*models.Poll, error) {
			if poll == nil || id != poll.ID {
				return nil, models.NewNotFoundError("Poll", id)
			}
			cp := *poll
			cp.Options = append([]models.Option(nil), poll.Options...)
			return &cp, nil
		},
		listFn: func(_ context.Context, _ repository.PollFilter) ([]models.Poll, int64, error) {
			return nil, 0, nil
		},
		listByUserFn: func(_ context.Context, _ uint) ([]models.Poll, error) { return nil, nil },
		trendingFn: func(_ context.Context, _, _ time.Time, _ int) ([]models.Poll, error) {
			return nil, nil
		},
		talliesFn: func(_ context.Context, id uint) (*models.PollResults, error) {
			return &models.PollResults{PollID: id}, nil
		},
		updateFn:       func(_ context.Context, _ *models.Poll, _ repository.OptionEdit) error { return nil },
		addOptionFn:    func(_ context.Context, o *models.Option) error { o.ID = 99; return nil },
		deleteOptionFn: func(_ context.Context, _, _ uint) error { return nil },
		deleteFn:       func(_ context.Context, _ uint) error { return nil },
		voterResultsFn: func(_ context.Context, _ uint) ([]models.VoterResult, error) { return nil, nil },
		expiredBetweenFn: func(_ context.Context, _, _ time.Time) ([]models.Poll, error) {
			return nil, nil
		},
	}
}

// memVoteRepo is an in-memory repository.VoteRepository keyed like the
// unique index. beforeCreate runs before the uniqueness check.
type memVoteRepo struct {
	mu           sync.Mutex
	votes        map[string]*models.Vote
	nextID       uint
	writes       int
	findErr      error
	beforeCreate func(*models.Vote)
}

func newMemVoteRepo() *memVoteRepo {
	return &memVoteRepo{votes: map[string]*models.Vote{}}
}

func voteKey(pollID uint, voterKey string) string {
	return fmt.Sprintf("%d|%s", pollID, voterKey)
}

func (r *memVoteRepo) FindByIdentity(_ context.Context, pollID uint, who models.Identity) (*models.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	if v, ok := r.votes[voteKey(pollID, who.Key())]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (r *memVoteRepo) Create(_ context.Context, v *models.Vote) error {
	if r.beforeCreate != nil {
		r.beforeCreate(v)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := voteKey(v.PollID, v.VoterKey)
	if _, exists := r.votes[k]; exists {
		return repository.ErrDuplicateVote
	}
	r.nextID++
	v.ID = r.nextID
	v.CreatedAt = time.Now()
	cp := *v
	r.votes[k] = &cp
	r.writes++
	return nil
}

func (r *memVoteRepo) UpdateOption(_ context.Context, v *models.Vote, optionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.votes[voteKey(v.PollID, v.VoterKey)]
	if !ok {
		return models.NewNotFoundError("Vote", v.ID)
	}
	stored.OptionID = optionID
	v.OptionID = optionID
	r.writes++
	return nil
}

func (r *memVoteRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.votes)
}

type publishedEvent struct {
	pollID    uint
	eventType string
	payload   any
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishPoll(_ context.Context, pollID uint, eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{pollID: pollID, eventType: eventType, payload: payload})
}

func (p *recordingPublisher) PublishBroadcast(_ context.Context, eventType string, payload any) {
	p.PublishPoll(context.Background(), 0, eventType, payload)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// flagStub turns individual flags off.
type flagStub map[string]bool

func (f flagStub) Enabled(name string, _ uint) bool { return f.EnabledFor(name, "") }
func (f flagStub) EnabledFor(name, _ string) bool {
	on, ok := f[name]
	return !ok || on
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, models.ErrorCode(err), "error: %v", err)
}

// assertValidationError asserts that err is an AppError with code VALIDATION_ERROR.
func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeValidation)
}

func actorOf(userID uint, role models.Role) policy.Actor {
	if userID == 0 {
		return policy.Actor{}
	}
	return policy.Actor{UserID: userID, Role: role}
}
