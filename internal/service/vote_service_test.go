package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pollapp/internal/featureflags"
	"pollapp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pollStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type voteFixture struct {
	svc    *VoteService
	poll   *models.Poll
	votes  *memVoteRepo
	events *recordingPublisher
	clock  *testClock
}

// newVoteFixture builds a service around poll 1 (options 10 and 11) that
// expires 24h after pollStart.
func newVoteFixture(t *testing.T, mutators ...func(*models.Poll)) *voteFixture {
	t.Helper()
	poll := stubPoll(append([]func(*models.Poll){func(p *models.Poll) {
		p.ExpiresAt = pollStart.Add(24 * time.Hour)
	}}, mutators...)...)
	f := &voteFixture{
		poll:   poll,
		votes:  newMemVoteRepo(),
		events: &recordingPublisher{},
		clock:  &testClock{now: pollStart.Add(time.Hour)},
	}
	f.svc = NewVoteService(noopPollRepo(poll), f.votes,
		WithVoteClock(f.clock.Now),
		WithVoteEvents(f.events),
	)
	return f
}

func (f *voteFixture) submit(optionID uint, who models.Identity) (*VoteResult, error) {
	return f.svc.SubmitVote(context.Background(), SubmitVoteInput{PollID: f.poll.ID, OptionID: optionID, Caller: who})
}

func allowChange(p *models.Poll) { p.AllowVoteChange = true }

func TestVoteService_ScenarioChangesDisallowed(t *testing.T) {
	f := newVoteFixture(t)
	user1 := models.UserIdentity(1)

	res, err := f.submit(10, user1)
	require.NoError(t, err)
	assert.Equal(t, models.VoteCreated, res.Status)
	assert.Equal(t, uint(10), res.Vote.OptionID)

	f.clock.Set(pollStart.Add(2 * time.Hour))
	_, err = f.submit(11, user1)
	assertCode(t, err, models.CodeAlreadyVoted)

	status := f.svc.GetVoteStatus(context.Background(), f.poll.ID, user1)
	require.True(t, status.HasVoted)
	assert.Equal(t, uint(10), *status.OptionID)

	f.clock.Set(pollStart.Add(25 * time.Hour))
	_, err = f.submit(10, user1)
	assertCode(t, err, models.CodeExpired)

	assert.Equal(t, 1, f.votes.writes)
}

func TestVoteService_ScenarioChangesAllowed(t *testing.T) {
	f := newVoteFixture(t, allowChange)
	user1 := models.UserIdentity(1)

	res, err := f.submit(10, user1)
	require.NoError(t, err)
	assert.Equal(t, models.VoteCreated, res.Status)
	firstID := res.Vote.ID
	createdAt := res.Vote.CreatedAt

	res, err = f.submit(11, user1)
	require.NoError(t, err)
	assert.Equal(t, models.VoteChanged, res.Status)
	assert.Equal(t, firstID, res.Vote.ID)
	assert.Equal(t, uint(11), res.Vote.OptionID)
	assert.True(t, createdAt.Equal(res.Vote.CreatedAt))

	status := f.svc.GetVoteStatus(context.Background(), f.poll.ID, user1)
	assert.Equal(t, models.VoteStatus{HasVoted: true, OptionID: ptr(uint(11))}, status)
	assert.Equal(t, 1, f.votes.count())
}

func TestVoteService_ScenarioAnonymousCaller(t *testing.T) {
	f := newVoteFixture(t)
	anon := models.AnonymousIdentity("1.2.3.4")

	res, err := f.submit(10, anon)
	require.NoError(t, err)
	assert.Equal(t, models.VoteCreated, res.Status)
	require.NotNil(t, res.Vote.IPAddress)
	assert.Equal(t, "1.2.3.4", *res.Vote.IPAddress)
	assert.Nil(t, res.Vote.UserID)

	_, err = f.submit(11, anon)
	assertCode(t, err, models.CodeAlreadyVoted)
}

func TestVoteService_ResubmittingSameOption(t *testing.T) {
	t.Run("changes disallowed", func(t *testing.T) {
		f := newVoteFixture(t)
		_, err := f.submit(10, models.UserIdentity(1))
		require.NoError(t, err)
		_, err = f.submit(10, models.UserIdentity(1))
		assertCode(t, err, models.CodeAlreadyVoted)
		assert.Equal(t, 1, f.votes.writes)
	})

	t.Run("changes allowed", func(t *testing.T) {
		f := newVoteFixture(t, allowChange)
		_, err := f.submit(10, models.UserIdentity(1))
		require.NoError(t, err)
		res, err := f.submit(10, models.UserIdentity(1))
		require.NoError(t, err)
		assert.Equal(t, models.VoteChanged, res.Status)
	})
}

func TestVoteService_CheckOrder(t *testing.T) {
	tests := []struct {
		name     string
		pollID   uint
		optionID uint
		caller   models.Identity
		at       time.Time
		mutate   func(*models.Poll)
		flags    flagStub
		wantCode string
	}{
		{
			name:     "missing option wins over missing poll",
			pollID:   404,
			optionID: 0,
			caller:   models.UserIdentity(1),
			wantCode: models.CodeValidation,
		},
		{
			name:     "missing poll",
			pollID:   404,
			optionID: 10,
			caller:   models.UserIdentity(1),
			wantCode: models.CodeNotFound,
		},
		{
			name:     "expiry wins over unresolved caller and foreign option",
			optionID: 999,
			caller:   models.AnonymousIdentity(models.UnknownIP),
			at:       pollStart.Add(48 * time.Hour),
			wantCode: models.CodeExpired,
		},
		{
			name:     "unresolved caller wins over foreign option",
			optionID: 999,
			caller:   models.AnonymousIdentity(models.UnknownIP),
			wantCode: models.CodeUnauthorized,
		},
		{
			name:     "zero identity",
			optionID: 10,
			caller:   models.Identity{},
			wantCode: models.CodeUnauthorized,
		},
		{
			name:     "anonymous caller on private poll",
			optionID: 10,
			caller:   models.AnonymousIdentity("1.2.3.4"),
			mutate:   func(p *models.Poll) { p.IsPublic = false },
			wantCode: models.CodeUnauthorized,
		},
		{
			name:     "anonymous voting switched off",
			optionID: 10,
			caller:   models.AnonymousIdentity("1.2.3.4"),
			flags:    flagStub{featureflags.AnonymousVoting: false},
			wantCode: models.CodeUnauthorized,
		},
		{
			name:     "option from another poll",
			optionID: 999,
			caller:   models.UserIdentity(1),
			wantCode: models.CodeValidation,
		},
		{
			name:     "signed-in caller on private poll",
			optionID: 11,
			caller:   models.UserIdentity(2),
			mutate:   func(p *models.Poll) { p.IsPublic = false },
		},
		{
			name:     "deadline instant is still open",
			optionID: 10,
			caller:   models.UserIdentity(3),
			at:       pollStart.Add(24 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutators []func(*models.Poll)
			if tt.mutate != nil {
				mutators = append(mutators, tt.mutate)
			}
			f := newVoteFixture(t, mutators...)
			if tt.flags != nil {
				WithVoteFlags(tt.flags)(f.svc)
			}
			if !tt.at.IsZero() {
				f.clock.Set(tt.at)
			}
			pollID := tt.pollID
			if pollID == 0 {
				pollID = f.poll.ID
			}

			res, err := f.svc.SubmitVote(context.Background(), SubmitVoteInput{PollID: pollID, OptionID: tt.optionID, Caller: tt.caller})
			if tt.wantCode != "" {
				assertCode(t, err, tt.wantCode)
				assert.Nil(t, res)
				assert.Zero(t, f.votes.writes)
				assert.Empty(t, f.events.types())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.VoteCreated, res.Status)
			assert.Equal(t, 1, f.votes.writes)
		})
	}
}

func TestVoteService_IdentitiesAreIndependent(t *testing.T) {
	f := newVoteFixture(t)

	for _, who := range []models.Identity{
		models.UserIdentity(1),
		models.UserIdentity(2),
		models.AnonymousIdentity("1.2.3.4"),
		models.AnonymousIdentity("5.6.7.8"),
	} {
		res, err := f.submit(10, who)
		require.NoError(t, err, who.String())
		assert.Equal(t, models.VoteCreated, res.Status)
	}
	assert.Equal(t, 4, f.votes.count())
}

func TestVoteService_ReadsAllowVoteChangeEveryCall(t *testing.T) {
	f := newVoteFixture(t)
	who := models.UserIdentity(1)

	_, err := f.submit(10, who)
	require.NoError(t, err)
	_, err = f.submit(11, who)
	assertCode(t, err, models.CodeAlreadyVoted)

	f.poll.AllowVoteChange = true
	res, err := f.submit(11, who)
	require.NoError(t, err)
	assert.Equal(t, models.VoteChanged, res.Status)
}

func TestVoteService_AbsorbsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		allow      bool
		wantStatus models.VoteOutcome
		wantCode   string
		wantOption uint
	}{
		{name: "changes allowed becomes changed", allow: true, wantStatus: models.VoteChanged, wantOption: 11},
		{name: "changes disallowed becomes already voted", allow: false, wantCode: models.CodeAlreadyVoted, wantOption: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVoteFixture(t, func(p *models.Poll) { p.AllowVoteChange = tt.allow })
			who := models.UserIdentity(7)

			// A concurrent request for the same identity commits first.
			var once sync.Once
			f.votes.beforeCreate = func(*models.Vote) {
				once.Do(func() {
					winner, err := models.NewVote(f.poll.ID, 10, who)
					require.NoError(t, err)
					f.votes.beforeCreate = nil
					require.NoError(t, f.votes.Create(context.Background(), winner))
				})
			}

			res, err := f.submit(11, who)
			if tt.wantCode != "" {
				assertCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, res.Status)
			}
			assert.Equal(t, 1, f.votes.count())

			status := f.svc.GetVoteStatus(context.Background(), f.poll.ID, who)
			assert.Equal(t, tt.wantOption, *status.OptionID)
		})
	}
}

func TestVoteService_ConcurrentSubmittersSameIdentity(t *testing.T) {
	f := newVoteFixture(t)
	who := models.AnonymousIdentity("9.9.9.9")

	const submitters = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		already int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.submit(uint(10+i%2), who)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Status == models.VoteCreated:
				created++
			case models.ErrorCode(err) == models.CodeAlreadyVoted:
				already++
			default:
				t.Errorf("unexpected result %v, %v", res, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, submitters-1, already)
	assert.Equal(t, 1, f.votes.count())
}

func TestVoteService_PublishesVoteRecorded(t *testing.T) {
	f := newVoteFixture(t)

	_, err := f.submit(10, models.UserIdentity(1))
	require.NoError(t, err)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, EventVoteRecorded, ev.eventType)
	assert.Equal(t, f.poll.ID, ev.pollID)
	payload, ok := ev.payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, models.VoteCreated, payload["status"])
	assert.Contains(t, payload, "results")
}

func TestVoteService_GetVoteStatusNeverFails(t *testing.T) {
	f := newVoteFixture(t)
	ctx := context.Background()

	assert.Equal(t, models.VoteStatus{}, f.svc.GetVoteStatus(ctx, f.poll.ID, models.AnonymousIdentity(models.UnknownIP)))
	assert.Equal(t, models.VoteStatus{}, f.svc.GetVoteStatus(ctx, f.poll.ID, models.UserIdentity(1)))
	assert.Equal(t, models.VoteStatus{}, f.svc.GetVoteStatus(ctx, 404, models.UserIdentity(1)))

	f.votes.findErr = errors.New("database is gone")
	assert.Equal(t, models.VoteStatus{}, f.svc.GetVoteStatus(ctx, f.poll.ID, models.UserIdentity(1)))
}

func TestVoteService_StoreFailureIsInternal(t *testing.T) {
	f := newVoteFixture(t)
	f.votes.findErr = models.NewInternalError(errors.New("connection reset"))

	_, err := f.submit(10, models.UserIdentity(1))
	assertCode(t, err, models.CodeInternal)
	assert.Zero(t, f.votes.writes)
}

func TestVoteStatusLabel(t *testing.T) {
	assert.Equal(t, "created", voteStatusLabel(&VoteResult{Status: models.VoteCreated}, nil))
	assert.Equal(t, "already_voted", voteStatusLabel(nil, models.NewAlreadyVotedError()))
	assert.Equal(t, "error", voteStatusLabel(nil, errors.New("boom")))
}

func ptr[T any](v T) *T { return &v }
