// Package seed creates demo data for development and load testing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pollapp/internal/models"
	"pollapp/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPassword is the password of every seeded user.
const DefaultPassword = "Password123"

var (
	categories = []string{"food", "tech", "sports", "music", "movies", "travel", "work", "games"}
	emojis     = []string{"👍", "🎉", "🔥", "❤️", "😂", "🤔", "👀"}
)

// Factory builds and persists seed entities. Votes and comments go through
// the repositories so the same constraints apply as for live traffic.
type Factory struct {
	db       *gorm.DB
	faker    *gofakeit.Faker
	polls    repository.PollRepository
	votes    repository.VoteRepository
	comments repository.CommentRepository
	now      time.Time

	passwordHash string
	seq          int
}

// NewFactory creates a Factory. The same seed yields the same data.
func NewFactory(db *gorm.DB, seed int64) *Factory {
	return &Factory{
		db:       db,
		faker:    gofakeit.New(seed),
		polls:    repository.NewPollRepository(db),
		votes:    repository.NewVoteRepository(db),
		comments: repository.NewCommentRepository(db),
		now:      time.Now(),
	}
}

func (f *Factory) hash() (string, error) {
	if f.passwordHash == "" {
		h, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
		if err != nil {
			return "", fmt.Errorf("hash seed password: %w", err)
		}
		f.passwordHash = string(h)
	}
	return f.passwordHash, nil
}

// CreateUser persists a member with a unique email.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	hash, err := f.hash()
	if err != nil {
		return nil, err
	}
	f.seq++
	first, last := f.faker.FirstName(), f.faker.LastName()
	user := &models.User{
		Name:     first + " " + last,
		Email:    fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), f.seq),
		Password: hash,
		Role:     models.RoleMember,
		Theme:    models.ThemeLight,
	}
	if f.faker.Bool() {
		user.Theme = models.ThemeDark
	}
	for _, o := range overrides {
		o(user)
	}
	if err := f.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("create seed user: %w", err)
	}
	return user, nil
}

// BuildPoll returns an unsaved poll owned by owner with n distinct options.
func (f *Factory) BuildPoll(owner *models.User, n int, expired, allowChange bool) *models.Poll {
	poll := &models.Poll{
		Title:           strings.TrimSuffix(f.faker.Question(), "?") + "?",
		Description:     f.faker.Sentence(12),
		Category:        categories[f.faker.Number(0, len(categories)-1)],
		IsPublic:        f.faker.Float64Range(0, 1) < 0.85,
		AllowVoteChange: allowChange,
		UserID:          owner.ID,
	}
	if len(poll.Title) > 200 {
		poll.Title = poll.Title[:199] + "?"
	}
	if expired {
		poll.ExpiresAt = f.now.Add(-time.Duration(f.faker.Number(1, 72)) * time.Hour)
		poll.CreatedAt = poll.ExpiresAt.Add(-time.Duration(f.faker.Number(1, 14)) * 24 * time.Hour)
	} else {
		poll.ExpiresAt = f.now.Add(time.Duration(f.faker.Number(1, 14*24)) * time.Hour)
		poll.CreatedAt = f.now.Add(-time.Duration(f.faker.Number(1, 7*24)) * time.Hour)
	}

	seen := map[string]bool{}
	for len(poll.Options) < n {
		text := f.optionText()
		for i := 2; seen[strings.ToLower(text)]; i++ {
			text = fmt.Sprintf("%s %d", f.optionText(), i)
		}
		seen[strings.ToLower(text)] = true
		poll.Options = append(poll.Options, models.Option{Text: text})
	}
	return poll
}

func (f *Factory) optionText() string {
	switch f.faker.Number(0, 3) {
	case 0:
		return f.faker.Hobby()
	case 1:
		return f.faker.Color()
	case 2:
		return f.faker.ProgrammingLanguage()
	default:
		return f.faker.Noun()
	}
}

// CreatePoll persists a built poll with its options.
func (f *Factory) CreatePoll(ctx context.Context, poll *models.Poll) error {
	return f.polls.Create(ctx, poll)
}

// CastVote records a vote for who on a random option. It reports false when
// the identity already voted on the poll.
func (f *Factory) CastVote(ctx context.Context, poll *models.Poll, who models.Identity) (bool, error) {
	option := poll.Options[f.faker.Number(0, len(poll.Options)-1)]
	vote, err := models.NewVote(poll.ID, option.ID, who)
	if err != nil {
		return false, err
	}
	vote.CreatedAt = f.spread(poll)
	err = f.votes.Create(ctx, vote)
	if errors.Is(err, repository.ErrDuplicateVote) {
		return false, nil
	}
	return err == nil, err
}

// AnonymousIdentity returns a random IPv4 voter.
func (f *Factory) AnonymousIdentity() models.Identity {
	return models.AnonymousIdentity(f.faker.IPv4Address())
}

// CreateComment persists a comment by author on poll.
func (f *Factory) CreateComment(ctx context.Context, poll *models.Poll, author *models.User) error {
	return f.comments.Create(ctx, &models.Comment{
		PollID: poll.ID,
		UserID: author.ID,
		Text:   f.faker.Sentence(f.faker.Number(4, 20)),
	})
}

// React adds an emoji reaction by user. It reports false for a repeat.
func (f *Factory) React(ctx context.Context, poll *models.Poll, user *models.User) (bool, error) {
	reaction := &models.Reaction{
		PollID: poll.ID,
		UserID: user.ID,
		Emoji:  emojis[f.faker.Number(0, len(emojis)-1)],
	}
	res := f.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit("User", "Poll").
		Create(reaction)
	return res.RowsAffected == 1, res.Error
}

// spread picks a vote time between the poll's creation and its close.
func (f *Factory) spread(poll *models.Poll) time.Time {
	end := poll.ExpiresAt
	if end.After(f.now) {
		end = f.now
	}
	start := poll.CreatedAt
	if !start.Before(end) {
		return end
	}
	return f.faker.DateRange(start, end)
}
