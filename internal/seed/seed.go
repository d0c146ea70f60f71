package seed

import (
	"context"
	"fmt"

	"pollapp/internal/middleware"
	"pollapp/internal/models"

	"gorm.io/gorm"
)

// Summary counts what a run created.
type Summary struct {
	Users     int
	Polls     int
	Votes     int
	Comments  int
	Reactions int
}

// Seeder applies presets to a database.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
}

func NewSeeder(db *gorm.DB, seed int64) *Seeder {
	return &Seeder{db: db, factory: NewFactory(db, seed)}
}

// ClearAll deletes every seeded table, children first.
func (s *Seeder) ClearAll(ctx context.Context) error {
	tx := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []any{&models.Reaction{}, &models.Comment{}, &models.Vote{}, &models.Option{}, &models.Poll{}, &models.User{}} {
		if err := tx.Delete(model).Error; err != nil {
			return fmt.Errorf("clear %T: %w", model, err)
		}
	}
	middleware.Logger.InfoContext(ctx, "seed data cleared")
	return nil
}

// Apply creates users, their polls, and votes, comments and reactions on
// each poll as sized by p.
func (s *Seeder) Apply(ctx context.Context, p Preset) (*Summary, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f := s.factory
	sum := &Summary{}

	users := make([]*models.User, 0, p.Users)
	for i := 0; i < p.Users; i++ {
		u, err := f.CreateUser(ctx)
		if err != nil {
			return sum, err
		}
		users = append(users, u)
	}
	sum.Users = len(users)

	for _, owner := range users {
		for i := 0; i < p.PollsPerUser; i++ {
			poll := f.BuildPoll(owner, p.OptionsPerPoll,
				f.faker.Float64Range(0, 1) < p.ExpiredRatio,
				f.faker.Float64Range(0, 1) < p.AllowChangeRatio)
			if err := f.CreatePoll(ctx, poll); err != nil {
				return sum, fmt.Errorf("create seed poll: %w", err)
			}
			sum.Polls++

			if err := s.engage(ctx, p, poll, users, sum); err != nil {
				return sum, err
			}
		}
	}

	middleware.Logger.InfoContext(ctx, "seed applied",
		"users", sum.Users, "polls", sum.Polls, "votes", sum.Votes,
		"comments", sum.Comments, "reactions", sum.Reactions)
	return sum, nil
}

func (s *Seeder) engage(ctx context.Context, p Preset, poll *models.Poll, users []*models.User, sum *Summary) error {
	f := s.factory
	for i := 0; i < p.VotesPerPoll; i++ {
		var who models.Identity
		if poll.IsPublic && f.faker.Float64Range(0, 1) < p.AnonymousRatio {
			who = f.AnonymousIdentity()
		} else {
			who = models.UserIdentity(users[f.faker.Number(0, len(users)-1)].ID)
		}
		created, err := f.CastVote(ctx, poll, who)
		if err != nil {
			return fmt.Errorf("cast seed vote: %w", err)
		}
		if created {
			sum.Votes++
		}
	}
	for i := 0; i < p.CommentsPerPoll; i++ {
		if err := f.CreateComment(ctx, poll, users[f.faker.Number(0, len(users)-1)]); err != nil {
			return fmt.Errorf("create seed comment: %w", err)
		}
		sum.Comments++
	}
	for i := 0; i < p.ReactionsPerPoll; i++ {
		added, err := f.React(ctx, poll, users[f.faker.Number(0, len(users)-1)])
		if err != nil {
			return fmt.Errorf("create seed reaction: %w", err)
		}
		if added {
			sum.Reactions++
		}
	}
	return nil
}
