package repository

import (
	"context"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/models"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// AnalyticsRepository aggregates platform-wide statistics.
type AnalyticsRepository interface {
	Overview(ctx context.Context, now time.Time) (*models.AnalyticsOverview, error)
	MostVotedPolls(ctx context.Context, limit int) ([]models.PollVoteSummary, error)
	RecentVotes(ctx context.Context, limit int) ([]models.RecentVote, error)
	PollsPerDay(ctx context.Context, now time.Time, days int) ([]models.DailyCount, error)
	VotesPerDay(ctx context.Context, now time.Time, days int) ([]models.DailyCount, error)
}

type analyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository returns a new AnalyticsRepository implementation.
func NewAnalyticsRepository(db *gorm.DB) AnalyticsRepository {
	return &analyticsRepository{db: db}
}

// Overview is cached under analytics:overview and dropped on any write
// that changes a total.
func (r *analyticsRepository) Overview(ctx context.Context, now time.Time) (*models.AnalyticsOverview, error) {
	var o models.AnalyticsOverview
	err := cache.Aside(ctx, cache.AnalyticsKey, &o, cache.AnalyticsTTL, func() error {
		db := readDB(r.db).WithContext(ctx)
		counts := []struct {
			dest  *int64
			query *gorm.DB
		}{
			{&o.TotalUsers, db.Model(&models.User{})},
			{&o.TotalPolls, db.Model(&models.Poll{})},
			{&o.TotalVotes, db.Model(&models.Vote{})},
			{&o.TotalOptions, db.Model(&models.Option{})},
			{&o.ActivePolls, db.Model(&models.Poll{}).Where("expires_at > ?", now)},
			{&o.ExpiredPolls, db.Model(&models.Poll{}).Where("expires_at <= ?", now)},
			{&o.AdminCount, db.Model(&models.User{}).Where("LOWER(role) = ?", models.RoleAdmin)},
			{&o.MemberCount, db.Model(&models.User{}).Where("LOWER(role) = ?", models.RoleMember)},
		}
		for _, c := range counts {
			if err := c.query.Count(c.dest).Error; err != nil {
				return models.NewInternalError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *analyticsRepository) MostVotedPolls(ctx context.Context, limit int) ([]models.PollVoteSummary, error) {
	polls := []models.PollVoteSummary{}
	err := readDB(r.db).WithContext(ctx).
		Table("polls").
		Select("polls.id AS id, polls.title AS title, polls.expires_at AS expires_at, COUNT(votes.id) AS vote_count").
		Joins("LEFT JOIN votes ON votes.poll_id = polls.id").
		Group("polls.id, polls.title, polls.expires_at").
		Order("vote_count DESC").Order("polls.id DESC").
		Limit(limit).
		Scan(&polls).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return polls, nil
}

// RecentVotes lists the latest votes; anonymous voters are named "Anonymous".
func (r *analyticsRepository) RecentVotes(ctx context.Context, limit int) ([]models.RecentVote, error) {
	votes := []models.RecentVote{}
	err := readDB(r.db).WithContext(ctx).
		Table("votes").
		Select("votes.id AS id, COALESCE(NULLIF(users.name, ''), users.email, 'Anonymous') AS user_name, " +
			"polls.title AS poll_title, options.text AS option_text, votes.created_at AS created_at").
		Joins("JOIN polls ON polls.id = votes.poll_id").
		Joins("JOIN options ON options.id = votes.option_id").
		Joins("LEFT JOIN users ON users.id = votes.user_id").
		Order("votes.created_at DESC").Order("votes.id DESC").
		Limit(limit).
		Scan(&votes).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return votes, nil
}

func (r *analyticsRepository) PollsPerDay(ctx context.Context, now time.Time, days int) ([]models.DailyCount, error) {
	return r.perDay(ctx, "polls", now, days)
}

func (r *analyticsRepository) VotesPerDay(ctx context.Context, now time.Time, days int) ([]models.DailyCount, error) {
	return r.perDay(ctx, "votes", now, days)
}

// perDay counts rows created on each of the last `days` UTC days, oldest
// first, with zero-filled gaps.
func (r *analyticsRepository) perDay(ctx context.Context, table string, now time.Time, days int) ([]models.DailyCount, error) {
	if days <= 0 {
		return []models.DailyCount{}, nil
	}
	today := now.UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	db := readDB(r.db).WithContext(ctx)
	day := dayExpr(db, table+".created_at")

	var rows []models.DailyCount
	err := db.Table(table).
		Select(day+" AS day, COUNT(*) AS count").
		Where(table+".created_at >= ?", since).
		Group(day).
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	byDay := lo.SliceToMap(rows, func(d models.DailyCount) (string, int64) { return d.Day, d.Count })
	out := make([]models.DailyCount, 0, days)
	for i := 0; i < days; i++ {
		key := since.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, models.DailyCount{Day: key, Count: byDay[key]})
	}
	return out, nil
}

func dayExpr(db *gorm.DB, column string) string {
	if db.Dialector.Name() == "sqlite" {
		return "strftime('%Y-%m-%d', " + column + ")"
	}
	return "to_char(" + column + " AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
}
