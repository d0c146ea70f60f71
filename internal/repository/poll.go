package repository

import (
	"context"
	"errors"
	"time"

	"pollapp/internal/cache"
	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/observability"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// MinOptions is the fewest options a poll may keep.
const MinOptions = 2

// Poll status filters.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// PollFilter narrows List.
type PollFilter struct {
	Category string
	Status   string
	Now      time.Time
	Limit    int
	Offset   int
}

// OptionEdit groups the option changes applied together with a poll update.
type OptionEdit struct {
	Rename map[uint]string
	Add    []models.Option
	Delete []uint
}

func (e OptionEdit) empty() bool {
	return len(e.Rename) == 0 && len(e.Add) == 0 && len(e.Delete) == 0
}

// PollRepository defines persistence operations for polls and their options.
type PollRepository interface {
	Create(ctx context.Context, poll *models.Poll) error
	GetByID(ctx context.Context, id uint) (*models.Poll, error)
	List(ctx context.Context, filter PollFilter) ([]models.Poll, int64, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Poll, error)
	Trending(ctx context.Context, since, now time.Time, limit int) ([]models.Poll, error)
	Tallies(ctx context.Context, pollID uint) (*models.PollResults, error)
	FreshTallies(ctx context.Context, pollID uint) (*models.PollResults, error)
	Update(ctx context.Context, poll *models.Poll, edit OptionEdit) error
	AddOption(ctx context.Context, option *models.Option) error
	DeleteOption(ctx context.Context, pollID, optionID uint) error
	Delete(ctx context.Context, id uint) error
	VoterResults(ctx context.Context, pollID uint) ([]models.VoterResult, error)
	ExpiredBetween(ctx context.Context, from, to time.Time) ([]models.Poll, error)
}

type pollRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPollRepository returns a new PollRepository implementation.
func NewPollRepository(db *gorm.DB) PollRepository {
	return &pollRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "polls")}
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("options.id ASC")
}

func (r *pollRepository) Create(ctx context.Context, poll *models.Poll) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(poll).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", "poll_id", poll.ID, "options", len(poll.Options))
	cache.Invalidate(ctx, cache.AnalyticsKey)
	return nil
}

// GetByID reads from the primary so that vote checks see the latest
// expiry and vote-change settings.
func (r *pollRepository) GetByID(ctx context.Context, id uint) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Preload("User").
		First(&poll, id).Error
	if err != nil {
		return nil, lookupError(err, "Poll", id)
	}
	return &poll, nil
}

// List returns public polls newest first and the total matching count.
func (r *pollRepository) List(ctx context.Context, filter PollFilter) ([]models.Poll, int64, error) {
	now := filter.Now
	if now.IsZero() {
		now = time.Now()
	}
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("is_public = ?", true)
		if filter.Category != "" {
			db = db.Where("category = ?", filter.Category)
		}
		switch filter.Status {
		case StatusActive:
			db = db.Where("expires_at > ?", now)
		case StatusExpired:
			db = db.Where("expires_at <= ?", now)
		}
		return db
	}
	db := readDB(r.db).WithContext(ctx)

	var total int64
	if err := db.Model(&models.Poll{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	var polls []models.Poll
	err := db.Scopes(scope).
		Preload("Options", orderedOptions).
		Preload("User").
		Order("created_at DESC").Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&polls).Error
	if err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return polls, total, nil
}

// ListByUser returns the user's polls with vote and comment counts.
func (r *pollRepository) ListByUser(ctx context.Context, userID uint) ([]models.Poll, error) {
	db := readDB(r.db).WithContext(ctx)

	var polls []models.Poll
	err := db.Preload("Options", orderedOptions).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&polls).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	ids := lo.Map(polls, func(p models.Poll, _ int) uint { return p.ID })
	votes, err := countsBy(db, "votes", "poll_id", ids)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	comments, err := countsBy(db, "comments", "poll_id", ids)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	for i := range polls {
		polls[i].VoteCount = votes[polls[i].ID]
		polls[i].CommentCount = comments[polls[i].ID]
	}
	return polls, nil
}

// Trending ranks public, still open polls by the votes cast since the given time.
func (r *pollRepository) Trending(ctx context.Context, since, now time.Time, limit int) ([]models.Poll, error) {
	db := readDB(r.db).WithContext(ctx)

	var ranked []countRow
	err := db.Table("votes").
		Select("votes.poll_id AS id, COUNT(votes.id) AS count").
		Joins("JOIN polls ON polls.id = votes.poll_id").
		Where("votes.created_at >= ? AND polls.is_public = ? AND polls.expires_at > ?", since, true, now).
		Group("votes.poll_id").
		Order("count DESC").Order("votes.poll_id DESC").
		Limit(limit).
		Scan(&ranked).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(ranked) == 0 {
		return []models.Poll{}, nil
	}

	var polls []models.Poll
	ids := lo.Map(ranked, func(c countRow, _ int) uint { return c.ID })
	if err := db.Preload("Options", orderedOptions).Preload("User").Where("id IN ?", ids).Find(&polls).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	byID := lo.KeyBy(polls, func(p models.Poll) uint { return p.ID })
	out := make([]models.Poll, 0, len(ranked))
	for _, c := range ranked {
		if p, ok := byID[c.ID]; ok {
			p.VoteCount = c.Count
			out = append(out, p)
		}
	}
	return out, nil
}

// Tallies returns per-option vote counts, cached under poll:<id>:results.
func (r *pollRepository) Tallies(ctx context.Context, pollID uint) (*models.PollResults, error) {
	var results models.PollResults
	err := cache.Aside(ctx, cache.PollResultsKey(pollID), &results, cache.ResultsTTL, func() error {
		fresh, err := r.countTallies(ctx, readDB(r.db), pollID)
		if err != nil {
			return err
		}
		results = *fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &results, nil
}

// FreshTallies counts votes on the primary and leaves the cache untouched.
// Used right after a write, when a lagging replica could serve old counts.
func (r *pollRepository) FreshTallies(ctx context.Context, pollID uint) (*models.PollResults, error) {
	return r.countTallies(ctx, r.db, pollID)
}

func (r *pollRepository) countTallies(ctx context.Context, db *gorm.DB, pollID uint) (*models.PollResults, error) {
	var tallies []models.OptionTally
	err := db.WithContext(ctx).
		Table("options").
		Select("options.id AS option_id, COUNT(votes.id) AS votes").
		Joins("LEFT JOIN votes ON votes.option_id = options.id").
		Where("options.poll_id = ?", pollID).
		Group("options.id").
		Order("options.id ASC").
		Scan(&tallies).Error
	if err != nil {
		r.log.LogError(ctx, err, "tallies")
		return nil, models.NewInternalError(err)
	}
	return &models.PollResults{
		PollID:     pollID,
		TotalVotes: lo.SumBy(tallies, func(t models.OptionTally) int64 { return t.Votes }),
		Options:    tallies,
	}, nil
}

var pollColumns = []string{"title", "description", "image_url", "category", "expires_at", "is_public", "allow_vote_change"}

// Update saves the poll's editable fields and applies edit in one transaction.
// It fails with a validation error when fewer than MinOptions would remain.
func (r *pollRepository) Update(ctx context.Context, poll *models.Poll, edit OptionEdit) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(poll).Select(pollColumns).Updates(poll).Error; err != nil {
			return err
		}
		if edit.empty() {
			return nil
		}
		for id, text := range edit.Rename {
			res := tx.Model(&models.Option{}).Where("id = ? AND poll_id = ?", id, poll.ID).Update("text", text)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return models.NewNotFoundError("Option", id)
			}
		}
		if len(edit.Add) > 0 {
			added := lo.Map(edit.Add, func(o models.Option, _ int) models.Option {
				o.ID = 0
				o.PollID = poll.ID
				return o
			})
			if err := tx.Create(&added).Error; err != nil {
				return err
			}
		}
		if len(edit.Delete) > 0 {
			if err := deleteOptions(tx, poll.ID, edit.Delete); err != nil {
				return err
			}
		}
		return ensureMinOptions(tx, poll.ID)
	})
	if err != nil {
		return r.writeError(ctx, err, "update")
	}
	r.log.LogWrite(ctx, "update", "poll_id", poll.ID,
		"renamed", len(edit.Rename), "added", len(edit.Add), "deleted", len(edit.Delete))
	cache.InvalidatePoll(ctx, poll.ID)
	return nil
}

func (r *pollRepository) AddOption(ctx context.Context, option *models.Option) error {
	if err := r.db.WithContext(ctx).Create(option).Error; err != nil {
		return r.writeError(ctx, err, "add_option")
	}
	r.log.LogWrite(ctx, "add_option", "poll_id", option.PollID, "option_id", option.ID)
	cache.InvalidatePoll(ctx, option.PollID)
	return nil
}

// DeleteOption removes an option and its votes, keeping at least MinOptions.
func (r *pollRepository) DeleteOption(ctx context.Context, pollID, optionID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Option{}).Where("id = ? AND poll_id = ?", optionID, pollID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.NewNotFoundError("Option", optionID)
		}
		if err := deleteOptions(tx, pollID, []uint{optionID}); err != nil {
			return err
		}
		return ensureMinOptions(tx, pollID)
	})
	if err != nil {
		return r.writeError(ctx, err, "delete_option")
	}
	r.log.LogWrite(ctx, "delete_option", "poll_id", pollID, "option_id", optionID)
	cache.InvalidatePoll(ctx, pollID)
	return nil
}

// Delete removes a poll with its options, votes, comments and reactions.
func (r *pollRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Poll{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.NewNotFoundError("Poll", id)
		}
		return deletePolls(tx, []uint{id})
	})
	if err != nil {
		return r.writeError(ctx, err, "delete")
	}
	r.log.LogWrite(ctx, "delete", "poll_id", id)
	cache.InvalidatePoll(ctx, id)
	return nil
}

type voterRow struct {
	UserName   *string
	Email      *string
	OptionText string
	CreatedAt  time.Time
}

// VoterResults lists every vote on the poll, newest first. Anonymous voters
// are reported as "Anonymous" with no email.
func (r *pollRepository) VoterResults(ctx context.Context, pollID uint) ([]models.VoterResult, error) {
	var rows []voterRow
	err := readDB(r.db).WithContext(ctx).
		Table("votes").
		Select("users.name AS user_name, users.email AS email, options.text AS option_text, votes.created_at AS created_at").
		Joins("JOIN options ON options.id = votes.option_id").
		Joins("LEFT JOIN users ON users.id = votes.user_id").
		Where("votes.poll_id = ?", pollID).
		Order("votes.created_at DESC").Order("votes.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return lo.Map(rows, func(row voterRow, _ int) models.VoterResult {
		res := models.VoterResult{Voter: "Anonymous", Option: row.OptionText, VotedAt: row.CreatedAt}
		if row.Email != nil {
			u := models.User{Email: *row.Email}
			if row.UserName != nil {
				u.Name = *row.UserName
			}
			res.Voter = u.DisplayName()
			res.Email = u.Email
		}
		return res
	}), nil
}

// ExpiredBetween returns polls whose deadline falls in (from, to].
func (r *pollRepository) ExpiredBetween(ctx context.Context, from, to time.Time) ([]models.Poll, error) {
	var polls []models.Poll
	err := readDB(r.db).WithContext(ctx).
		Where("expires_at > ? AND expires_at <= ?", from, to).
		Order("expires_at ASC").
		Find(&polls).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return polls, nil
}

func (r *pollRepository) writeError(ctx context.Context, err error, op string) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	r.log.LogError(ctx, err, op)
	return models.NewInternalError(err)
}

func deleteOptions(tx *gorm.DB, pollID uint, optionIDs []uint) error {
	if err := tx.Where("poll_id = ? AND option_id IN ?", pollID, optionIDs).Delete(&models.Vote{}).Error; err != nil {
		return err
	}
	return tx.Where("poll_id = ? AND id IN ?", pollID, optionIDs).Delete(&models.Option{}).Error
}

func ensureMinOptions(tx *gorm.DB, pollID uint) error {
	var remaining int64
	if err := tx.Model(&models.Option{}).Where("poll_id = ?", pollID).Count(&remaining).Error; err != nil {
		return err
	}
	if remaining < MinOptions {
		return models.NewValidationError("A poll must keep at least 2 options")
	}
	return nil
}

// deletePolls removes polls and every row that hangs off them. Foreign keys
// cascade in PostgreSQL; the explicit deletes keep SQLite and pre-constraint
// schemas consistent.
func deletePolls(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	for _, child := range []any{&models.Vote{}, &models.Reaction{}, &models.Comment{}, &models.Option{}} {
		if err := tx.Where("poll_id IN ?", ids).Delete(child).Error; err != nil {
			return err
		}
	}
	return tx.Where("id IN ?", ids).Delete(&models.Poll{}).Error
}
