package repository

import (
	"context"
	"errors"

	"pollapp/internal/middleware"
	"pollapp/internal/models"
	"pollapp/internal/observability"

	"gorm.io/gorm"
)

// ErrDuplicateVote is returned by Create when the identity already holds a
// vote on the poll.
var ErrDuplicateVote = errors.New("identity already voted on this poll")

// VoteRepository defines persistence operations for votes.
type VoteRepository interface {
	FindByIdentity(ctx context.Context, pollID uint, who models.Identity) (*models.Vote, error)
	Create(ctx context.Context, vote *models.Vote) error
	UpdateOption(ctx context.Context, vote *models.Vote, optionID uint) error
}

type voteRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewVoteRepository returns a new VoteRepository implementation.
func NewVoteRepository(db *gorm.DB) VoteRepository {
	return &voteRepository{db: db, log: observability.NewRepoLogger(middleware.Logger, "votes")}
}

// FindByIdentity returns nil, nil when the identity has not voted. It reads
// the primary: the result decides between insert and update.
func (r *voteRepository) FindByIdentity(ctx context.Context, pollID uint, who models.Identity) (*models.Vote, error) {
	if !who.Resolved() {
		return nil, nil
	}
	var vote models.Vote
	err := r.db.WithContext(ctx).
		Where("poll_id = ? AND voter_key = ?", pollID, who.Key()).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &vote, nil
}

// Create inserts the vote. A unique violation on (poll_id, voter_key) is
// reported as ErrDuplicateVote.
func (r *voteRepository) Create(ctx context.Context, vote *models.Vote) error {
	if err := r.db.WithContext(ctx).Omit("User", "Poll", "Option").Create(vote).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateVote
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", "vote_id", vote.ID, "poll_id", vote.PollID)
	return nil
}

// UpdateOption moves an existing vote to optionID. CreatedAt is untouched.
func (r *voteRepository) UpdateOption(ctx context.Context, vote *models.Vote, optionID uint) error {
	res := r.db.WithContext(ctx).Model(vote).Update("option_id", optionID)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update_option")
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Vote", vote.ID)
	}
	vote.OptionID = optionID
	r.log.LogWrite(ctx, "update_option", "vote_id", vote.ID, "poll_id", vote.PollID)
	return nil
}
