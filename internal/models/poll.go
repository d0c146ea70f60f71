package models

import (
	"time"
)

// Poll is a question with a fixed set of options and an expiry time.
type Poll struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Title           string    `gorm:"not null;size:200" json:"title"`
	Description     string    `gorm:"type:text" json:"description"`
	ImageURL        string    `gorm:"size:2048" json:"image_url,omitempty"`
	Category        string    `gorm:"size:50;index" json:"category,omitempty"`
	ExpiresAt       time.Time `gorm:"not null;index" json:"expires_at"`
	IsPublic        bool      `gorm:"not null" json:"is_public"`
	AllowVoteChange bool      `gorm:"not null;default:false" json:"allow_vote_change"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	User    User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user"`
	Options []Option `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options"`

	VoteCount    int64 `gorm:"-" json:"vote_count"`
	CommentCount int64 `gorm:"-" json:"comment_count"`
}

// IsExpired reports whether the poll no longer accepts votes at now.
func (p *Poll) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// HasOption reports whether optionID is one of the poll's loaded options.
func (p *Poll) HasOption(optionID uint) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// Option is one selectable answer within a poll.
type Option struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;index" json:"poll_id"`
	Text      string    `gorm:"not null;size:200" json:"text"`
	ImageURL  string    `gorm:"size:2048" json:"image_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	VoteCount int64 `gorm:"-" json:"vote_count"`
}

// OptionTally is the vote count of one option.
type OptionTally struct {
	OptionID uint  `json:"option_id"`
	Votes    int64 `json:"votes"`
}

// PollResults is the cacheable tally of a poll.
type PollResults struct {
	PollID     uint          `json:"poll_id"`
	TotalVotes int64         `json:"total_votes"`
	Options    []OptionTally `json:"options"`
}

// VoterResult is one row of a poll's detailed results.
type VoterResult struct {
	Voter   string    `json:"voter"`
	Email   string    `json:"email"`
	Option  string    `json:"option"`
	VotedAt time.Time `json:"voted_at"`
}
