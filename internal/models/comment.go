package models

import (
	"time"
)

// Comment is a user's remark on a poll.
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	PollID    uint      `gorm:"not null;index" json:"poll_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user"`
	Poll Poll `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
}

// Reaction is an emoji a user put on a poll.
// The combination of UserID, PollID and Emoji must be unique.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reactions_user_poll_emoji" json:"user_id"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_reactions_user_poll_emoji;index" json:"poll_id"`
	Emoji     string    `gorm:"not null;size:16;uniqueIndex:idx_reactions_user_poll_emoji" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Poll Poll `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
}

// ReactionCount is the number of users that reacted with one emoji.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int64  `json:"count"`
}
