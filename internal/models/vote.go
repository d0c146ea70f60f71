package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnknownIP is the sentinel client address used when no header carries one.
const UnknownIP = "unknown"

type identityKind uint8

const (
	identityNone identityKind = iota
	identityUser
	identityAnonymous
)

// Identity is the voter behind a request: a signed-in user or an anonymous
// client address, never both.
type Identity struct {
	kind   identityKind
	userID uint
	ip     string
}

// UserIdentity identifies a signed-in user.
func UserIdentity(userID uint) Identity {
	if userID == 0 {
		return Identity{}
	}
	return Identity{kind: identityUser, userID: userID}
}

// AnonymousIdentity identifies a signed-out caller by client IP.
func AnonymousIdentity(ip string) Identity {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = UnknownIP
	}
	return Identity{kind: identityAnonymous, ip: ip}
}

// UserID returns the user id for user identities.
func (i Identity) UserID() (uint, bool) {
	return i.userID, i.kind == identityUser
}

// IP returns the client address for anonymous identities.
func (i Identity) IP() (string, bool) {
	return i.ip, i.kind == identityAnonymous
}

// IsAnonymous reports whether the identity is IP based.
func (i Identity) IsAnonymous() bool {
	return i.kind == identityAnonymous
}

// Resolved reports whether the identity can own a vote.
func (i Identity) Resolved() bool {
	switch i.kind {
	case identityUser:
		return true
	case identityAnonymous:
		return i.ip != UnknownIP
	default:
		return false
	}
}

// Key is the canonical voter key stored alongside each vote.
func (i Identity) Key() string {
	switch i.kind {
	case identityUser:
		return "user:" + strconv.FormatUint(uint64(i.userID), 10)
	case identityAnonymous:
		return "ip:" + i.ip
	default:
		return ""
	}
}

func (i Identity) String() string {
	if k := i.Key(); k != "" {
		return k
	}
	return "none"
}

// Vote binds one identity to one option within one poll.
// (PollID, VoterKey) is unique; exactly one of UserID and IPAddress is set.
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PollID    uint      `gorm:"not null;uniqueIndex:idx_votes_poll_voter,priority:1" json:"poll_id"`
	OptionID  uint      `gorm:"not null;index" json:"option_id"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	IPAddress *string   `gorm:"size:64" json:"-"`
	VoterKey  string    `gorm:"not null;size:80;uniqueIndex:idx_votes_poll_voter,priority:2" json:"-"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User   *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Poll   Poll   `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	Option Option `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
}

// NewVote builds a vote row for the given identity.
func NewVote(pollID, optionID uint, who Identity) (*Vote, error) {
	if !who.Resolved() {
		return nil, fmt.Errorf("vote identity %s is not resolved", who)
	}
	v := &Vote{PollID: pollID, OptionID: optionID, VoterKey: who.Key()}
	if uid, ok := who.UserID(); ok {
		v.UserID = &uid
	} else if ip, ok := who.IP(); ok {
		v.IPAddress = &ip
	}
	return v, nil
}

// Identity reconstructs the voter identity of a stored vote.
func (v *Vote) Identity() Identity {
	if v.UserID != nil {
		return UserIdentity(*v.UserID)
	}
	if v.IPAddress != nil {
		return AnonymousIdentity(*v.IPAddress)
	}
	return Identity{}
}

// VoteOutcome is the result kind of a successful submission.
type VoteOutcome string

const (
	VoteCreated VoteOutcome = "created"
	VoteChanged VoteOutcome = "changed"
)

// VoteStatus is what a caller sees about their own vote on a poll.
type VoteStatus struct {
	HasVoted bool  `json:"has_voted"`
	OptionID *uint `json:"option_id"`
}
