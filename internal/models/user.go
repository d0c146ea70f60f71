// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"
)

// Role is a user's global role. Stored lowercase.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole normalizes a role value, accepting legacy uppercase spellings.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMember:
		return RoleMember, true
	}
	return "", false
}

// Theme is the UI theme preference saved per user.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// User represents an account.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Name      string    `gorm:"size:100" json:"name"`
	Password  string    `gorm:"not null" json:"-"`
	Role      Role      `gorm:"type:varchar(16);not null;default:member;index" json:"role"`
	Theme     Theme     `gorm:"type:varchar(16);not null;default:light" json:"theme"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PollCount int64 `gorm:"-" json:"poll_count,omitempty"`
	VoteCount int64 `gorm:"-" json:"vote_count,omitempty"`
}

// IsAdmin reports whether the user holds the admin role, tolerating legacy casing.
func (u *User) IsAdmin() bool {
	role, ok := ParseRole(string(u.Role))
	return ok && role == RoleAdmin
}

// DisplayName returns the name, falling back to the email address.
func (u *User) DisplayName() string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}
