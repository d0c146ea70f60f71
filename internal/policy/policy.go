// Package policy decides what an actor may do to a resource.
package policy

import (
	"pollapp/internal/models"
)

// Action is an operation subject to authorization.
type Action string

const (
	CreatePoll    Action = "create_poll"
	UpdatePoll    Action = "update_poll"
	DeletePoll    Action = "delete_poll"
	ManageOptions Action = "manage_options"
	ViewResults   Action = "view_results"
	ExportResults Action = "export_results"
	Comment       Action = "comment"
	DeleteComment Action = "delete_comment"
	React         Action = "react"
	SetTheme      Action = "set_theme"
	ManageUsers   Action = "manage_users"
	ViewAnalytics Action = "view_analytics"
	ViewFlags     Action = "view_feature_flags"
)

// Kind names the resource type an action targets.
type Kind string

const (
	KindPlatform Kind = "platform"
	KindPoll     Kind = "poll"
	KindComment  Kind = "comment"
	KindUser     Kind = "user"
)

// Actor is the caller. A zero UserID means signed out.
type Actor struct {
	UserID uint
	Role   models.Role
}

// ActorFor builds an actor from a loaded user.
func ActorFor(u *models.User) Actor {
	if u == nil {
		return Actor{}
	}
	role, ok := models.ParseRole(string(u.Role))
	if !ok {
		role = models.RoleMember
	}
	return Actor{UserID: u.ID, Role: role}
}

func (a Actor) signedIn() bool { return a.UserID != 0 }
func (a Actor) admin() bool    { return a.signedIn() && a.Role == models.RoleAdmin }

// Resource is the target of an action. OwnerID is the creator of the
// resource itself; ParentOwnerID is the owner of the enclosing poll for
// comments.
type Resource struct {
	Kind          Kind
	OwnerID       uint
	ParentOwnerID uint
}

// Platform is the resource for actions without a specific target.
var Platform = Resource{Kind: KindPlatform}

// PollResource describes a poll owned by ownerID.
func PollResource(p *models.Poll) Resource {
	return Resource{Kind: KindPoll, OwnerID: p.UserID}
}

// CommentResource describes a comment on a poll.
func CommentResource(c *models.Comment, pollOwnerID uint) Resource {
	return Resource{Kind: KindComment, OwnerID: c.UserID, ParentOwnerID: pollOwnerID}
}

// UserResource describes a user account.
func UserResource(userID uint) Resource {
	return Resource{Kind: KindUser, OwnerID: userID}
}

// Options tunes rules that differ between deployments.
type Options struct {
	// CreatorRole is the minimum role allowed to create polls.
	CreatorRole models.Role
}

// Policy evaluates authorization rules.
type Policy struct {
	opts Options
}

// New returns a policy with the given options.
func New(opts Options) *Policy {
	if opts.CreatorRole == "" {
		opts.CreatorRole = models.RoleMember
	}
	return &Policy{opts: opts}
}

// Default is the policy used when none is configured.
var Default = New(Options{})

// Authorize evaluates Default.
func Authorize(actor Actor, res Resource, action Action) error {
	return Default.Authorize(actor, res, action)
}

// Authorize returns nil when actor may perform action on res, an
// UNAUTHORIZED error for signed-out actors, and FORBIDDEN otherwise.
func (p *Policy) Authorize(actor Actor, res Resource, action Action) error {
	if !actor.signedIn() {
		return models.NewUnauthorizedError(deniedMessage(action, false))
	}
	if p.allowed(actor, res, action) {
		return nil
	}
	return models.NewForbiddenError(deniedMessage(action, true))
}

// Allowed is the boolean form of Authorize.
func (p *Policy) Allowed(actor Actor, res Resource, action Action) bool {
	return actor.signedIn() && p.allowed(actor, res, action)
}

func (p *Policy) allowed(actor Actor, res Resource, action Action) bool {
	if actor.admin() {
		return true
	}
	isOwner := res.OwnerID != 0 && res.OwnerID == actor.UserID

	switch action {
	case CreatePoll:
		return p.opts.CreatorRole == models.RoleMember
	case Comment, React:
		return true
	case SetTheme:
		return isOwner
	case UpdatePoll, DeletePoll, ManageOptions, ViewResults, ExportResults:
		return res.Kind == KindPoll && isOwner
	case DeleteComment:
		return res.Kind == KindComment && (isOwner || res.ParentOwnerID == actor.UserID)
	case ManageUsers, ViewAnalytics, ViewFlags:
		return false
	}
	return false
}

func deniedMessage(action Action, signedIn bool) string {
	if !signedIn {
		switch action {
		case CreatePoll:
			return "Please sign in to create polls"
		case Comment:
			return "Please sign in to comment"
		case React:
			return "Please sign in to react"
		}
		return "Authorization required"
	}
	switch action {
	case CreatePoll:
		return "Only admins can create polls"
	case UpdatePoll, ManageOptions:
		return "You can only edit your own polls"
	case DeletePoll:
		return "You can only delete your own polls"
	case ViewResults:
		return "You can only view detailed results for your own polls"
	case ExportResults:
		return "You can only export your own polls"
	case DeleteComment:
		return "You can only delete your own comments"
	case ManageUsers, ViewAnalytics, ViewFlags:
		return "Admin access required"
	}
	return "Forbidden"
}
