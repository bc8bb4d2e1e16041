// Package platform defines the action port through which all moderation
// effects reach the hosting messaging platform. The engine only ever talks
// to the Client interface; wiring a concrete transport is an adapter concern.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied indicates the bot lacks the rights for the action.
	ErrPermissionDenied = errors.New("bot lacks permission for action")
	// ErrTargetNotFound indicates the member or group no longer exists.
	ErrTargetNotFound = errors.New("target member or group not found")
	// ErrRateLimited indicates the platform rejected the call due to rate limits.
	ErrRateLimited = errors.New("platform rate limit exceeded")
	// ErrTransientNetwork indicates a temporary transport failure.
	ErrTransientNetwork = errors.New("transient network failure")
)

// IsTransient reports whether the error is worth retrying.
// Permission and missing-target failures are permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransientNetwork)
}

// Permissions describes what a member may do in a group.
type Permissions struct {
	CanSendMessages bool
	CanSendMedia    bool
	CanSendPolls    bool
	CanAddPreviews  bool
}

// MutedPermissions returns the permission set applied to restricted members.
func MutedPermissions() Permissions {
	return Permissions{}
}

// FullPermissions returns the permission set applied to verified members.
func FullPermissions() Permissions {
	return Permissions{
		CanSendMessages: true,
		CanSendMedia:    true,
		CanSendPolls:    true,
		CanAddPreviews:  true,
	}
}

// Client is the messaging/action capability consumed by the engine.
// A zero until time means the restriction has no expiry.
type Client interface {
	// Restrict applies the given permission set to a member.
	Restrict(ctx context.Context, groupID, memberID uint64, perms Permissions, until time.Time) error
	// Kick removes a member from the group while allowing rejoin.
	Kick(ctx context.Context, groupID, memberID uint64) error
	// Ban permanently removes a member from the group.
	Ban(ctx context.Context, groupID, memberID uint64) error
	// Unban lifts a ban so the member may rejoin.
	Unban(ctx context.Context, groupID, memberID uint64) error
	// SendMessage posts a message to the group.
	SendMessage(ctx context.Context, groupID uint64, content string) error
}
