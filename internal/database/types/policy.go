package types

import (
	"time"

	"github.com/uptrace/bun"
)

// ChallengeType identifies the verification puzzle presented to new members.
type ChallengeType string

const (
	ChallengeTypeButton ChallengeType = "button"
	ChallengeTypeMath   ChallengeType = "math"
	ChallengeTypeEmoji  ChallengeType = "emoji"
	ChallengeTypePortal ChallengeType = "portal"
)

// GroupPolicy holds the protection settings for one group. Rows are created
// with defaults on first touch and owned by the settings surface; the engine
// treats them as read-only snapshots.
type GroupPolicy struct {
	bun.BaseModel `bun:"table:group_policies"`

	GroupID                 uint64        `bun:"group_id,pk"`
	VerificationEnabled     bool          `bun:"verification_enabled,notnull"`
	ChallengeType           ChallengeType `bun:"challenge_type,notnull"`
	VerificationTimeout     int           `bun:"verification_timeout,notnull"`
	MaxVerificationAttempts int           `bun:"max_verification_attempts,notnull"`
	FloodLimit              int           `bun:"flood_limit,notnull"`
	FloodWindow             int           `bun:"flood_window,notnull"`
	FloodMuteDuration       int           `bun:"flood_mute_duration,notnull"`
	FloodCountsAsWarning    bool          `bun:"flood_counts_as_warning,notnull"`
	MaxWarnings             int           `bun:"max_warnings,notnull"`
	MuteDuration            int           `bun:"mute_duration,notnull"`
	UpdatedAt               time.Time     `bun:"updated_at,notnull"`
}

// VerificationTimeoutDuration returns the verification timeout as a duration.
func (p *GroupPolicy) VerificationTimeoutDuration() time.Duration {
	return time.Duration(p.VerificationTimeout) * time.Second
}

// FloodWindowDuration returns the flood window as a duration.
func (p *GroupPolicy) FloodWindowDuration() time.Duration {
	return time.Duration(p.FloodWindow) * time.Second
}

// FloodMuteDurationValue returns the flood mute cooldown as a duration.
func (p *GroupPolicy) FloodMuteDurationValue() time.Duration {
	return time.Duration(p.FloodMuteDuration) * time.Second
}

// Clone returns a copy so event handlers can hold a consistent snapshot
// while the cached policy is invalidated underneath them.
func (p *GroupPolicy) Clone() *GroupPolicy {
	clone := *p
	return &clone
}
