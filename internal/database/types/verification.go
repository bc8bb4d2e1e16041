package types

import (
	"time"

	"github.com/uptrace/bun"
)

// PendingVerification tracks one active challenge for a (member, group) pair.
// At most one row exists per pair; the row is deleted on success, attempt
// exhaustion, or timeout.
type PendingVerification struct {
	bun.BaseModel `bun:"table:pending_verifications"`

	MemberID      uint64        `bun:"member_id,pk"`
	GroupID       uint64        `bun:"group_id,pk"`
	ChallengeType ChallengeType `bun:"challenge_type,notnull"`
	Question      string        `bun:"question"`
	Answer        string        `bun:"answer"`
	Options       []string      `bun:"options,array"`
	IssuedAt      time.Time     `bun:"issued_at,notnull"`
	Deadline      time.Time     `bun:"deadline,notnull"`
	AttemptsUsed  int           `bun:"attempts_used,notnull"`
	MaxAttempts   int           `bun:"max_attempts,notnull"`
}

// RemainingAttempts returns how many wrong answers the member has left.
func (v *PendingVerification) RemainingAttempts() int {
	remaining := v.MaxAttempts - v.AttemptsUsed
	if remaining < 0 {
		return 0
	}

	return remaining
}
