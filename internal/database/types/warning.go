package types

import (
	"time"

	"github.com/uptrace/bun"
)

// WarningEntry records a single infraction in a member's history.
type WarningEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	IssuedBy  uint64    `json:"issuedBy"`
}

// WarningRecord tracks accumulated infractions for a (member, group) pair.
// Count resets to zero after an escalation kick while History is kept for
// auditing.
type WarningRecord struct {
	bun.BaseModel `bun:"table:warning_records"`

	MemberID  uint64         `bun:"member_id,pk"`
	GroupID   uint64         `bun:"group_id,pk"`
	Count     int            `bun:"count,notnull"`
	History   []WarningEntry `bun:"history,type:jsonb"`
	UpdatedAt time.Time      `bun:"updated_at,notnull"`
}

// WarningStats summarizes the warning ledger for one group.
type WarningStats struct {
	GroupID        uint64 `bun:"group_id"`
	WarnedMembers  int    `bun:"warned_members"`
	ActiveWarnings int    `bun:"active_warnings"`
}
