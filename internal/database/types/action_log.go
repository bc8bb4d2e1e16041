package types

import (
	"time"

	"github.com/uptrace/bun"
)

// ActionLog records a moderation action for auditing.
type ActionLog struct {
	bun.BaseModel `bun:"table:action_logs"`

	ID        int64     `bun:"id,pk,autoincrement"`
	GroupID   uint64    `bun:"group_id,notnull"`
	MemberID  uint64    `bun:"member_id,notnull"`
	IssuedBy  uint64    `bun:"issued_by"`
	Action    string    `bun:"action,notnull"`
	Reason    string    `bun:"reason"`
	Timestamp time.Time `bun:"timestamp,notnull"`
}
