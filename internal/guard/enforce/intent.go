// Package enforce funnels every moderation decision through a single
// executor that applies actions idempotently against the platform.
package enforce

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Action identifies a moderation effect against the platform.
type Action string

const (
	ActionRestrict   Action = "restrict"
	ActionUnrestrict Action = "unrestrict"
	ActionMute       Action = "mute"
	ActionUnmute     Action = "unmute"
	ActionKick       Action = "kick"
	ActionBan        Action = "ban"
	ActionUnban      Action = "unban"
	ActionNotify     Action = "notify"
)

// Intent is a transient request to perform a moderation action, decoupled
// from its execution. Never persisted.
type Intent struct {
	MemberID uint64
	GroupID  uint64
	Action   Action
	Reason   string
	// Duration bounds mute and restrict actions; zero means no expiry.
	Duration time.Duration
	// Message carries the content for notify actions.
	Message string
	// IdempotencyKey collapses redundant intents from overlapping detectors.
	// Empty disables deduplication.
	IdempotencyKey string
}

// IdempotencyKey derives a stable key from the action, the target pair and a
// caller-chosen bucket (typically a timestamp bucket or the challenge issue
// time) so replays of the same logical event collapse into one platform call.
func IdempotencyKey(action Action, memberID, groupID uint64, bucket int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%d:%d:%d", action, memberID, groupID, bucket))
	return hex.EncodeToString(sum[:16])
}

// Sink accepts intents for asynchronous execution. Detector components hold
// a Sink so platform latency stays off their critical path.
type Sink interface {
	Submit(intent *Intent)
}
