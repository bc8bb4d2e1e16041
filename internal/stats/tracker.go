// Package stats tracks per-group moderation counters in Redis.
package stats

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// Field identifies one per-group counter.
type Field string

const (
	FieldVerified     Field = "verified"
	FieldKicked       Field = "kicked"
	FieldBanned       Field = "banned"
	FieldMuted        Field = "muted"
	FieldWarnings     Field = "warnings"
	FieldMessages     Field = "messages"
	FieldFloodBlocked Field = "flood_blocked"
)

// statsKeyPrefix namespaces Redis hashes storing per-group counters.
// Keys are formatted as "group_stats:{groupID}".
const statsKeyPrefix = "group_stats:"

// Counter is the recording and reporting surface used by the detector
// components and the stats command.
type Counter interface {
	Increment(ctx context.Context, groupID uint64, field Field)
	Snapshot(ctx context.Context, groupID uint64) (map[Field]int64, error)
}

// Tracker implements Counter on a Redis hash per group. Increments are
// best-effort; a counter miss never blocks enforcement.
type Tracker struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewTracker creates a Tracker using the given Redis client.
func NewTracker(client rueidis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{
		client: client,
		logger: logger.Named("stats"),
	}
}

// Increment adds one to the given counter for a group.
func (t *Tracker) Increment(ctx context.Context, groupID uint64, field Field) {
	key := statsKeyPrefix + strconv.FormatUint(groupID, 10)

	err := t.client.Do(ctx,
		t.client.B().Hincrby().Key(key).Field(string(field)).Increment(1).Build(),
	).Error()
	if err != nil {
		t.logger.Warn("Failed to increment group counter",
			zap.Uint64("groupID", groupID),
			zap.String("field", string(field)),
			zap.Error(err))
	}
}

// Snapshot returns all counters for a group.
func (t *Tracker) Snapshot(ctx context.Context, groupID uint64) (map[Field]int64, error) {
	key := statsKeyPrefix + strconv.FormatUint(groupID, 10)

	raw, err := t.client.Do(ctx, t.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read group counters: %w (groupID=%d)", err, groupID)
	}

	counters := make(map[Field]int64, len(raw))

	for field, value := range raw {
		count, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			t.logger.Warn("Skipping malformed counter value",
				zap.Uint64("groupID", groupID),
				zap.String("field", field),
				zap.String("value", value))

			continue
		}

		counters[Field(field)] = count
	}

	return counters, nil
}

// NopCounter discards all increments. Used where counters are optional.
type NopCounter struct{}

// Increment does nothing.
func (NopCounter) Increment(context.Context, uint64, Field) {}

// Snapshot always returns an empty counter set.
func (NopCounter) Snapshot(context.Context, uint64) (map[Field]int64, error) {
	return map[Field]int64{}, nil
}
