package platform

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LogClient is a stand-in action adapter that records every call instead of
// talking to a real messaging platform. Used until a transport is wired in
// and for local dry runs.
type LogClient struct {
	logger *zap.Logger
}

// NewLogClient creates a logging action adapter.
func NewLogClient(logger *zap.Logger) *LogClient {
	return &LogClient{logger: logger.Named("platform")}
}

// Restrict logs a restrict call.
func (c *LogClient) Restrict(
	_ context.Context, groupID, memberID uint64, perms Permissions, until time.Time,
) error {
	c.logger.Info("Restrict",
		zap.Uint64("groupID", groupID),
		zap.Uint64("memberID", memberID),
		zap.Bool("canSendMessages", perms.CanSendMessages),
		zap.Time("until", until))

	return nil
}

// Kick logs a kick call.
func (c *LogClient) Kick(_ context.Context, groupID, memberID uint64) error {
	c.logger.Info("Kick", zap.Uint64("groupID", groupID), zap.Uint64("memberID", memberID))
	return nil
}

// Ban logs a ban call.
func (c *LogClient) Ban(_ context.Context, groupID, memberID uint64) error {
	c.logger.Info("Ban", zap.Uint64("groupID", groupID), zap.Uint64("memberID", memberID))
	return nil
}

// Unban logs an unban call.
func (c *LogClient) Unban(_ context.Context, groupID, memberID uint64) error {
	c.logger.Info("Unban", zap.Uint64("groupID", groupID), zap.Uint64("memberID", memberID))
	return nil
}

// SendMessage logs a message send.
func (c *LogClient) SendMessage(_ context.Context, groupID uint64, content string) error {
	c.logger.Info("SendMessage", zap.Uint64("groupID", groupID), zap.String("content", content))
	return nil
}
