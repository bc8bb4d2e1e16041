// Package policy serves per-group protection settings with a short-lived
// read cache in front of the database.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/pkg/utils"
	"go.uber.org/zap"
)

// CacheTTL bounds how stale a cached policy may get. Settings changes go
// through Save which invalidates immediately, so the TTL only covers writes
// from other processes.
const CacheTTL = 5 * time.Minute

// Store is the persistence capability the cache consumes.
type Store interface {
	GetPolicy(ctx context.Context, groupID uint64) (*types.GroupPolicy, error)
	SavePolicy(ctx context.Context, policy *types.GroupPolicy) error
}

// Cache fronts the policy store. Reads return cloned snapshots so handlers
// keep a consistent view while the cache is invalidated underneath them.
// A store failure fails closed: the configured defaults keep protection on
// rather than silently disabling it.
type Cache struct {
	store    Store
	cache    *utils.TTLMap[uint64, *types.GroupPolicy]
	defaults types.GroupPolicy
	logger   *zap.Logger
}

// NewCache creates a Cache with the given fallback defaults.
func NewCache(store Store, defaults types.GroupPolicy, logger *zap.Logger) *Cache {
	return &Cache{
		store:    store,
		cache:    utils.NewTTLMap[uint64, *types.GroupPolicy](CacheTTL),
		defaults: defaults,
		logger:   logger.Named("policy"),
	}
}

// Get returns a snapshot of the group's policy. On a store failure the
// returned snapshot carries the fail-closed defaults alongside the error;
// callers log the error and keep moderating.
func (c *Cache) Get(ctx context.Context, groupID uint64) (*types.GroupPolicy, error) {
	if cached, ok := c.cache.Get(groupID); ok {
		return cached.Clone(), nil
	}

	policy, err := c.store.GetPolicy(ctx, groupID)
	if err != nil {
		fallback := c.defaults.Clone()
		fallback.GroupID = groupID

		c.logger.Warn("Policy store unavailable, using protective defaults",
			zap.Uint64("groupID", groupID), zap.Error(err))

		return fallback, fmt.Errorf("failed to load group policy: %w", err)
	}

	c.cache.Set(groupID, policy)

	return policy.Clone(), nil
}

// Save persists a policy and drops the cached copy so the next read sees it.
func (c *Cache) Save(ctx context.Context, policy *types.GroupPolicy) error {
	if err := c.store.SavePolicy(ctx, policy); err != nil {
		return fmt.Errorf("failed to save group policy: %w", err)
	}

	c.cache.Delete(policy.GroupID)

	return nil
}

// Invalidate drops the cached policy for a group.
func (c *Cache) Invalidate(groupID uint64) {
	c.cache.Delete(groupID)
}
