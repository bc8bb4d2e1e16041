package guard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard"
	"github.com/wardenbot/warden/internal/guard/challenge"
	"github.com/wardenbot/warden/internal/platform"
	"go.uber.org/zap/zaptest"
)

// fakePlatform counts calls per action.
type fakePlatform struct {
	mu    sync.Mutex
	calls map[string]int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{calls: make(map[string]int)}
}

func (f *fakePlatform) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[name]++

	return nil
}

func (f *fakePlatform) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[name]
}

func (f *fakePlatform) Restrict(
	_ context.Context, _, _ uint64, perms platform.Permissions, _ time.Time,
) error {
	if perms.CanSendMessages {
		return f.record("unrestrict")
	}

	return f.record("restrict")
}

func (f *fakePlatform) Kick(_ context.Context, _, _ uint64) error  { return f.record("kick") }
func (f *fakePlatform) Ban(_ context.Context, _, _ uint64) error   { return f.record("ban") }
func (f *fakePlatform) Unban(_ context.Context, _, _ uint64) error { return f.record("unban") }

func (f *fakePlatform) SendMessage(_ context.Context, _ uint64, _ string) error {
	return f.record("send")
}

// memPolicyStore serves a fixed policy per group.
type memPolicyStore struct {
	mu       sync.Mutex
	policies map[uint64]*types.GroupPolicy
}

func (s *memPolicyStore) GetPolicy(_ context.Context, groupID uint64) (*types.GroupPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pol, ok := s.policies[groupID]; ok {
		return pol.Clone(), nil
	}

	return &types.GroupPolicy{GroupID: groupID}, nil
}

func (s *memPolicyStore) SavePolicy(_ context.Context, pol *types.GroupPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[pol.GroupID] = pol.Clone()

	return nil
}

// memVerificationStore is an in-memory challenge.Store.
type memVerificationStore struct {
	mu      sync.Mutex
	records map[[2]uint64]*types.PendingVerification
}

func (s *memVerificationStore) GetPendingVerification(
	_ context.Context, memberID, groupID uint64,
) (*types.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[[2]uint64{memberID, groupID}]
	if !ok {
		return nil, nil
	}

	clone := *record

	return &clone, nil
}

func (s *memVerificationStore) SavePendingVerification(
	_ context.Context, pending *types.PendingVerification,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *pending
	s.records[[2]uint64{pending.MemberID, pending.GroupID}] = &clone

	return nil
}

func (s *memVerificationStore) DeletePendingVerification(
	_ context.Context, memberID, groupID uint64,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, [2]uint64{memberID, groupID})

	return nil
}

func (s *memVerificationStore) ListPendingVerifications(
	_ context.Context,
) ([]*types.PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*types.PendingVerification, 0, len(s.records))
	for _, record := range s.records {
		clone := *record
		pending = append(pending, &clone)
	}

	return pending, nil
}

// memWarningStore is an in-memory warnings.Store.
type memWarningStore struct {
	mu      sync.Mutex
	records map[[2]uint64]*types.WarningRecord
}

func (s *memWarningStore) GetWarnings(
	_ context.Context, memberID, groupID uint64,
) (*types.WarningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[[2]uint64{memberID, groupID}]
	if !ok {
		return &types.WarningRecord{MemberID: memberID, GroupID: groupID}, nil
	}

	clone := *record

	return &clone, nil
}

func (s *memWarningStore) SaveWarnings(_ context.Context, record *types.WarningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	s.records[[2]uint64{record.MemberID, record.GroupID}] = &clone

	return nil
}

func (s *memWarningStore) AggregateWarnings(
	_ context.Context, groupID uint64,
) (*types.WarningStats, error) {
	return &types.WarningStats{GroupID: groupID}, nil
}

// memAudit collects audit entries.
type memAudit struct {
	mu      sync.Mutex
	entries []*types.ActionLog
}

func (a *memAudit) LogAction(_ context.Context, log *types.ActionLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = append(a.entries, log)

	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	actions := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		actions = append(actions, entry.Action)
	}

	return actions
}

type testHarness struct {
	engine   *guard.Engine
	platform *fakePlatform
	policies *memPolicyStore
	audit    *memAudit
}

func newTestEngine(t *testing.T, policy *types.GroupPolicy) *testHarness {
	t.Helper()

	fake := newFakePlatform()
	policies := &memPolicyStore{policies: map[uint64]*types.GroupPolicy{policy.GroupID: policy}}
	audit := &memAudit{}

	engine := guard.New(guard.Dependencies{
		Platform:      fake,
		PolicyStore:   policies,
		Verifications: &memVerificationStore{records: make(map[[2]uint64]*types.PendingVerification)},
		Warnings:      &memWarningStore{records: make(map[[2]uint64]*types.WarningRecord)},
		Audit:         audit,
		Logger:        zaptest.NewLogger(t),
	})

	return &testHarness{engine: engine, platform: fake, policies: policies, audit: audit}
}

func testPolicy() *types.GroupPolicy {
	return &types.GroupPolicy{
		GroupID:                 100,
		VerificationEnabled:     true,
		ChallengeType:           types.ChallengeTypeMath,
		VerificationTimeout:     120,
		MaxVerificationAttempts: 3,
		FloodLimit:              3,
		FloodWindow:             10,
		FloodMuteDuration:       300,
		MaxWarnings:             2,
		MuteDuration:            3600,
	}
}

func TestEngineVerificationFlow(t *testing.T) {
	t.Parallel()

	t.Run("join restricts then correct answer unmutes", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		pending, err := h.engine.OnMemberJoined(t.Context(), 1, 100)
		require.NoError(t, err)
		require.NotNil(t, pending)

		outcome, err := h.engine.SubmitAnswer(t.Context(), 1, 100, pending.Answer)
		require.NoError(t, err)
		assert.Equal(t, challenge.OutcomeVerified, outcome.Status)

		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("restrict"))
		assert.Equal(t, 1, h.platform.count("unrestrict"))
		assert.Equal(t, 0, h.platform.count("kick"))
	})

	t.Run("exhausted attempts remove the member", func(t *testing.T) {
		t.Parallel()

		pol := testPolicy()
		pol.MaxVerificationAttempts = 1

		h := newTestEngine(t, pol)

		pending, err := h.engine.OnMemberJoined(t.Context(), 1, 100)
		require.NoError(t, err)
		require.NotNil(t, pending)

		outcome, err := h.engine.SubmitAnswer(t.Context(), 1, 100, "definitely wrong")
		require.NoError(t, err)
		assert.Equal(t, challenge.OutcomeFailed, outcome.Status)

		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("kick"))
	})

	t.Run("removed member is rechallenged on rejoin", func(t *testing.T) {
		t.Parallel()

		pol := testPolicy()
		pol.MaxVerificationAttempts = 1

		h := newTestEngine(t, pol)

		pending, err := h.engine.OnMemberJoined(t.Context(), 1, 100)
		require.NoError(t, err)
		require.NotNil(t, pending)

		outcome, err := h.engine.SubmitAnswer(t.Context(), 1, 100, "definitely wrong")
		require.NoError(t, err)
		assert.Equal(t, challenge.OutcomeFailed, outcome.Status)

		// The failed challenge released the join dedup marker, so an
		// immediate rejoin must restrict and challenge again instead of
		// admitting the member unverified.
		rejoined, err := h.engine.OnMemberJoined(t.Context(), 1, 100)
		require.NoError(t, err)
		require.NotNil(t, rejoined)

		h.engine.Close()
		assert.Equal(t, 2, h.platform.count("restrict"))
	})

	t.Run("leave during verification cancels quietly", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		pending, err := h.engine.OnMemberJoined(t.Context(), 1, 100)
		require.NoError(t, err)
		require.NotNil(t, pending)

		require.NoError(t, h.engine.OnMemberLeft(t.Context(), 1, 100))

		_, err = h.engine.SubmitAnswer(t.Context(), 1, 100, pending.Answer)
		require.ErrorIs(t, err, challenge.ErrNoChallenge)

		h.engine.Close()
		assert.Equal(t, 0, h.platform.count("kick"))
	})

	t.Run("disabled verification admits directly", func(t *testing.T) {
		t.Parallel()

		pol := testPolicy()
		pol.VerificationEnabled = false

		h := newTestEngine(t, pol)

		pending, err := h.engine.OnMemberJoined(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Nil(t, pending)

		h.engine.Close()
		assert.Equal(t, 0, h.platform.count("restrict"))
	})
}

func TestEngineFlood(t *testing.T) {
	t.Parallel()

	t.Run("burst over the limit mutes once", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		for range 4 {
			require.NoError(t, h.engine.OnMessage(t.Context(), 1, 100))
		}

		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("restrict"))
	})

	t.Run("messages within the limit pass", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		for range 3 {
			require.NoError(t, h.engine.OnMessage(t.Context(), 1, 100))
		}

		h.engine.Close()
		assert.Equal(t, 0, h.platform.count("restrict"))
	})

	t.Run("flood can count toward the warning ledger", func(t *testing.T) {
		t.Parallel()

		pol := testPolicy()
		pol.FloodCountsAsWarning = true
		pol.MaxWarnings = 1

		h := newTestEngine(t, pol)

		for range 4 {
			require.NoError(t, h.engine.OnMessage(t.Context(), 1, 100))
		}

		// One flood warning at a limit of one escalates straight to a kick
		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("kick"))
	})
}

func TestEngineWarnings(t *testing.T) {
	t.Parallel()

	t.Run("warning below the limit does not remove", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		result, err := h.engine.Warn(t.Context(), 1, 100, 99, "spam")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Count)
		assert.False(t, result.Escalated)

		h.engine.Close()
		assert.Equal(t, 0, h.platform.count("kick"))
		assert.Contains(t, h.audit.actions(), "warn")
	})

	t.Run("reaching the limit kicks and resets", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		_, err := h.engine.Warn(t.Context(), 1, 100, 99, "spam")
		require.NoError(t, err)

		result, err := h.engine.Warn(t.Context(), 1, 100, 99, "spam again")
		require.NoError(t, err)
		assert.True(t, result.Escalated)

		count, err := h.engine.WarningCount(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("kick"))
	})

	t.Run("unwarn forgives", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		_, err := h.engine.Warn(t.Context(), 1, 100, 99, "spam")
		require.NoError(t, err)

		result, err := h.engine.Unwarn(t.Context(), 1, 100, 99)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Count)

		h.engine.Close()
		assert.Contains(t, h.audit.actions(), "unwarn")
	})
}

func TestEngineModeration(t *testing.T) {
	t.Parallel()

	t.Run("direct commands reach the platform", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		h.engine.Kick(t.Context(), 1, 100, 99, "manual")
		h.engine.Ban(t.Context(), 2, 100, 99, "manual")
		h.engine.Unban(t.Context(), 2, 100, 99)
		h.engine.Mute(t.Context(), 3, 100, 99, time.Minute, "manual")
		h.engine.Unmute(t.Context(), 3, 100, 99)

		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("kick"))
		assert.Equal(t, 1, h.platform.count("ban"))
		assert.Equal(t, 1, h.platform.count("unban"))
		assert.Equal(t, 1, h.platform.count("restrict"))
		assert.Equal(t, 1, h.platform.count("unrestrict"))
	})

	t.Run("mute falls back to the policy duration", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		h.engine.Mute(t.Context(), 1, 100, 99, 0, "manual")

		h.engine.Close()
		assert.Equal(t, 1, h.platform.count("restrict"))
	})
}

func TestEngineStats(t *testing.T) {
	t.Parallel()

	h := newTestEngine(t, testPolicy())

	groupStats, err := h.engine.Stats(t.Context(), 100)
	require.NoError(t, err)
	require.NotNil(t, groupStats.Warnings)
	assert.Equal(t, uint64(100), groupStats.Warnings.GroupID)
	assert.NotNil(t, groupStats.Counters)

	h.engine.Close()
}

func TestEnginePolicy(t *testing.T) {
	t.Parallel()

	t.Run("save round-trips through the cache", func(t *testing.T) {
		t.Parallel()

		h := newTestEngine(t, testPolicy())

		pol, err := h.engine.Policy(t.Context(), 100)
		require.NoError(t, err)

		pol.MaxWarnings = 7
		require.NoError(t, h.engine.SavePolicy(t.Context(), pol))

		updated, err := h.engine.Policy(t.Context(), 100)
		require.NoError(t, err)
		assert.Equal(t, 7, updated.MaxWarnings)

		h.engine.Close()
	})
}
