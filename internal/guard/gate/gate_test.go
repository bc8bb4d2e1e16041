package gate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard/challenge"
	"github.com/wardenbot/warden/internal/guard/enforce"
	"github.com/wardenbot/warden/internal/guard/gate"
	"go.uber.org/zap/zaptest"
)

// fakeChallenger records Start calls and can simulate an open challenge.
type fakeChallenger struct {
	mu        sync.Mutex
	starts    int
	duplicate bool
}

func (f *fakeChallenger) Start(
	_ context.Context, memberID, groupID uint64, policy *types.GroupPolicy,
) (*types.PendingVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++

	if f.duplicate {
		return nil, challenge.ErrDuplicateChallenge
	}

	return &types.PendingVerification{
		MemberID:      memberID,
		GroupID:       groupID,
		ChallengeType: policy.ChallengeType,
		IssuedAt:      time.Now(),
		Deadline:      time.Now().Add(policy.VerificationTimeoutDuration()),
		MaxAttempts:   policy.MaxVerificationAttempts,
	}, nil
}

func (f *fakeChallenger) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.starts
}

// recordSink collects submitted intents.
type recordSink struct {
	mu      sync.Mutex
	intents []*enforce.Intent
}

func (s *recordSink) Submit(intent *enforce.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intents = append(s.intents, intent)
}

func (s *recordSink) all() []*enforce.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*enforce.Intent(nil), s.intents...)
}

func enabledPolicy() *types.GroupPolicy {
	return &types.GroupPolicy{
		GroupID:                 100,
		VerificationEnabled:     true,
		ChallengeType:           types.ChallengeTypeButton,
		VerificationTimeout:     120,
		MaxVerificationAttempts: 3,
	}
}

func TestGateOnMemberJoined(t *testing.T) {
	t.Parallel()

	t.Run("restricts and opens a challenge", func(t *testing.T) {
		t.Parallel()

		challenger := &fakeChallenger{}
		sink := &recordSink{}
		g := gate.New(challenger, sink, zaptest.NewLogger(t))

		pending, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, 1, challenger.startCount())

		intents := sink.all()
		require.Len(t, intents, 1)
		assert.Equal(t, enforce.ActionRestrict, intents[0].Action)
		assert.NotEmpty(t, intents[0].IdempotencyKey)
	})

	t.Run("disabled verification is a no-op", func(t *testing.T) {
		t.Parallel()

		challenger := &fakeChallenger{}
		sink := &recordSink{}
		g := gate.New(challenger, sink, zaptest.NewLogger(t))

		policy := enabledPolicy()
		policy.VerificationEnabled = false

		pending, err := g.OnMemberJoined(t.Context(), 1, 100, policy)
		require.NoError(t, err)
		assert.Nil(t, pending)
		assert.Equal(t, 0, challenger.startCount())
		assert.Empty(t, sink.all())
	})

	t.Run("duplicate join delivery is ignored", func(t *testing.T) {
		t.Parallel()

		challenger := &fakeChallenger{}
		sink := &recordSink{}
		g := gate.New(challenger, sink, zaptest.NewLogger(t))

		first, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
		require.NoError(t, err)
		assert.Nil(t, second)
		assert.Equal(t, 1, challenger.startCount())
		assert.Len(t, sink.all(), 1)
	})

	t.Run("open challenge is treated as duplicate", func(t *testing.T) {
		t.Parallel()

		challenger := &fakeChallenger{duplicate: true}
		sink := &recordSink{}
		g := gate.New(challenger, sink, zaptest.NewLogger(t))

		pending, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
		require.NoError(t, err)
		assert.Nil(t, pending)
	})

	t.Run("distinct members pass independently", func(t *testing.T) {
		t.Parallel()

		challenger := &fakeChallenger{}
		sink := &recordSink{}
		g := gate.New(challenger, sink, zaptest.NewLogger(t))

		_, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
		require.NoError(t, err)
		_, err = g.OnMemberJoined(t.Context(), 2, 100, enabledPolicy())
		require.NoError(t, err)

		assert.Equal(t, 2, challenger.startCount())
	})
}

func TestGateForget(t *testing.T) {
	t.Parallel()

	challenger := &fakeChallenger{}
	sink := &recordSink{}
	g := gate.New(challenger, sink, zaptest.NewLogger(t))

	_, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
	require.NoError(t, err)

	// After leaving, an immediate rejoin starts a fresh challenge
	g.Forget(1, 100)

	pending, err := g.OnMemberJoined(t.Context(), 1, 100, enabledPolicy())
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 2, challenger.startCount())
}
