package warnings_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard/warnings"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory warnings.Store.
type memStore struct {
	mu      sync.Mutex
	records map[[2]uint64]*types.WarningRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[[2]uint64]*types.WarningRecord)}
}

func (s *memStore) GetWarnings(
	_ context.Context, memberID, groupID uint64,
) (*types.WarningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[[2]uint64{memberID, groupID}]
	if !ok {
		return &types.WarningRecord{MemberID: memberID, GroupID: groupID}, nil
	}

	clone := *record
	clone.History = append([]types.WarningEntry(nil), record.History...)

	return &clone, nil
}

func (s *memStore) SaveWarnings(_ context.Context, record *types.WarningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	clone.History = append([]types.WarningEntry(nil), record.History...)
	s.records[[2]uint64{record.MemberID, record.GroupID}] = &clone

	return nil
}

func (s *memStore) AggregateWarnings(
	_ context.Context, groupID uint64,
) (*types.WarningStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &types.WarningStats{GroupID: groupID}

	for key, record := range s.records {
		if key[1] != groupID {
			continue
		}

		if record.Count > 0 {
			stats.WarnedMembers++
		}

		stats.ActiveWarnings += record.Count
	}

	return stats, nil
}

func TestLedgerAdd(t *testing.T) {
	t.Parallel()

	t.Run("counts accumulate", func(t *testing.T) {
		t.Parallel()

		ledger := warnings.New(newMemStore(), zaptest.NewLogger(t))

		result, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 3)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Count)
		assert.False(t, result.Escalated)

		result, err = ledger.Add(t.Context(), 1, 100, "spam again", 99, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Count)
		assert.False(t, result.Escalated)
	})

	t.Run("reaching the limit escalates and resets", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		ledger := warnings.New(store, zaptest.NewLogger(t))

		for range 2 {
			_, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 3)
			require.NoError(t, err)
		}

		result, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Count)
		assert.True(t, result.Escalated)

		// Count resets so a future return starts clean, history is kept
		count, err := ledger.Count(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		record, err := store.GetWarnings(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Len(t, record.History, 3)
	})

	t.Run("limit of one removes on first warning", func(t *testing.T) {
		t.Parallel()

		ledger := warnings.New(newMemStore(), zaptest.NewLogger(t))

		result, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 1)
		require.NoError(t, err)
		assert.True(t, result.Escalated)
	})

	t.Run("concurrent warnings never lose updates", func(t *testing.T) {
		t.Parallel()

		ledger := warnings.New(newMemStore(), zaptest.NewLogger(t))

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 100)
				assert.NoError(t, err)
			}()
		}

		wg.Wait()

		count, err := ledger.Count(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 10, count)
	})
}

func TestLedgerRemove(t *testing.T) {
	t.Parallel()

	t.Run("forgives one warning", func(t *testing.T) {
		t.Parallel()

		ledger := warnings.New(newMemStore(), zaptest.NewLogger(t))

		_, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 5)
		require.NoError(t, err)
		_, err = ledger.Add(t.Context(), 1, 100, "spam", 99, 5)
		require.NoError(t, err)

		result, err := ledger.Remove(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Count)
	})

	t.Run("count floors at zero", func(t *testing.T) {
		t.Parallel()

		ledger := warnings.New(newMemStore(), zaptest.NewLogger(t))

		result, err := ledger.Remove(t.Context(), 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Count)
	})
}

func TestLedgerGroupStats(t *testing.T) {
	t.Parallel()

	ledger := warnings.New(newMemStore(), zaptest.NewLogger(t))

	_, err := ledger.Add(t.Context(), 1, 100, "spam", 99, 10)
	require.NoError(t, err)
	_, err = ledger.Add(t.Context(), 1, 100, "spam", 99, 10)
	require.NoError(t, err)
	_, err = ledger.Add(t.Context(), 2, 100, "spam", 99, 10)
	require.NoError(t, err)
	_, err = ledger.Add(t.Context(), 3, 200, "spam", 99, 10)
	require.NoError(t, err)

	stats, err := ledger.GroupStats(t.Context(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.WarnedMembers)
	assert.Equal(t, 3, stats.ActiveWarnings)
}
