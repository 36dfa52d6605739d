package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/lore/internal/store"
)

func TestSuccessRate(t *testing.T) {
	rate, ok := Signal{PassCalls: 3, FailCalls: 1, Calls: 10}.SuccessRate()
	assert.True(t, ok)
	assert.InDelta(t, 0.75, rate, 1e-9)

	rate, ok = Signal{Calls: 5}.SuccessRate()
	assert.False(t, ok)
	assert.Zero(t, rate)
}

func TestSince(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, Since(now, 0))
	got := Since(now, 3)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC), *got)
}

func TestStoreProvider(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	for _, o := range []store.Outcome{store.OutcomePass, store.OutcomeFail, store.OutcomePass} {
		require.NoError(t, db.RecordExecution(ctx, &store.Execution{Kind: store.KindTool, EntityID: 4, Outcome: o, Reused: true}))
	}

	m, err := NewStoreProvider(db).GetQualityMap(ctx, store.KindTool, []int64{4, 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, Signal{Calls: 3, ReuseCalls: 3, PassCalls: 2, FailCalls: 1}, m[4])
	assert.NotContains(t, m, int64(5))
}

func TestStatic(t *testing.T) {
	s := Static{store.KindSkill: {1: {PassCalls: 1}}}
	m, err := s.GetQualityMap(context.Background(), store.KindSkill, []int64{1, 2}, nil)
	require.NoError(t, err)
	assert.Len(t, m, 1)
}
