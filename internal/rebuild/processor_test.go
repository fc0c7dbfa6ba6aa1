package rebuild

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradevault/journal-api/internal/types"
)

func TestProcessPendingUsersRebuildsEachPendingUser(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(db)
	processor := NewProcessor(service, time.Minute, 2)

	seedOrder(t, db, "user-1", seedFill{symbol: "AAPL", side: types.SideBuy, qty: "100", price: "10"})
	seedOrder(t, db, "user-1", seedFill{symbol: "AAPL", side: types.SideSell, qty: "100", price: "12", offsetMin: 60})
	seedOrder(t, db, "user-2", seedFill{symbol: "MSFT", side: types.SideBuy, qty: "10", price: "5"})

	require.NoError(t, processor.processPendingUsers(context.Background()))

	assert.Len(t, loadUserTrades(t, db, "user-1"), 1)
	assert.Len(t, loadUserTrades(t, db, "user-2"), 1)

	pending, err := service.db.GetPendingUserIDs()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessPendingUsersToleratesUnmatchableBacklog(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(db)
	processor := NewProcessor(service, time.Minute, 2)

	// This user's only pending order can never be matched, so they stay in
	// the pending set; every tick must still be a quiet no-op.
	stale := seedOrder(t, db, "user-1", seedFill{symbol: "AAPL", side: types.SideBuy, qty: "5", price: "10", noTime: true})

	for i := 0; i < 3; i++ {
		require.NoError(t, processor.processPendingUsers(context.Background()))
	}

	assert.Empty(t, loadUserTrades(t, db, "user-1"))
	stored := loadOrder(t, db, stale.OrderID)
	assert.False(t, stored.UsedInTrade)

	pending, err := service.db.GetPendingUserIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, pending)
}

func TestProcessPendingUsersStopsOnCancelledContext(t *testing.T) {
	db := setupTestDB(t)
	service := newTestService(db)
	processor := NewProcessor(service, time.Minute, 2)

	seedOrder(t, db, "user-1", seedFill{symbol: "AAPL", side: types.SideBuy, qty: "100", price: "10"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := processor.processPendingUsers(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
