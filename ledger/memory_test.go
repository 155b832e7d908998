package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)

	trade, err := m.LastOpenTrade(ctx)
	require.NoError(t, err)
	assert.Nil(t, trade)

	require.NoError(t, m.RecordOpen(ctx, "SHORT_STRANGLE", expiry, 10250))

	trade, err = m.LastOpenTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "SHORT_STRANGLE", trade.Strategy)
	assert.Equal(t, expiry, trade.Expiry)
	assert.Equal(t, 10250.0, trade.EntryPremium)

	require.NoError(t, m.RecordClose(ctx, "PROFIT_TARGET_50%", 5125))

	trade, err = m.LastOpenTrade(ctx)
	require.NoError(t, err)
	assert.Nil(t, trade)

	trades := m.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, StatusClosed, trades[0].Status)
	assert.Equal(t, "PROFIT_TARGET_50%", trades[0].ExitReason)
	assert.Equal(t, 5125.0, trades[0].RealizedPnL)
}

func TestMemoryStoreClosesNewestFirst(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	expiry := time.Date(2025, 8, 28, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordOpen(ctx, "IRON_CONDOR", expiry, 6400))
	require.NoError(t, m.RecordOpen(ctx, "CREDIT_SPREAD", expiry, 2100))
	require.NoError(t, m.RecordClose(ctx, "STOP_LOSS_50%", -1050))

	trades := m.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, StatusOpen, trades[0].Status)
	assert.Equal(t, StatusClosed, trades[1].Status)

	trade, err := m.LastOpenTrade(ctx)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "IRON_CONDOR", trade.Strategy)
}

func TestMemoryStoreCloseEmptyBook(t *testing.T) {
	m := NewMemoryStore()
	assert.NoError(t, m.RecordClose(context.Background(), "T-1_AUTO_EXIT", 0))
	assert.Empty(t, m.Trades())
}
