package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process ledger for paper trading and tests. Same
// append/update semantics as the Postgres store, nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	trades []Trade
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (m *MemoryStore) RecordOpen(_ context.Context, strategy string, expiry time.Time, entryPremium float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, Trade{
		ID:           m.nextID,
		Timestamp:    time.Now(),
		Strategy:     strategy,
		Expiry:       expiry,
		Status:       StatusOpen,
		EntryPremium: entryPremium,
	})
	m.nextID++
	return nil
}

func (m *MemoryStore) RecordClose(_ context.Context, reason string, realizedPnL float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].Status == StatusOpen {
			m.trades[i].Status = StatusClosed
			m.trades[i].ExitReason = reason
			m.trades[i].RealizedPnL = realizedPnL
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) LastOpenTrade(_ context.Context) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].Status == StatusOpen {
			cp := m.trades[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// Trades returns a snapshot of every record, newest last.
func (m *MemoryStore) Trades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}
