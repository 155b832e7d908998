// Package ledger persists trade records so sentinel state survives restarts.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Trade statuses.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Trade is one row of the trades table.
type Trade struct {
	ID           int64     `db:"id"`
	Timestamp    time.Time `db:"ts"`
	Strategy     string    `db:"strategy_type"`
	Expiry       time.Time `db:"expiry"`
	Status       string    `db:"status"`
	EntryPremium float64   `db:"entry_premium"`
	RealizedPnL  float64   `db:"realized_pnl"`
	ExitReason   string    `db:"exit_reason"`
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id            BIGSERIAL PRIMARY KEY,
	ts            TIMESTAMPTZ NOT NULL DEFAULT now(),
	strategy_type TEXT NOT NULL,
	expiry        DATE NOT NULL,
	status        TEXT NOT NULL DEFAULT 'OPEN',
	entry_premium DOUBLE PRECISION NOT NULL DEFAULT 0,
	realized_pnl  DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_reason   TEXT NOT NULL DEFAULT ''
)`

// Store is a Postgres-backed trade ledger. Append/update only: one open
// record per active trade.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Store{db: db, timeout: 5 * time.Second}, nil
}

// NewWithDB wraps an existing connection (tests).
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db, timeout: 5 * time.Second}
}

// RecordOpen appends an OPEN record for a freshly confirmed trade.
func (s *Store) RecordOpen(ctx context.Context, strategy string, expiry time.Time, entryPremium float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (strategy_type, expiry, entry_premium) VALUES ($1, $2, $3)`,
		strategy, expiry, entryPremium)
	if err != nil {
		return fmt.Errorf("record open: %w", err)
	}
	return nil
}

// RecordClose closes the most recent OPEN record with the exit reason and
// realized P&L. Closing with no open record is a no-op.
func (s *Store) RecordClose(ctx context.Context, reason string, realizedPnL float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = $1, exit_reason = $2, realized_pnl = $3
		WHERE id = (SELECT id FROM trades WHERE status = $4 ORDER BY id DESC LIMIT 1)`,
		StatusClosed, reason, realizedPnL, StatusOpen)
	if err != nil {
		return fmt.Errorf("record close: %w", err)
	}
	return nil
}

// LastOpenTrade returns the most recent OPEN record, or nil when none exists.
// Used for restart recovery while positions are live.
func (s *Store) LastOpenTrade(ctx context.Context) (*Trade, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var t Trade
	err := s.db.GetContext(ctx, &t,
		`SELECT id, ts, strategy_type, expiry, status, entry_premium, realized_pnl, exit_reason
		 FROM trades WHERE status = $1 ORDER BY id DESC LIMIT 1`, StatusOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last open trade: %w", err)
	}
	return &t, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
