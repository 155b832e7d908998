// Package execution submits mandated leg baskets to the venue and accounts
// for the net premium collected.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"volguard-go/gateway"
	"volguard-go/regime"
)

// Recorder is the subset of the trade ledger the executor writes to.
type Recorder interface {
	RecordOpen(ctx context.Context, strategy string, expiry time.Time, entryPremium float64) error
}

// Registrar is the subset of the risk sentinel the executor notifies after a
// confirmed fill.
type Registrar interface {
	RegisterTrade(expiry time.Time, entryPremium float64, strategy string)
}

// Config tunes fill confirmation polling.
type Config struct {
	PollInterval time.Duration
	PollAttempts int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 20
	}
	return c
}

// Result summarizes a completed multi-leg entry.
type Result struct {
	BatchID      string
	EntryPremium float64 // net credit: sell fills minus buy fills, in rupees
	OrderIDs     []string
}

// Executor places leg baskets. Legs are submitted in slice order, so
// constructors put the long wings first.
type Executor struct {
	cfg   Config
	venue gateway.Execution
	store Recorder
	risk  Registrar
	log   *zap.Logger
}

func NewExecutor(cfg Config, venue gateway.Execution, store Recorder, risk Registrar, log *zap.Logger) *Executor {
	return &Executor{
		cfg:   cfg.withDefaults(),
		venue: venue,
		store: store,
		risk:  risk,
		log:   log,
	}
}

// Execute submits every leg, waits for each fill, then registers the trade
// with the sentinel and the ledger. A leg that fails or never fills aborts
// the basket with an error; already-filled legs are left to the sentinel's
// patrol to unwind.
func (e *Executor) Execute(ctx context.Context, mandate regime.Mandate, legs []gateway.Leg) (Result, error) {
	if len(legs) == 0 {
		return Result{}, errors.New("no legs to execute")
	}

	res := Result{BatchID: uuid.NewString()}
	log := e.log.With(zap.String("batch", res.BatchID), zap.String("strategy", mandate.StrategyType))

	for _, leg := range legs {
		orderID, err := e.venue.PlaceOrder(ctx, leg)
		if err != nil {
			return res, fmt.Errorf("place %s %s: %w", leg.Side, leg.InstrumentKey, err)
		}
		res.OrderIDs = append(res.OrderIDs, orderID)

		fill, err := e.awaitFill(ctx, orderID)
		if err != nil {
			return res, fmt.Errorf("confirm %s %s: %w", leg.Side, leg.InstrumentKey, err)
		}

		premium := fill.AvgPrice * float64(leg.Quantity)
		if leg.Side == gateway.SideSell {
			res.EntryPremium += premium
		} else {
			res.EntryPremium -= premium
		}
		log.Info("leg filled",
			zap.String("instrument", leg.InstrumentKey),
			zap.String("side", leg.Side),
			zap.Float64("avg_price", fill.AvgPrice),
			zap.Int("qty", leg.Quantity))
	}

	e.risk.RegisterTrade(mandate.ExpiryDate, res.EntryPremium, mandate.StrategyType)
	if err := e.store.RecordOpen(ctx, mandate.StrategyType, mandate.ExpiryDate, res.EntryPremium); err != nil {
		// The trade is live regardless; the ledger catches up on restart.
		log.Error("ledger open record failed", zap.Error(err))
	}

	log.Info("entry complete", zap.Float64("entry_premium", res.EntryPremium))
	return res, nil
}

// awaitFill polls the venue until the order reports complete or the attempt
// budget runs out.
func (e *Executor) awaitFill(ctx context.Context, orderID string) (gateway.OrderStatus, error) {
	var last gateway.OrderStatus
	for i := 0; i < e.cfg.PollAttempts; i++ {
		st, err := e.venue.OrderStatus(ctx, orderID)
		if err != nil {
			return last, err
		}
		last = st
		switch st.Status {
		case "complete":
			return st, nil
		case "rejected", "cancelled":
			return st, fmt.Errorf("order %s %s", orderID, st.Status)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(e.cfg.PollInterval):
		}
	}
	return last, fmt.Errorf("order %s not filled after %d polls", orderID, e.cfg.PollAttempts)
}
