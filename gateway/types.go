// Package gateway holds the collaborator contracts the decision core consumes
// (market data, positioning data, execution venue) and their implementations.
package gateway

import (
	"context"
	"time"

	"volguard-go/market"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Leg is one option order leg of a multi-leg structure.
type Leg struct {
	InstrumentKey string
	Side          string
	Quantity      int
	LimitPrice    float64
	LastPrice     float64
}

// Position is one open position with its running P&L.
type Position struct {
	InstrumentKey string
	Quantity      int
	PnL           float64
}

// OrderStatus is a venue order's fill state.
type OrderStatus struct {
	Status    string // "complete", "open", "rejected", ...
	AvgPrice  float64
	FilledQty int
}

// Expiries is the venue's expiry calendar for the traded index.
type Expiries struct {
	Weekly     time.Time
	Monthly    time.Time
	NextWeekly time.Time
	LotSize    int
}

// MarketData provides quotes, history and option chains. Implementations
// tolerate transient venue failures by returning an explicitly empty result
// (and logging) rather than erroring into the analytics pipeline.
type MarketData interface {
	Spot(ctx context.Context, instrumentKey string) float64
	History(ctx context.Context, instrumentKey string, days int) market.Series
	Chain(ctx context.Context, expiry time.Time) market.Chain
	Expiries(ctx context.Context) (Expiries, error)
}

// Execution is the broker-side collaborator the sentinel and executor act
// through. Errors here are real: callers log them and treat the cycle as
// having no data.
type Execution interface {
	AvailableCapital(ctx context.Context) (float64, error)
	OpenPositions(ctx context.Context) ([]Position, error)
	RequiredMargin(ctx context.Context, legs []Leg) (float64, error)
	PlaceOrder(ctx context.Context, leg Leg) (orderID string, err error)
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	CancelAllPositions(ctx context.Context) error
}

// Positioning provides participant-wise futures flow for the latest
// published trading day.
type Positioning interface {
	ParticipantFlow(ctx context.Context) (flows map[string]market.ParticipantFlow, dataDate string, err error)
}
