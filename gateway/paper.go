package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"volguard-go/market"
)

// PaperGateway is an in-memory venue for paper trading and tests. Market data
// is synthetic; orders fill instantly at last price. Safe for concurrent use
// by the patrol and evaluation loops.
type PaperGateway struct {
	SpotLevel float64
	VIXLevel  float64
	Capital   float64
	LotSize   int

	mu        sync.Mutex
	rng       *rand.Rand
	positions []Position
	orders    map[string]OrderStatus
	nextID    int
	pnl       float64
}

// NewPaperGateway seeds a deterministic paper venue.
func NewPaperGateway(seed int64) *PaperGateway {
	return &PaperGateway{
		SpotLevel: 24500.0,
		VIXLevel:  14.5,
		Capital:   1_000_000,
		LotSize:   50,
		rng:       rand.New(rand.NewSource(seed)),
		orders:    make(map[string]OrderStatus),
	}
}

// Spot returns the configured synthetic level for the key.
func (g *PaperGateway) Spot(ctx context.Context, instrumentKey string) float64 {
	if isVIXKey(instrumentKey) {
		return g.VIXLevel
	}
	return g.SpotLevel
}

func isVIXKey(key string) bool {
	return strings.Contains(key, "VIX")
}

// History generates 400 synthetic daily bars: a drifting underlying or a
// mean-reverting vol index.
func (g *PaperGateway) History(ctx context.Context, instrumentKey string, days int) market.Series {
	g.mu.Lock()
	defer g.mu.Unlock()

	const n = 400
	out := make(market.Series, 0, n)
	// Midnight-anchored dates keep same-seed histories byte-equal.
	y, m, d := time.Now().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n)
	vix := isVIXKey(instrumentKey)
	for i := 0; i < n; i++ {
		var closeP float64
		if vix {
			closeP = 15 + g.rng.NormFloat64()*2
			if closeP < 8 {
				closeP = 8
			}
		} else {
			closeP = 22000 + 2000*float64(i)/float64(n-1) + g.rng.NormFloat64()*50
		}
		out = append(out, market.Bar{
			Date:  start.AddDate(0, 0, i),
			Close: closeP,
			High:  closeP + 10,
			Low:   closeP - 10,
		})
	}
	return out
}

// Chain generates a synthetic chain around the spot level. Premiums slope
// with moneyness so spreads collect a nonzero net credit.
func (g *PaperGateway) Chain(ctx context.Context, expiry time.Time) market.Chain {
	out := make(market.Chain, 0, 40)
	for strike := 23000.0; strike < 25000.0; strike += 50 {
		dist := strike - g.SpotLevel
		callLTP := 100 - dist*0.05
		putLTP := 100 + dist*0.05
		if callLTP < 5 {
			callLTP = 5
		}
		if putLTP < 5 {
			putLTP = 5
		}
		out = append(out, market.ChainRow{
			Strike:    strike,
			CallIV:    15,
			PutIV:     15,
			CallDelta: 0.5,
			PutDelta:  -0.5,
			CallGamma: 0.002,
			PutGamma:  0.002,
			CallOI:    100000,
			PutOI:     100000,
			CallLTP:   callLTP,
			PutLTP:    putLTP,
			CallKey:   fmt.Sprintf("PAPER|CE|%.0f", strike),
			PutKey:    fmt.Sprintf("PAPER|PE|%.0f", strike),
		})
	}
	return out
}

// Expiries mirrors the live client's local calendar.
func (g *PaperGateway) Expiries(ctx context.Context) (Expiries, error) {
	weekly := market.NextWeekday(time.Now(), time.Thursday)
	return Expiries{
		Weekly:     weekly,
		Monthly:    weekly.AddDate(0, 0, 21),
		NextWeekly: weekly.AddDate(0, 0, 7),
		LotSize:    g.LotSize,
	}, nil
}

// AvailableCapital returns the paper account balance.
func (g *PaperGateway) AvailableCapital(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Capital, nil
}

// OpenPositions lists paper positions; the configured P&L is spread over the
// first position so aggregate P&L sums correctly.
func (g *PaperGateway) OpenPositions(ctx context.Context) ([]Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Position, len(g.positions))
	copy(out, g.positions)
	if len(out) > 0 {
		out[0].PnL = g.pnl
	}
	return out, nil
}

// SetPnL sets the aggregate paper P&L observed by OpenPositions.
func (g *PaperGateway) SetPnL(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pnl = pnl
}

// RequiredMargin approximates venue margin: a flat block per short leg plus a
// smaller block per long leg.
func (g *PaperGateway) RequiredMargin(ctx context.Context, legs []Leg) (float64, error) {
	const (
		sellBase = 125_000
		buyBase  = 30_000
	)
	total := 0.0
	for _, l := range legs {
		if l.Side == SideSell {
			total += sellBase
		} else {
			total += buyBase
		}
	}
	return total, nil
}

// PlaceOrder fills the leg instantly at its last price.
func (g *PaperGateway) PlaceOrder(ctx context.Context, leg Leg) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("PAPER-%d", g.nextID)
	price := leg.LastPrice
	if price <= 0 {
		price = leg.LimitPrice
	}
	g.orders[id] = OrderStatus{Status: "complete", AvgPrice: price, FilledQty: leg.Quantity}
	qty := leg.Quantity
	if leg.Side == SideSell {
		qty = -qty
	}
	g.positions = append(g.positions, Position{InstrumentKey: leg.InstrumentKey, Quantity: qty})
	return id, nil
}

// OrderStatus looks up a paper fill.
func (g *PaperGateway) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.orders[orderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("unknown paper order %s", orderID)
	}
	return st, nil
}

// CancelAllPositions squares off every paper position.
func (g *PaperGateway) CancelAllPositions(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions = nil
	g.pnl = 0
	return nil
}

var _ MarketData = (*PaperGateway)(nil)
var _ Execution = (*PaperGateway)(nil)
