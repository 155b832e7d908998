// Package strategy builds option leg baskets for a trading mandate.
package strategy

import (
	"context"

	"volguard-go/gateway"
	"volguard-go/market"
	"volguard-go/regime"
)

// Constructor selects strikes for the mandated structure. Stateless.
type Constructor struct {
	md  gateway.MarketData
	key string // index instrument key for the spot read
	qty int    // contracts per leg (one lot)
}

// NewConstructor builds a constructor reading spot for the given index key.
func NewConstructor(md gateway.MarketData, indexKey string, lotSize int) *Constructor {
	return &Constructor{md: md, key: indexKey, qty: lotSize}
}

// Build returns the legs for the mandate's strategy, longs first so wings are
// on before the shorts. CASH mandates and empty chains return nil.
func (c *Constructor) Build(ctx context.Context, mandate regime.Mandate) []gateway.Leg {
	if mandate.RegimeName == regime.RegimeCash {
		return nil
	}
	spot := c.md.Spot(ctx, c.key)
	if spot <= 0 {
		return nil
	}
	chain := c.md.Chain(ctx, mandate.ExpiryDate)
	if chain.Empty() {
		return nil
	}

	switch mandate.StrategyType {
	case regime.StrategyStrangle:
		return c.fourLeg(chain, spot, 1.03, 0.97, 1.08, 0.92)
	case regime.StrategyIronCondor:
		return c.fourLeg(chain, spot, 1.02, 0.98, 1.04, 0.96)
	case regime.StrategyCreditSpread:
		return c.putSpread(chain, spot, 0.98, 0.96)
	default:
		return nil
	}
}

// fourLeg builds a short call/put pair with long wings at the given spot
// multiples.
func (c *Constructor) fourLeg(chain market.Chain, spot, shortCE, shortPE, longCE, longPE float64) []gateway.Leg {
	sc, ok1 := chain.NearestTo(spot * shortCE)
	sp, ok2 := chain.NearestTo(spot * shortPE)
	lc, ok3 := chain.NearestTo(spot * longCE)
	lp, ok4 := chain.NearestTo(spot * longPE)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	return []gateway.Leg{
		{InstrumentKey: lc.CallKey, Side: gateway.SideBuy, Quantity: c.qty, LastPrice: lc.CallLTP},
		{InstrumentKey: lp.PutKey, Side: gateway.SideBuy, Quantity: c.qty, LastPrice: lp.PutLTP},
		{InstrumentKey: sc.CallKey, Side: gateway.SideSell, Quantity: c.qty, LastPrice: sc.CallLTP},
		{InstrumentKey: sp.PutKey, Side: gateway.SideSell, Quantity: c.qty, LastPrice: sp.PutLTP},
	}
}

// putSpread builds the defensive credit spread: long put below, short put
// above it.
func (c *Constructor) putSpread(chain market.Chain, spot, shortPE, longPE float64) []gateway.Leg {
	sp, ok1 := chain.NearestTo(spot * shortPE)
	lp, ok2 := chain.NearestTo(spot * longPE)
	if !ok1 || !ok2 {
		return nil
	}
	return []gateway.Leg{
		{InstrumentKey: lp.PutKey, Side: gateway.SideBuy, Quantity: c.qty, LastPrice: lp.PutLTP},
		{InstrumentKey: sp.PutKey, Side: gateway.SideSell, Quantity: c.qty, LastPrice: sp.PutLTP},
	}
}
