package market

import "math"

// ChainRow is one strike of an option-chain snapshot with call and put data.
type ChainRow struct {
	Strike    float64
	CallIV    float64
	PutIV     float64
	CallDelta float64
	PutDelta  float64
	CallGamma float64
	PutGamma  float64
	CallOI    float64
	PutOI     float64
	CallLTP   float64
	PutLTP    float64
	CallKey   string
	PutKey    string
}

// Chain is an option-chain snapshot for a single expiry, in venue row order.
type Chain []ChainRow

// Empty reports whether the chain has no rows.
func (c Chain) Empty() bool { return len(c) == 0 }

// NearestStrike returns the row whose strike is closest to spot.
// Ties resolve to the earlier row. ok is false for an empty chain.
func (c Chain) NearestStrike(spot float64) (row ChainRow, ok bool) {
	if len(c) == 0 {
		return ChainRow{}, false
	}
	best := 0
	bestDist := math.Abs(c[0].Strike - spot)
	for i := 1; i < len(c); i++ {
		d := math.Abs(c[i].Strike - spot)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return c[best], true
}

// NearestTo returns the row closest to a target price level, e.g. 0.97*spot
// for a short put leg.
func (c Chain) NearestTo(target float64) (ChainRow, bool) {
	return c.NearestStrike(target)
}
