package market

import "math"

// StructRegime is the categorical dealer-positioning regime. The pipeline
// does not yet compute a non-neutral value; the field exists so the
// classifier's sticky-gamma branch has something to key on once it does.
type StructRegime string

const StructRegimeNeutral StructRegime = "NEUTRAL"

// StructMetrics captures dealer gamma exposure and open-interest structure
// from a single chain snapshot.
type StructMetrics struct {
	NetGEX          float64 // signed, scaled by spot and lot size
	GEXRatio        float64 // |NetGEX| / TotalOINotional
	TotalOINotional float64
	PCR             float64
	GEXRegime       StructRegime
	OIRegime        StructRegime
	LotSize         int
}

// StructureModel derives StructMetrics from an option chain. Stateless.
type StructureModel struct{}

// NewStructureModel returns the model.
func NewStructureModel() *StructureModel { return &StructureModel{} }

// Compute restricts gamma exposure to strikes within ±10% of spot, values
// open interest over the full chain, and derives the put/call ratio. An empty
// chain or non-positive spot yields a zeroed, neutral result.
func (m *StructureModel) Compute(chain Chain, spot float64, lotSize int) StructMetrics {
	out := StructMetrics{
		GEXRegime: StructRegimeNeutral,
		OIRegime:  StructRegimeNeutral,
		LotSize:   lotSize,
		PCR:       0,
	}
	if chain.Empty() || spot <= 0 {
		return out
	}

	lo, hi := spot*0.90, spot*1.10
	var callGammaOI, putGammaOI float64
	var callOI, putOI float64
	for _, row := range chain {
		callOI += row.CallOI
		putOI += row.PutOI
		if row.Strike > lo && row.Strike < hi {
			callGammaOI += row.CallGamma * row.CallOI
			putGammaOI += row.PutGamma * row.PutOI
		}
	}

	lot := float64(lotSize)
	out.NetGEX = (callGammaOI - putGammaOI) * spot * lot
	out.TotalOINotional = (callOI + putOI) * spot * lot
	if out.TotalOINotional > 0 {
		out.GEXRatio = math.Abs(out.NetGEX) / out.TotalOINotional
	}
	if callOI > 0 {
		out.PCR = putOI / callOI
	} else {
		out.PCR = 1.0
	}
	return out
}
