package market

// EdgeSource names which premium source drives decisions.
type EdgeSource string

const (
	// EdgeSourceGarch is the primary edge: the model-based premium.
	EdgeSourceGarch EdgeSource = "GARCH"
	// EdgeSourceNone marks a flat/empty edge result.
	EdgeSourceNone EdgeSource = "NONE"
)

// EdgeMetrics is the variance-risk-premium scorecard at the nearest-the-money
// weekly strike. Monthly figures are defined but not populated by the current
// pipeline; they stay at zero.
type EdgeMetrics struct {
	IVWeekly      float64
	VRPRealized   float64 // IV - 7d realized vol
	VRPGarch      float64 // IV - GARCH forecast
	VRPParkinson  float64 // IV - 7d Parkinson vol

	IVMonthly           float64
	VRPRealizedMonthly  float64
	VRPGarchMonthly     float64
	VRPParkinsonMonthly float64

	PrimaryEdge EdgeSource
}

// EdgeModel derives EdgeMetrics from chain snapshots and VolMetrics.
type EdgeModel struct{}

// NewEdgeModel returns the model.
func NewEdgeModel() *EdgeModel { return &EdgeModel{} }

// Compute selects the weekly row nearest spot, reads its call implied vol as
// the at-the-money figure, and spreads it against the 7-day realized, GARCH
// and Parkinson estimates. An empty weekly chain or non-positive spot yields
// a zeroed result tagged NONE.
func (m *EdgeModel) Compute(weekly, monthly Chain, spot float64, vol VolMetrics) EdgeMetrics {
	if weekly.Empty() || spot <= 0 {
		return EdgeMetrics{PrimaryEdge: EdgeSourceNone}
	}
	atm, ok := weekly.NearestStrike(spot)
	if !ok {
		return EdgeMetrics{PrimaryEdge: EdgeSourceNone}
	}
	iv := atm.CallIV
	return EdgeMetrics{
		IVWeekly:     iv,
		VRPRealized:  iv - vol.RV7,
		VRPGarch:     iv - vol.Garch7,
		VRPParkinson: iv - vol.Park7,
		PrimaryEdge:  EdgeSourceGarch,
	}
}
