package market

import (
	"math"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
)

// VolRegime is the categorical volatility regime.
type VolRegime string

const (
	VolRegimeExploding VolRegime = "EXPLODING"
	VolRegimeRich      VolRegime = "RICH"
	VolRegimeCheap     VolRegime = "CHEAP"
	VolRegimeFair      VolRegime = "FAIR"
)

// VolMetrics is the volatility scorecard for one evaluation cycle.
// Immutable once produced; recomputed from fresh history each cycle.
type VolMetrics struct {
	Spot float64
	VIX  float64

	RV7  float64
	RV28 float64
	RV90 float64

	Garch7  float64
	Garch28 float64

	Park7  float64
	Park28 float64

	VoV       float64
	VoVZScore float64

	IVP1Y float64
	MA20  float64

	CorrelationRisk float64

	Regime     VolRegime
	IsFallback bool
}

// VolConfig holds the thresholds the volatility model needs for its
// categorical regime. Passed at construction, never read from globals.
type VolConfig struct {
	CrashZScore float64 // vov z-score above which the regime is EXPLODING
	HighIVP     float64 // percentile rank above which vol is RICH
	LowIVP      float64 // percentile rank below which vol is CHEAP
}

// VolatilityModel computes realized, GARCH and Parkinson volatility plus
// vol-of-vol and percentile-rank context. Stateless given its inputs.
type VolatilityModel struct {
	cfg VolConfig
	log *zap.Logger
}

// NewVolatilityModel builds a model with the given thresholds.
func NewVolatilityModel(cfg VolConfig, log *zap.Logger) *VolatilityModel {
	if log == nil {
		log = zap.NewNop()
	}
	return &VolatilityModel{cfg: cfg, log: log}
}

// Compute derives VolMetrics from the underlying and vol-index histories and
// live readings. Live readings of 0 fall back to the latest historical close.
// Short or empty histories yield zeroed fields rather than an error; the
// classifier downstream tolerates zeros.
func (m *VolatilityModel) Compute(underlying, volIndex Series, spotLive, vixLive float64) VolMetrics {
	spot := spotLive
	if spot <= 0 {
		spot = underlying.LastClose()
	}
	vix := vixLive
	if vix <= 0 {
		vix = volIndex.LastClose()
	}

	returns := underlying.LogReturns()

	v := VolMetrics{
		Spot: spot,
		VIX:  vix,
		RV7:  annualizedStdev(tail(returns, 7)),
		RV28: annualizedStdev(tail(returns, 28)),
		RV90: annualizedStdev(tail(returns, 90)),
	}

	m.fitGarch(&v, returns)

	v.Park7 = parkinson(underlying, 7)
	v.Park28 = parkinson(underlying, 28)

	v.VoV, v.VoVZScore = volOfVol(volIndex)
	v.IVP1Y = percentileRank(tail(volIndex.Closes(), 252), vix)
	v.MA20 = meanOf(tail(underlying.Closes(), 20))
	v.CorrelationRisk = correlationRisk(underlying, volIndex)

	switch {
	case v.VoVZScore > m.cfg.CrashZScore:
		v.Regime = VolRegimeExploding
	case v.IVP1Y > m.cfg.HighIVP:
		v.Regime = VolRegimeRich
	case v.IVP1Y < m.cfg.LowIVP:
		v.Regime = VolRegimeCheap
	default:
		v.Regime = VolRegimeFair
	}
	return v
}

// fitGarch runs the GARCH(1,1) forecast on percent-scaled returns. The single
// one-step horizon is reused for the 28-day figure. On any estimator failure
// both horizons take the matching realized-vol window and the metrics are
// flagged as a fallback.
func (m *VolatilityModel) fitGarch(v *VolMetrics, returns []float64) {
	scaled := make([]float64, len(returns))
	for i, r := range returns {
		scaled[i] = r * 100
	}
	res, err := FitGarch(scaled)
	if err != nil {
		m.log.Warn("garch fit failed, falling back to realized vol",
			zap.Error(err),
			zap.Int("observations", len(returns)))
		v.Garch7 = v.RV7
		v.Garch28 = v.RV28
		v.IsFallback = true
		return
	}
	v.Garch7 = res.AnnualVol
	v.Garch28 = res.AnnualVol
}

// annualizedStdev is the sample stdev of log returns, annualized by sqrt(252),
// in percent. Returns 0 when fewer than two observations are available.
func annualizedStdev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return 0
	}
	return sd * math.Sqrt(annualization) * 100
}

// parkinson is the range-based estimator over the trailing window:
// sqrt(mean(ln(high/low)^2) / (4 ln 2)) annualized, in percent.
func parkinson(s Series, window int) float64 {
	sq := make([]float64, 0, len(s))
	for _, b := range s {
		if b.High <= 0 || b.Low <= 0 {
			continue
		}
		l := math.Log(b.High / b.Low)
		sq = append(sq, l*l)
	}
	sq = tail(sq, window)
	if len(sq) == 0 {
		return 0
	}
	const c = 1.0 / (4.0 * math.Ln2)
	return math.Sqrt(meanOf(sq)*c) * math.Sqrt(annualization) * 100
}

// volOfVol computes the 30-session annualized stdev of the vol index's log
// returns, and a z-score of that figure against its own trailing 60-sample
// rolling mean/stdev. The z-score is 0 when the baseline stdev is 0.
func volOfVol(volIndex Series) (vov, zscore float64) {
	returns := volIndex.LogReturns()
	if len(returns) < 30 {
		return 0, 0
	}
	rolling := make([]float64, 0, len(returns)-29)
	for i := 30; i <= len(returns); i++ {
		rolling = append(rolling, annualizedStdev(returns[i-30:i]))
	}
	vov = rolling[len(rolling)-1]

	base := tail(rolling, 60)
	if len(base) < 2 {
		return vov, 0
	}
	mean := meanOf(base)
	sd, err := stats.StandardDeviationSample(base)
	if err != nil || sd <= 0 {
		return vov, 0
	}
	return vov, (vov - mean) / sd
}

// percentileRank is the fraction of values strictly below current, in percent.
func percentileRank(values []float64, current float64) float64 {
	if len(values) == 0 {
		return 0
	}
	below := 0
	for _, v := range values {
		if v < current {
			below++
		}
	}
	return float64(below) / float64(len(values)) * 100
}

// correlationRisk is the Pearson correlation of the two series' daily percent
// changes over the trailing 10 sessions; 0 when either series is empty.
func correlationRisk(underlying, volIndex Series) float64 {
	a := tail(underlying.PctChanges(), 10)
	b := tail(volIndex.PctChanges(), 10)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a, b = tail(a, n), tail(b, n)
	corr, err := stats.Correlation(a, b)
	if err != nil || math.IsNaN(corr) {
		return 0
	}
	return corr
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m, err := stats.Mean(xs)
	if err != nil {
		return 0
	}
	return m
}
