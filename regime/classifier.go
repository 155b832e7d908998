// Package regime turns the volatility/structure/edge scorecard into a
// discrete trading regime and capital-allocation mandate.
package regime

import (
	"time"

	"volguard-go/market"
)

// ExpiryType tags which expiry a mandate targets.
type ExpiryType string

const (
	ExpiryWeekly  ExpiryType = "WEEKLY"
	ExpiryMonthly ExpiryType = "MONTHLY"
)

// Confidence label on a composite score.
type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceLow  Confidence = "LOW"
)

// Trading regimes, in descending order of aggression.
const (
	RegimeAggressiveShort = "AGGRESSIVE_SHORT"
	RegimeModerateShort   = "MODERATE_SHORT"
	RegimeDefensive       = "DEFENSIVE"
	RegimeCash            = "CASH"
)

// Strategy types a mandate can call for.
const (
	StrategyStrangle     = "STRANGLE"
	StrategyIronCondor   = "IRON_CONDOR"
	StrategyCreditSpread = "CREDIT_SPREAD"
	StrategyNone         = "NONE"
)

// Score holds the four component scores and the weighted composite.
// All five figures lie in [0,10].
type Score struct {
	Vol        float64
	Struct     float64
	Edge       float64
	Risk       float64
	Composite  float64
	Confidence Confidence
}

// Mandate is the output decision artifact.
type Mandate struct {
	ExpiryType    ExpiryType
	ExpiryDate    time.Time
	DTE           int
	RegimeName    string
	StrategyType  string
	AllocationPct float64
	Score         Score
	Rationale     []string
	Warnings      []string
}

// Weights on the component scores. Must sum to 1.0 for the composite to stay
// on the [0,10] scale; config validation enforces this.
type Weights struct {
	Vol    float64
	Struct float64
	Edge   float64
	Risk   float64
}

// Config is the classifier's immutable threshold set.
type Config struct {
	VoVCrashZScore   float64 // vol score forced to 0 above this
	VoVWarningZScore float64
	HighIVP          float64
	LowIVP           float64
	Weights          Weights
}

// Classifier is a pure scoring function over the models' outputs.
type Classifier struct {
	cfg Config
}

// NewClassifier builds a classifier with the given thresholds.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// CalculateScores produces the component scores and the weighted composite.
// The vol-score branches are additive and deliberately not mutually
// exclusive; keep the branch order as written.
func (c *Classifier) CalculateScores(
	vol market.VolMetrics,
	structure market.StructMetrics,
	edge market.EdgeMetrics,
	external market.ExternalMetrics,
	calendar market.TimeMetrics,
	expiry ExpiryType,
) Score {
	blendedVRP := edge.VRPGarch*0.70 + edge.VRPParkinson*0.15 + edge.VRPRealized*0.15

	edgeScore := 5.0
	switch {
	case blendedVRP > 4.0:
		edgeScore += 3.0
	case blendedVRP > 2.0:
		edgeScore += 2.0
	case blendedVRP > 1.0:
		edgeScore += 1.0
	case blendedVRP < 0:
		edgeScore -= 3.0
	}
	edgeScore = clamp(edgeScore)

	volScore := 5.0
	switch {
	case vol.VoVZScore > c.cfg.VoVCrashZScore:
		volScore = 0.0
	case vol.VoVZScore > c.cfg.VoVWarningZScore:
		volScore -= 3.0
	case vol.VoVZScore < 1.5:
		volScore += 1.5
	}
	switch {
	case vol.IVP1Y > c.cfg.HighIVP:
		volScore += 0.5
	case vol.IVP1Y < c.cfg.LowIVP:
		volScore -= 2.5
	default:
		volScore += 1.0
	}
	if vol.CorrelationRisk > 0.3 {
		volScore -= 2.0
	}
	volScore = clamp(volScore)

	structScore := 5.0
	if structure.GEXRegime == "STICKY" {
		structScore += 1.0
	}
	if structure.PCR > 0.9 && structure.PCR < 1.1 {
		structScore += 1.0
	}
	structScore = clamp(structScore)

	riskScore := 10.0
	if external.Flow == market.FlowStrongShort {
		riskScore -= 3.0
	}
	if calendar.IsGammaWeek && expiry == ExpiryWeekly {
		riskScore -= 2.0
	}
	riskScore = clamp(riskScore)

	w := c.cfg.Weights
	composite := volScore*w.Vol + structScore*w.Struct + edgeScore*w.Edge + riskScore*w.Risk

	confidence := ConfidenceLow
	if composite >= 6.5 {
		confidence = ConfidenceHigh
	}

	return Score{
		Vol:        volScore,
		Struct:     structScore,
		Edge:       edgeScore,
		Risk:       riskScore,
		Composite:  composite,
		Confidence: confidence,
	}
}

// GenerateMandate maps a composite score onto the allocation ladder. The
// boundaries partition [0,10] with ties resolving to the higher regime.
// Pure function of the score; no hidden state.
func (c *Classifier) GenerateMandate(score Score, dte int, expiryDate time.Time, expiry ExpiryType) Mandate {
	var regimeName, strategyType string
	var alloc float64
	switch {
	case score.Composite >= 7.5:
		regimeName, strategyType, alloc = RegimeAggressiveShort, StrategyStrangle, 60.0
	case score.Composite >= 6.0:
		regimeName, strategyType, alloc = RegimeModerateShort, StrategyIronCondor, 40.0
	case score.Composite >= 4.0:
		regimeName, strategyType, alloc = RegimeDefensive, StrategyCreditSpread, 20.0
	default:
		regimeName, strategyType, alloc = RegimeCash, StrategyNone, 0.0
	}
	return Mandate{
		ExpiryType:    expiry,
		ExpiryDate:    expiryDate,
		DTE:           dte,
		RegimeName:    regimeName,
		StrategyType:  strategyType,
		AllocationPct: alloc,
		Score:         score,
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
