package market

// FlowRegime is the categorical institutional-flow regime derived from net
// futures positioning.
type FlowRegime string

const (
	FlowStrongLong  FlowRegime = "STRONG_LONG"
	FlowStrongShort FlowRegime = "STRONG_SHORT"
	FlowNeutral     FlowRegime = "NEUTRAL"
)

// Participant category names as published in the F&O participant-wise
// open-interest file.
const (
	ParticipantFII    = "FII"
	ParticipantDII    = "DII"
	ParticipantClient = "Client"
	ParticipantPro    = "Pro"
)

// ParticipantFlow is one category's futures positioning.
type ParticipantFlow struct {
	FutLong  float64
	FutShort float64
	FutNet   float64
}

// ExternalMetrics carries positioning and event-risk context. The event-risk
// fields are pass-through; the current mandate logic does not score them.
type ExternalMetrics struct {
	Participants map[string]ParticipantFlow
	FIINetChange float64
	Flow         FlowRegime

	EventCount int
	EventNames []string
	EventRisk  string

	DataDate string
}

// DeriveFlowRegime thresholds the institutional net futures exposure.
// strongLong/strongShort are contract-count thresholds (e.g. +50000/-50000).
func DeriveFlowRegime(participants map[string]ParticipantFlow, strongLong, strongShort float64) FlowRegime {
	fii, ok := participants[ParticipantFII]
	if !ok {
		return FlowNeutral
	}
	switch {
	case fii.FutNet > strongLong:
		return FlowStrongLong
	case fii.FutNet < strongShort:
		return FlowStrongShort
	default:
		return FlowNeutral
	}
}
