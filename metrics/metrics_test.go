package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorPublishes(t *testing.T) {
	c := New(DefaultConfig())

	c.UpdateScores(7.5, 6.0, 8.0, 10.0, 7.3)
	assert.Equal(t, 7.5, testutil.ToFloat64(c.volScore))
	assert.Equal(t, 6.0, testutil.ToFloat64(c.structScore))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.edgeScore))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.riskScore))
	assert.Equal(t, 7.3, testutil.ToFloat64(c.compositeScore))

	c.UpdateMandate(60)
	assert.Equal(t, 60.0, testutil.ToFloat64(c.allocationPct))

	c.UpdateVolContext(24500, 14.5, 62, 0.8, 3.2)
	assert.Equal(t, 24500.0, testutil.ToFloat64(c.spot))
	assert.Equal(t, 14.5, testutil.ToFloat64(c.vix))
	assert.Equal(t, 62.0, testutil.ToFloat64(c.ivp))

	c.UpdateSentinel(-12000, 4, 845000, true)
	assert.Equal(t, -12000.0, testutil.ToFloat64(c.pnl))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.openPositions))
	assert.Equal(t, 845000.0, testutil.ToFloat64(c.availableCash))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.killSwitch))

	c.UpdateSentinel(0, 0, 1_000_000, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.killSwitch))
}

func TestCollectorCounters(t *testing.T) {
	c := New(DefaultConfig())

	c.RecordGateReject("margin")
	c.RecordGateReject("margin")
	c.RecordGateReject("position_open")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.gateRejects.WithLabelValues("margin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gateRejects.WithLabelValues("position_open")))

	c.RecordForcedExit("PROFIT_TARGET_50%")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.forcedExits.WithLabelValues("PROFIT_TARGET_50%")))

	c.RecordEvalCycle(false)
	c.RecordEvalCycle(true)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.evalCycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbackCycles))

	c.RecordTradeEntered()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tradesEntered))
}

func TestCollectorRegistryNames(t *testing.T) {
	c := New(DefaultConfig())
	c.UpdateScores(1, 2, 3, 4, 5)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["vg_engine_composite_score"])
	assert.True(t, names["vg_engine_vol_score"])
}
