// Package metrics exposes the engine's cockpit figures over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every gauge and counter the engine publishes. One instance
// per process, wired at startup.
type Collector struct {
	registry *prometheus.Registry

	// regime scores
	compositeScore prometheus.Gauge
	volScore       prometheus.Gauge
	structScore    prometheus.Gauge
	edgeScore      prometheus.Gauge
	riskScore      prometheus.Gauge
	allocationPct  prometheus.Gauge

	// vol context
	spot     prometheus.Gauge
	vix      prometheus.Gauge
	ivp      prometheus.Gauge
	vovZ     prometheus.Gauge
	vrpGarch prometheus.Gauge

	// sentinel
	pnl            prometheus.Gauge
	openPositions  prometheus.Gauge
	killSwitch     prometheus.Gauge
	availableCash  prometheus.Gauge
	gateRejects    *prometheus.CounterVec
	forcedExits    *prometheus.CounterVec
	tradesEntered  prometheus.Counter
	evalCycles     prometheus.Counter
	fallbackCycles prometheus.Counter
}

// Config sets the metric name prefix.
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig returns the vg/engine prefix.
func DefaultConfig() Config {
	return Config{Namespace: "vg", Subsystem: "engine"}
}

// New creates a collector on its own registry.
func New(cfg Config) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Collector{
		registry: reg,

		compositeScore: gauge("composite_score", "Weighted composite regime score, 0 to 10"),
		volScore:       gauge("vol_score", "Volatility component score"),
		structScore:    gauge("struct_score", "Structure component score"),
		edgeScore:      gauge("edge_score", "Edge component score"),
		riskScore:      gauge("risk_score", "Risk component score"),
		allocationPct:  gauge("allocation_pct", "Mandated capital allocation percent"),

		spot:     gauge("spot", "Last underlying spot"),
		vix:      gauge("vix", "Last volatility index level"),
		ivp:      gauge("iv_percentile", "1y implied volatility percentile rank"),
		vovZ:     gauge("vov_zscore", "Vol-of-vol z-score"),
		vrpGarch: gauge("vrp_garch", "Weekly IV minus GARCH forecast, vol points"),

		pnl:           gauge("pnl", "Aggregate open-position P&L, rupees"),
		openPositions: gauge("open_positions", "Open position count"),
		killSwitch:    gauge("kill_switch", "1 when the kill switch is tripped"),
		availableCash: gauge("available_cash", "Venue available margin, rupees"),
		gateRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "gate_rejects_total",
				Help:      "Pre-trade gate rejections by reason",
			},
			[]string{"reason"},
		),
		forcedExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "forced_exits_total",
				Help:      "Sentinel-forced exits by reason",
			},
			[]string{"reason"},
		),
		tradesEntered:  counter("trades_entered_total", "Confirmed multi-leg entries"),
		evalCycles:     counter("eval_cycles_total", "Completed evaluation cycles"),
		fallbackCycles: counter("fallback_cycles_total", "Cycles where GARCH fell back to realized vol"),
	}
}

// UpdateScores publishes the component and composite scores.
func (c *Collector) UpdateScores(vol, structural, edge, risk, composite float64) {
	c.volScore.Set(vol)
	c.structScore.Set(structural)
	c.edgeScore.Set(edge)
	c.riskScore.Set(risk)
	c.compositeScore.Set(composite)
}

// UpdateMandate publishes the allocated capital fraction.
func (c *Collector) UpdateMandate(allocationPct float64) {
	c.allocationPct.Set(allocationPct)
}

// UpdateVolContext publishes the market readings behind the vol score.
func (c *Collector) UpdateVolContext(spot, vix, ivp, vovZ, vrpGarch float64) {
	c.spot.Set(spot)
	c.vix.Set(vix)
	c.ivp.Set(ivp)
	c.vovZ.Set(vovZ)
	c.vrpGarch.Set(vrpGarch)
}

// UpdateSentinel publishes the live risk picture.
func (c *Collector) UpdateSentinel(pnl float64, positions int, availableCash float64, killSwitch bool) {
	c.pnl.Set(pnl)
	c.openPositions.Set(float64(positions))
	c.availableCash.Set(availableCash)
	if killSwitch {
		c.killSwitch.Set(1)
	} else {
		c.killSwitch.Set(0)
	}
}

func (c *Collector) RecordGateReject(reason string) {
	c.gateRejects.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordForcedExit(reason string) {
	c.forcedExits.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordTradeEntered() {
	c.tradesEntered.Inc()
}

func (c *Collector) RecordEvalCycle(fallback bool) {
	c.evalCycles.Inc()
	if fallback {
		c.fallbackCycles.Inc()
	}
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Serve starts a background /metrics server on addr.
func Serve(addr string, c *Collector) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
