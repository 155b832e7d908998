// Package config loads and validates the runtime configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Mode      string          `yaml:"mode"` // "paper" or "live"
	Capital   float64         `yaml:"capital"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Risk      RiskConfig      `yaml:"risk"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GatewayConfig struct {
	BaseV2      string `yaml:"baseV2"`
	BaseV3      string `yaml:"baseV3"`
	AccessToken string `yaml:"accessToken"`
	IndexKey    string `yaml:"indexKey"`
	VIXKey      string `yaml:"vixKey"`
	StreamURL   string `yaml:"streamURL"`
	LotSize     int    `yaml:"lotSize"`
}

type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

type RiskConfig struct {
	MaxDailyLoss     float64 `yaml:"maxDailyLoss"`
	ProfitTargetPct  float64 `yaml:"profitTargetPct"`
	StopLossPct      float64 `yaml:"stopLossPct"`
	PatrolIntervalMs int     `yaml:"patrolIntervalMs"`
}

// PatrolInterval returns the patrol cadence as a duration.
func (r RiskConfig) PatrolInterval() time.Duration {
	return time.Duration(r.PatrolIntervalMs) * time.Millisecond
}

// AnalyticsConfig carries the scoring thresholds. These are the only values
// the hot reloader is allowed to change at runtime.
type AnalyticsConfig struct {
	VoVCrashZScore   float64       `yaml:"vovCrashZScore"`
	VoVWarningZScore float64       `yaml:"vovWarningZScore"`
	HighIVP          float64       `yaml:"highIVP"`
	LowIVP           float64       `yaml:"lowIVP"`
	GammaDangerDTE   int           `yaml:"gammaDangerDTE"`
	FlowStrongLong   float64       `yaml:"flowStrongLong"`
	FlowStrongShort  float64       `yaml:"flowStrongShort"`
	Weights          WeightsConfig `yaml:"weights"`
}

type WeightsConfig struct {
	Vol    float64 `yaml:"vol"`
	Struct float64 `yaml:"struct"`
	Edge   float64 `yaml:"edge"`
	Risk   float64 `yaml:"risk"`
}

type EngineConfig struct {
	EvalIntervalMs int `yaml:"evalIntervalMs"`
	HistoryDays    int `yaml:"historyDays"`
}

// EvalInterval returns the evaluation cadence as a duration.
func (e EngineConfig) EvalInterval() time.Duration {
	return time.Duration(e.EvalIntervalMs) * time.Millisecond
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	OutputFile string `yaml:"outputFile"`
	ErrorFile  string `yaml:"errorFile"`
	MaxSize    int    `yaml:"maxSize"` // MB per file
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"` // days
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration the YAML file overrides.
func Default() AppConfig {
	return AppConfig{
		Env:     "dev",
		Mode:    "paper",
		Capital: 1_000_000,
		Gateway: GatewayConfig{
			BaseV2:  "https://api.upstox.com/v2",
			BaseV3:  "https://api.upstox.com/v3",
			LotSize: 50,
		},
		Risk: RiskConfig{
			MaxDailyLoss:     50_000,
			ProfitTargetPct:  0.50,
			StopLossPct:      0.50,
			PatrolIntervalMs: 5000,
		},
		Analytics: AnalyticsConfig{
			VoVCrashZScore:   2.5,
			VoVWarningZScore: 2.0,
			HighIVP:          75,
			LowIVP:           25,
			GammaDangerDTE:   1,
			FlowStrongLong:   50_000,
			FlowStrongShort:  -50_000,
			Weights:          WeightsConfig{Vol: 0.40, Struct: 0.30, Edge: 0.20, Risk: 0.10},
		},
		Engine: EngineConfig{
			EvalIntervalMs: 5000,
			HistoryDays:    400,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{Addr: ":9102"},
	}
}

// Load reads YAML config from path over the defaults and validates the result.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env
// vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("VG_ACCESS_TOKEN"); v != "" {
		cfg.Gateway.AccessToken = v
	}
	if v := os.Getenv("VG_LEDGER_DSN"); v != "" {
		cfg.Ledger.DSN = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and coherent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Mode != "paper" && cfg.Mode != "live" {
		return fmt.Errorf("mode must be paper or live, got %q", cfg.Mode)
	}
	if cfg.Capital <= 0 {
		return errors.New("capital must be > 0")
	}
	if cfg.Mode == "live" {
		if cfg.Gateway.AccessToken == "" {
			return errors.New("gateway.accessToken is required in live mode (or VG_ACCESS_TOKEN)")
		}
		if cfg.Gateway.IndexKey == "" || cfg.Gateway.VIXKey == "" {
			return errors.New("gateway.indexKey and gateway.vixKey are required in live mode")
		}
	}
	if cfg.Gateway.LotSize <= 0 {
		return errors.New("gateway.lotSize must be > 0")
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		return errors.New("risk.maxDailyLoss must be > 0")
	}
	if cfg.Risk.ProfitTargetPct <= 0 || cfg.Risk.ProfitTargetPct > 1 {
		return errors.New("risk.profitTargetPct must be in (0, 1]")
	}
	if cfg.Risk.StopLossPct <= 0 || cfg.Risk.StopLossPct > 1 {
		return errors.New("risk.stopLossPct must be in (0, 1]")
	}
	if err := ValidateAnalytics(cfg.Analytics); err != nil {
		return err
	}
	if cfg.Engine.EvalIntervalMs <= 0 {
		return errors.New("engine.evalIntervalMs must be > 0")
	}
	if cfg.Engine.HistoryDays < 100 {
		return errors.New("engine.historyDays must be >= 100")
	}
	return nil
}

// ValidateAnalytics checks the threshold block alone so the hot reloader can
// reject a bad edit without touching the rest of the config.
func ValidateAnalytics(a AnalyticsConfig) error {
	if a.VoVCrashZScore <= 0 || a.VoVWarningZScore <= 0 {
		return errors.New("analytics z-score thresholds must be > 0")
	}
	if a.VoVWarningZScore > a.VoVCrashZScore {
		return errors.New("analytics.vovWarningZScore must not exceed vovCrashZScore")
	}
	if a.HighIVP <= a.LowIVP {
		return errors.New("analytics.highIVP must exceed lowIVP")
	}
	if a.HighIVP > 100 || a.LowIVP < 0 {
		return errors.New("analytics IVP thresholds must lie in [0, 100]")
	}
	if a.FlowStrongLong <= 0 || a.FlowStrongShort >= 0 {
		return errors.New("analytics flow thresholds must straddle zero")
	}
	w := a.Weights
	sum := w.Vol + w.Struct + w.Edge + w.Risk
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("analytics.weights must sum to 1.0, got %.6f", sum)
	}
	if w.Vol < 0 || w.Struct < 0 || w.Edge < 0 || w.Risk < 0 {
		return errors.New("analytics.weights must be >= 0")
	}
	return nil
}
