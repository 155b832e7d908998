// Package logger wraps zap with file rotation and the engine's event helpers.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls level, encoding and rotation.
type Config struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json or console
	OutputFile string `yaml:"output_file"` // rotated file sink, empty for stdout only
	ErrorFile  string `yaml:"error_file"`  // error-and-above sink
	MaxSize    int    `yaml:"max_size"`    // MB per file before rotation
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// DefaultConfig returns stdout-only JSON logging at info.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// Logger wraps zap.Logger; the embedded logger is used directly for
// structured fields.
type Logger struct {
	*zap.Logger
	config Config
}

// New builds the logger: stdout always, plus rotated file sinks when
// configured.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var stdoutEncoder zapcore.Encoder
	if cfg.Format == "console" {
		stdoutEncoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		stdoutEncoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(stdoutEncoder, zapcore.AddSync(os.Stdout), level),
	}

	if cfg.OutputFile != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotatingSink(cfg, cfg.OutputFile)),
			level,
		))
	}
	if cfg.ErrorFile != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotatingSink(cfg, cfg.ErrorFile)),
			zapcore.ErrorLevel,
		))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{Logger: zapLogger, config: cfg}, nil
}

func rotatingSink(cfg Config, path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
}

// LogMandate records the decision of one evaluation cycle.
func (l *Logger) LogMandate(regimeName, strategyType string, composite, allocation float64) {
	l.Info("mandate",
		zap.String("regime", regimeName),
		zap.String("strategy", strategyType),
		zap.Float64("composite", composite),
		zap.Float64("allocation_pct", allocation))
}

// LogGateReject records a pre-trade gate rejection, distinct from fallbacks.
func (l *Logger) LogGateReject(reason string, err error) {
	l.Warn("gate_reject", zap.String("reason", reason), zap.Error(err))
}

// LogForcedExit records a sentinel-forced position exit.
func (l *Logger) LogForcedExit(reason string, pnl float64) {
	l.Warn("forced_exit", zap.String("reason", reason), zap.Float64("pnl", pnl))
}

// Close flushes buffered entries.
func (l *Logger) Close() error {
	return l.Sync()
}
