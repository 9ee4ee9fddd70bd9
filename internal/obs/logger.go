// Package obs carries the ambient observability stack: structured logging
// and the Prometheus metrics registry. It follows the teacher's own
// pkg/logging wrapper around zap.Logger, minus the ColoredLogger's ANSI
// console coloring (CLI polish the core daemon doesn't need) and minus its
// component-color taxonomy (the core has one logical component per package,
// named via zap.Logger.Named instead of a Component enum).
package obs

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a *zap.Logger configured for JSON encoding in production
// and a human-readable console encoding in development, matching the
// teacher's encoder-config split (zap.NewProductionEncoderConfig /
// zap.NewDevelopmentEncoderConfig) without the teacher's ANSI coloring.
func NewLogger(development bool) (*zap.Logger, error) {
	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	level := zap.InfoLevel

	if development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
		level = zap.DebugLevel
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller()), nil
}

// Must is NewLogger with a zap.NewNop() fallback, for call sites (like flag
// defaults) that cannot propagate a construction error.
func Must(development bool) *zap.Logger {
	logger, err := NewLogger(development)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
