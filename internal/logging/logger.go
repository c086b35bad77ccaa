package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns the project logger.
// - env=prod: JSON encoder, no caller annotations
// - otherwise: console encoder with caller annotations
// level is one of debug/info/warn/error, default info.
func NewLogger(env, level string) (*zap.Logger, error) {
	var config zap.Config
	if strings.EqualFold(strings.TrimSpace(env), "prod") {
		config = zap.NewProductionConfig()
		config.DisableCaller = true
	} else {
		config = zap.NewDevelopmentConfig()
		config.DisableStacktrace = true
	}
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return config.Build()
}

func parseLevel(raw string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
