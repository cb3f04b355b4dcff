package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON production logger. Empty or unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level, zapcore.InfoLevel))
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "message"

	return config.Build()
}

// NewConsole is used by the interactive REPL, where JSON on stderr is noise.
// Empty or unknown levels fall back to warn.
func NewConsole(level string) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level, zapcore.WarnLevel))
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// parseLevel treats "" as unset; zapcore would read it as info.
func parseLevel(level string, fallback zapcore.Level) zapcore.Level {
	if level == "" {
		return fallback
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return fallback
	}
	return zapLevel
}
