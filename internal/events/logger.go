package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// ZapLogger adapts zap to watermill.LoggerAdapter.
type ZapLogger struct {
	logger *zap.Logger
}

var _ watermill.LoggerAdapter = (*ZapLogger)(nil)

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

func (l *ZapLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (l *ZapLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, zapFields(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

// Trace has no zap level of its own; it goes to Debug.
func (l *ZapLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, zapFields(fields)...)
}

func (l *ZapLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZapLogger{logger: l.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
