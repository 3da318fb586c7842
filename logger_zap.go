package mqttv3

import (
	"maps"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to Logger. The level is shared with every
// logger derived through WithFields.
type ZapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewZapLogger wraps logger, filtering entries below level.
func NewZapLogger(logger *zap.Logger, level LogLevel) *ZapLogger {
	atomic := zap.NewAtomicLevelAt(toZapLevel(level))

	// The wrapped core keeps its own level; the atomic level can only filter further.
	filtered := logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &levelCore{Core: core, level: atomic}
	}))

	return &ZapLogger{logger: filtered, level: atomic}
}

// NewDevelopmentZapLogger builds a console logger suited to the CLI.
func NewDevelopmentZapLogger(level LogLevel) (*ZapLogger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	config.DisableStacktrace = true

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return NewZapLogger(logger, level), nil
}

func (z *ZapLogger) Debug(msg string, fields LogFields) { z.logger.Debug(msg, zapFields(fields)...) }
func (z *ZapLogger) Info(msg string, fields LogFields)  { z.logger.Info(msg, zapFields(fields)...) }
func (z *ZapLogger) Warn(msg string, fields LogFields)  { z.logger.Warn(msg, zapFields(fields)...) }
func (z *ZapLogger) Error(msg string, fields LogFields) { z.logger.Error(msg, zapFields(fields)...) }

// WithFields returns a child logger.
func (z *ZapLogger) WithFields(fields LogFields) Logger {
	return &ZapLogger{
		logger: z.logger.With(zapFields(fields)...),
		level:  z.level,
	}
}

// Level returns the current level.
func (z *ZapLogger) Level() LogLevel {
	if !z.level.Enabled(zapcore.FatalLevel) {
		return LogLevelNone
	}
	switch z.level.Level() {
	case zapcore.DebugLevel:
		return LogLevelDebug
	case zapcore.InfoLevel:
		return LogLevelInfo
	case zapcore.WarnLevel:
		return LogLevelWarn
	case zapcore.ErrorLevel:
		return LogLevelError
	default:
		return LogLevelNone
	}
}

// SetLevel changes the level of this logger and all derived loggers.
func (z *ZapLogger) SetLevel(level LogLevel) {
	z.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error {
	return z.logger.Sync()
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InvalidLevel
	}
}

// zapFields converts fields in key order so output is stable.
func zapFields(fields LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	out := make([]zap.Field, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

// levelCore gates a core behind an atomic level.
type levelCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c *levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c *levelCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return c.Core.Check(entry, ce)
}
