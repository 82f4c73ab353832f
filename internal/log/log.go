// Package log provides the structured, per-component logger every
// browsercore subsystem uses. It keeps a hand-rolled field-constructor
// call shape (String/Int/Err/...) while delegating the actual formatting
// and sinks to zap.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is an alias so call sites read as String(...)/Int(...)/Err(...)
// rather than importing zap directly.
type Field = zap.Field

func String(key, val string) Field        { return zap.String(key, val) }
func Int(key string, val int) Field        { return zap.Int(key, val) }
func Int64(key string, val int64) Field    { return zap.Int64(key, val) }
func Uint64(key string, val uint64) Field  { return zap.Uint64(key, val) }
func Float64(key string, val float64) Field { return zap.Float64(key, val) }
func Bool(key string, val bool) Field      { return zap.Bool(key, val) }
func Err(err error) Field                  { return zap.Error(err) }
func Any(key string, val interface{}) Field { return zap.Any(key, val) }
func Duration(key string, ns int64) Field  { return zap.Int64(key+"_ns", ns) }

// Logger is the struct every package depends on, wrapping *zap.Logger so
// callers don't need to import zap directly.
type Logger struct {
	z *zap.Logger
}

var base *zap.Logger

func init() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// A logger that can't build is not recoverable and should never
		// happen with a static production config; fall back to a no-op
		// logger rather than panicking the whole process.
		l = zap.NewNop()
	}
	base = l
}

// Named returns a component-scoped logger.
func Named(component string) *Logger {
	return &Logger{z: base.Named(component)}
}

// With returns a logger with fields permanently attached.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

// Sync flushes any buffered log entries; call from process shutdown paths.
func Sync() error { return base.Sync() }
