// Package logging carries the broker's structured logging contract. Every
// subsystem logs through ServiceLogger; the Kafka publisher and the router
// middleware reuse it through a Watermill LoggerAdapter.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract shared by the broker's components.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var slogLevels = map[slog.Level]slog.Level{
	LevelTrace:      LevelTrace,
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("tenantbus: slog logger cannot be nil")
	}
	return FromWatermill(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// FromWatermill turns a Watermill LoggerAdapter into a ServiceLogger.
func FromWatermill(adapter watermill.LoggerAdapter) ServiceLogger {
	if adapter == nil {
		panic("tenantbus: watermill logger cannot be nil")
	}
	return wmLogger{adapter}
}

// Nop returns a ServiceLogger that discards everything.
func Nop() ServiceLogger { return wmLogger{watermill.NopLogger{}} }

// OrNop returns log, or a discarding logger when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return Nop()
	}
	return log
}

// ToWatermill exposes a ServiceLogger as a Watermill LoggerAdapter for the
// Kafka producers, the router and the transports.
func ToWatermill(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("tenantbus: ServiceLogger cannot be nil")
	}
	if wl, ok := log.(wmLogger); ok {
		return wl.LoggerAdapter
	}
	return bridge{log}
}

// wmLogger is a ServiceLogger backed by a Watermill adapter.
type wmLogger struct {
	watermill.LoggerAdapter
}

func (l wmLogger) With(fields LogFields) ServiceLogger {
	return wmLogger{l.LoggerAdapter.With(watermill.LogFields(fields))}
}

func (l wmLogger) Debug(msg string, fields LogFields) {
	l.LoggerAdapter.Debug(msg, watermill.LogFields(fields))
}

func (l wmLogger) Info(msg string, fields LogFields) {
	l.LoggerAdapter.Info(msg, watermill.LogFields(fields))
}

func (l wmLogger) Error(msg string, err error, fields LogFields) {
	l.LoggerAdapter.Error(msg, err, watermill.LogFields(fields))
}

func (l wmLogger) Trace(msg string, fields LogFields) {
	l.LoggerAdapter.Trace(msg, watermill.LogFields(fields))
}

// bridge is the reverse direction for loggers supplied by callers.
type bridge struct {
	ServiceLogger
}

func (b bridge) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return bridge{b.ServiceLogger.With(LogFields(fields))}
}

func (b bridge) Debug(msg string, fields watermill.LogFields) {
	b.ServiceLogger.Debug(msg, LogFields(fields))
}

func (b bridge) Info(msg string, fields watermill.LogFields) {
	b.ServiceLogger.Info(msg, LogFields(fields))
}

func (b bridge) Error(msg string, err error, fields watermill.LogFields) {
	b.ServiceLogger.Error(msg, err, LogFields(fields))
}

func (b bridge) Trace(msg string, fields watermill.LogFields) {
	b.ServiceLogger.Trace(msg, LogFields(fields))
}
