package logging

import (
	"errors"
	"log/slog"
	"maps"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields are structured key/value pairs attached to a log line.
type LogFields map[string]any

// ServiceLogger is the logger every runtime component writes through. The
// method set matches watermill.LoggerAdapter with LogFields in place of
// watermill.LogFields, so a bus driver and the receive pipeline can share
// one sink.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var errNilLogger = errors.New("xappflow: nil logger")

// NewSlogServiceLogger routes runtime logs into a slog.Logger. Per message
// trace lines use watermill.LevelTrace, below slog.LevelDebug.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic(errNilLogger)
	}
	return FromWatermill(watermill.NewSlogLogger(log))
}

// FromWatermill lifts a watermill.LoggerAdapter into a ServiceLogger.
func FromWatermill(adapter watermill.LoggerAdapter) ServiceLogger {
	if adapter == nil {
		panic(errNilLogger)
	}
	return wmLogger{adapter}
}

// NewWatermillAdapter is the reverse of FromWatermill. Drivers built by the
// transport factory log through it.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic(errNilLogger)
	}
	if wm, ok := log.(wmLogger); ok {
		return wm.adapter
	}
	return driverLogger{log}
}

// NopLogger discards everything.
func NopLogger() ServiceLogger {
	return wmLogger{watermill.NopLogger{}}
}

type wmLogger struct {
	adapter watermill.LoggerAdapter
}

func (l wmLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return wmLogger{l.adapter.With(watermill.LogFields(maps.Clone(fields)))}
}

func (l wmLogger) Debug(msg string, fields LogFields) {
	l.adapter.Debug(msg, watermill.LogFields(fields))
}

func (l wmLogger) Info(msg string, fields LogFields) {
	l.adapter.Info(msg, watermill.LogFields(fields))
}

func (l wmLogger) Error(msg string, err error, fields LogFields) {
	l.adapter.Error(msg, err, watermill.LogFields(fields))
}

func (l wmLogger) Trace(msg string, fields LogFields) {
	l.adapter.Trace(msg, watermill.LogFields(fields))
}

type driverLogger struct {
	log ServiceLogger
}

func (d driverLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return driverLogger{d.log.With(LogFields(fields))}
}

func (d driverLogger) Debug(msg string, fields watermill.LogFields) {
	d.log.Debug(msg, LogFields(fields))
}

func (d driverLogger) Info(msg string, fields watermill.LogFields) {
	d.log.Info(msg, LogFields(fields))
}

func (d driverLogger) Error(msg string, err error, fields watermill.LogFields) {
	d.log.Error(msg, err, LogFields(fields))
}

func (d driverLogger) Trace(msg string, fields watermill.LogFields) {
	d.log.Trace(msg, LogFields(fields))
}
