package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWatermill_ComponentFields(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	logger := FromWatermill(capture)

	receiver := logger.With(LogFields{"component": "receiver"})
	receiver.Trace("Message received", LogFields{"mtype": int32(60000)})
	receiver.Error("Receive failed", errors.New("boom"), LogFields{"port": "4560"})
	logger.Info("Service started", nil)

	assert.True(t, capture.Has(watermill.CapturedMessage{
		Level:  watermill.TraceLogLevel,
		Msg:    "Message received",
		Fields: watermill.LogFields{"component": "receiver", "mtype": int32(60000)},
	}))
	failed := capture.Captured()[watermill.ErrorLogLevel]
	require.Len(t, failed, 1)
	assert.EqualError(t, failed[0].Err, "boom")
	assert.Equal(t, watermill.LogFields{"component": "receiver", "port": "4560"}, failed[0].Fields)

	started := capture.Captured()[watermill.InfoLogLevel]
	require.Len(t, started, 1)
	assert.NotContains(t, started[0].Fields, "component")
}

func TestFromWatermill_WithDoesNotAlias(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	fields := LogFields{"component": "processor"}
	logger := FromWatermill(capture).With(fields)
	fields["component"] = "changed"

	logger.Debug("Dispatching", nil)
	debug := capture.Captured()[watermill.DebugLogLevel]
	require.Len(t, debug, 1)
	assert.Equal(t, "processor", debug[0].Fields["component"])

	plain := FromWatermill(capture)
	assert.Equal(t, plain, plain.With(nil))
}

func TestNewWatermillAdapter_ZerologSink(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewWatermillAdapter(NewZerologServiceLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	driver := adapter.With(watermill.LogFields{"driver": "bridge"})
	driver.Info("Bridge inbox full, holding message", watermill.LogFields{"topic": "xapp.localhost_4560"})
	driver.Trace("dropped below level", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "bridge", lines[0]["driver"])
	assert.Equal(t, "xapp.localhost_4560", lines[0]["topic"])
	assert.Equal(t, "Bridge inbox full, holding message", lines[0]["message"])
}

func TestNewWatermillAdapter_UnwrapsWatermillLogger(t *testing.T) {
	capture := watermill.NewCaptureLogger()
	assert.Same(t, capture, NewWatermillAdapter(FromWatermill(capture)))

	adapter := NewWatermillAdapter(NopLogger())
	assert.Equal(t, watermill.NopLogger{}, adapter)
}

func TestNewSlogServiceLogger_TraceBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogServiceLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	logger.Trace("per message", nil)
	assert.Empty(t, buf.String())

	logger.With(LogFields{"component": "receiver"}).Debug("Receiver started", nil)
	assert.Contains(t, buf.String(), "component=receiver")
	assert.Contains(t, buf.String(), `msg="Receiver started"`)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	assert.NotPanics(t, func() {
		logger.With(LogFields{"component": "receiver"}).Error("ignored", errors.New("boom"), nil)
	})
}

func TestConstructorsRejectNil(t *testing.T) {
	assert.PanicsWithValue(t, errNilLogger, func() { NewSlogServiceLogger(nil) })
	assert.PanicsWithValue(t, errNilLogger, func() { FromWatermill(nil) })
	assert.PanicsWithValue(t, errNilLogger, func() { NewWatermillAdapter(nil) })
}
