package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/xappflow/internal/runtime/config"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
	transportpkg "github.com/drblury/xappflow/internal/runtime/transport"
	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/loopback"
)

const (
	testRMRPort  = 4560
	testPeerPort = "4570"
)

type testValidator struct {
	err   error
	calls atomic.Int64
}

func (v *testValidator) Validate(any) error {
	v.calls.Add(1)
	return v.err
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		XAppName:         "test-xapp",
		RMRPort:          testRMRPort,
		QueueSize:        16,
		ReadyBackoff:     10 * time.Millisecond,
		EventWaitTimeout: 10 * time.Millisecond,
		DispatchTimeout:  10 * time.Millisecond,
	}
}

// newTestService builds a service on its own loopback bus. Routes for
// routed are installed so the transport becomes ready and messages of those
// types reach the service.
func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies, routed ...int32) (*Service, *loopback.Bus) {
	t.Helper()
	if conf == nil {
		conf = testConfig()
	}
	bus := loopback.NewBus("localhost", nil)
	rt := transport.NewRouteTable()
	for _, mtype := range routed {
		rt.Add(mtype, transport.UnsetSubID, []string{bus.Address(conf.RMRPort)})
	}
	bus.InstallRoutes(rt)

	if deps.TransportFactory == nil {
		deps.TransportFactory = transportpkg.StaticFactory(bus)
	}
	if deps.Liveness == nil {
		deps.Liveness = rmr.NewLiveness()
	}
	svc, err := TryNewService(conf, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, bus
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.Start())
	require.Eventually(t, svc.IsReady, time.Second, 5*time.Millisecond)
}

// testPeer is a second endpoint on the bus playing the remote xApp.
type testPeer struct {
	t  *testing.T
	ep transport.Endpoint
}

func newTestPeer(t *testing.T, bus *loopback.Bus) *testPeer {
	t.Helper()
	ep, err := bus.Init(testPeerPort, 0, transport.FlagNoThread)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return &testPeer{t: t, ep: ep}
}

func (p *testPeer) send(mtype int32, payload []byte) {
	p.t.Helper()
	msg, err := p.ep.Alloc(transport.MaxRcvBytes)
	require.NoError(p.t, err)
	msg.MType = mtype
	msg.Len = copy(msg.Payload, payload)
	_, err = p.ep.Send(msg)
	require.NoError(p.t, err)
}

func (p *testPeer) recv() *transport.Msg {
	p.t.Helper()
	notify, err := p.ep.RecvNotify()
	require.NoError(p.t, err)
	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		p.t.Fatal("no message received")
	}
	msg, err := p.ep.Alloc(transport.MaxRcvBytes)
	require.NoError(p.t, err)
	msg, err = p.ep.Recv(msg)
	require.NoError(p.t, err)
	return msg
}

// allocBuffer returns an application buffer of svc. Its captured message
// type is the allocation default.
func allocBuffer(t *testing.T, svc *Service) (*rmr.Buffer, *rmr.Client) {
	t.Helper()
	var (
		buf    *rmr.Buffer
		client *rmr.Client
	)
	require.NoError(t, svc.Client(func(c *rmr.Client) error {
		var err error
		buf, err = c.Alloc()
		client = c
		return err
	}))
	t.Cleanup(func() { _ = buf.Free() })
	return buf, client
}

// recordingLogger keeps every log line for assertions.
type recordingLogger struct {
	mu     *sync.Mutex
	lines  *[]logLine
	fields loggingpkg.LogFields
}

type logLine struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, lines: &[]logLine{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	return &recordingLogger{mu: l.mu, lines: l.lines, fields: l.merge(fields)}
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.add("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.add("info", msg, nil, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.add("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.add("trace", msg, nil, fields)
}

func (l *recordingLogger) add(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.lines = append(*l.lines, logLine{level: level, msg: msg, err: err, fields: l.merge(fields)})
}

func (l *recordingLogger) merge(fields loggingpkg.LogFields) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l *recordingLogger) find(msg string) (logLine, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range *l.lines {
		if line.msg == msg {
			return line, true
		}
	}
	return logLine{}, false
}

func (l *recordingLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("%+v", *l.lines)
}
