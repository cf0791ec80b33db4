package runtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	configpkg "github.com/drblury/xappflow/internal/runtime/config"
	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
	"github.com/drblury/xappflow/internal/runtime/jsoncodec"
	"github.com/drblury/xappflow/internal/runtime/rmr"
	"github.com/drblury/xappflow/internal/runtime/rnib"
	"github.com/drblury/xappflow/internal/runtime/sdl"
	transportpkg "github.com/drblury/xappflow/internal/runtime/transport"
	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/loopback"
)

type pingRequest struct {
	TestSend int `json:"test_send"`
}

type pongReply struct {
	ACK int `json:"ACK"`
}

func TestTryNewService_Errors(t *testing.T) {
	ctx := context.Background()
	bus := loopback.NewBus("localhost", nil)
	deps := ServiceDependencies{TransportFactory: transportpkg.StaticFactory(bus), Liveness: rmr.NewLiveness()}

	_, err := TryNewService(nil, newTestLogger(), ctx, deps)
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = TryNewService(testConfig(), nil, ctx, deps)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	bad := testConfig()
	bad.QueueSize = -1
	_, err = TryNewService(bad, newTestLogger(), ctx, deps)
	var cfgErr errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)

	noPort := testConfig()
	noPort.RMRPort = 0
	_, err = TryNewService(noPort, newTestLogger(), ctx, deps)
	assert.ErrorIs(t, err, errspkg.ErrDescriptorPortNotFound)

	_, err = TryNewService(testConfig(), newTestLogger(), ctx, ServiceDependencies{
		TransportFactory: transportpkg.StaticFactory(nil),
		Liveness:         rmr.NewLiveness(),
	})
	assert.ErrorContains(t, err, "build transport")

	assert.Panics(t, func() { NewService(nil, newTestLogger(), ctx, deps) })
}

func TestTryNewService_PortsFromDescriptor(t *testing.T) {
	descriptor, err := configpkg.ParseDescriptor([]byte(`{
		"metadata": {"xappName": "pong", "configType": "json"},
		"config": {"messaging": {"ports": [
			{"name": "rmrdata", "port": 4561},
			{"name": "http", "port": 18080}
		]}}
	}`))
	require.NoError(t, err)

	conf := testConfig()
	conf.RMRPort = 0
	conf.WebServerEnabled = true
	svc, _ := newTestService(t, conf, ServiceDependencies{Descriptor: descriptor})

	assert.Equal(t, 18080, svc.HTTPPort())
	assert.NotNil(t, svc.HTTPHandler(18080))
	assert.Same(t, descriptor, svc.Descriptor())
	require.NoError(t, svc.Client(func(c *rmr.Client) error {
		assert.Equal(t, "4561", c.Port())
		return nil
	}))
}

func TestTryNewService_LivenessIsExclusive(t *testing.T) {
	lv := rmr.NewLiveness()
	newTestService(t, nil, ServiceDependencies{Liveness: lv})

	_, err := TryNewService(testConfig(), newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory: transportpkg.StaticFactory(loopback.NewBus("other", nil)),
		Liveness:         lv,
	})
	assert.ErrorIs(t, err, errspkg.ErrAlreadyInitialized)
}

func TestService_PingPong(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{}, 60000)
	require.NoError(t, RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[*pingRequest, *pongReply]{
		Name:        "ping",
		MessageType: 60000,
		ReplyType:   60001,
		Handler: func(_ context.Context, event handlerpkg.JSONMessageContext[*pingRequest]) (*pongReply, error) {
			return &pongReply{ACK: event.Payload.TestSend}, nil
		},
	}))
	startService(t, svc)

	peer := newTestPeer(t, bus)
	peer.send(60000, []byte(`{"test_send": 42}`))
	reply := peer.recv()

	assert.Equal(t, int32(60001), reply.MType)
	var got pongReply
	require.NoError(t, jsoncodec.Unmarshal(reply.Bytes(), &got))
	assert.Equal(t, 42, got.ACK)
	assert.Len(t, reply.Xaction, 26, "xaction middleware assigns a ULID")

	handlers := svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, "ping", handlers[0].Name)
	assert.Equal(t, int32(60001), handlers[0].ReplyType)
	require.Eventually(t, func() bool {
		tm := svc.Metrics().TypeMetrics(60000)
		return tm != nil && tm.Dispatched == 1
	}, time.Second, 5*time.Millisecond)

	stats := handlers[0].Stats
	stats.mu.Lock()
	assert.Equal(t, uint64(1), stats.MessagesProcessed)
	assert.Equal(t, uint64(0), stats.MessagesFailed)
	stats.mu.Unlock()

	svc.Stop()
	require.NoError(t, svc.Join())
	assert.Equal(t, int64(0), svc.Stats().Outstanding)
}

func TestService_DefaultHandler(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{}, 61000)
	seen := make(chan int32, 1)
	svc.SetDefaultHandler(func(buf *rmr.Buffer, _ *rmr.Client) error {
		seen <- buf.MessageType()
		return nil
	})
	startService(t, svc)

	newTestPeer(t, bus).send(61000, []byte("x"))
	select {
	case mtype := <-seen:
		assert.Equal(t, int32(61000), mtype)
	case <-time.After(2 * time.Second):
		t.Fatal("default handler not called")
	}
	require.Eventually(t, func() bool {
		tm := svc.Metrics().TypeMetrics(61000)
		return tm != nil && tm.Unhandled == 1
	}, time.Second, 5*time.Millisecond)
}

func TestService_UnregisterHandler(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterHandler(5, func(*rmr.Buffer, *rmr.Client) error { return nil }))
	require.NoError(t, svc.RegisterHandler(5, func(*rmr.Buffer, *rmr.Client) error { return nil }))
	assert.Len(t, svc.Handlers(), 1)

	svc.UnregisterHandler(5)
	assert.Empty(t, svc.Handlers())
	assert.NoError(t, svc.RegisterHandler(5, func(*rmr.Buffer, *rmr.Client) error { return nil }))
}

func TestService_Send(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{})
	peer := newTestPeer(t, bus)
	rt := transport.NewRouteTable()
	rt.Add(70000, transport.UnsetSubID, []string{bus.Address(4570)})
	rt.Add(70001, transport.UnsetSubID, []string{bus.Address(4570)})
	bus.InstallRoutes(rt)

	require.NoError(t, svc.Send(70000, []byte("hello")))
	msg := peer.recv()
	assert.Equal(t, int32(70000), msg.MType)
	assert.Equal(t, "hello", string(msg.Bytes()))
	assert.Equal(t, bus.Address(testRMRPort), msg.Source)

	payload, err := structpb.NewStruct(map[string]any{"cell": "c1"})
	require.NoError(t, err)
	require.NoError(t, svc.SendProto(70001, payload))
	msg = peer.recv()
	got := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(msg.Bytes(), got))
	assert.Equal(t, "c1", got.Fields["cell"].GetStringValue())

	err = svc.Send(79999, []byte("nowhere"))
	assert.ErrorIs(t, err, errspkg.ErrSendFailed)
	assert.Equal(t, int64(0), svc.Stats().Outstanding)
}

func TestService_HandlerSendsThroughClient(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{})
	peer := newTestPeer(t, bus)
	rt := transport.NewRouteTable()
	rt.Add(60000, transport.UnsetSubID, []string{bus.Address(testRMRPort)})
	rt.Add(70002, transport.UnsetSubID, []string{bus.Address(4570)})
	bus.InstallRoutes(rt)

	require.NoError(t, svc.RegisterHandler(60000, func(buf *rmr.Buffer, client *rmr.Client) error {
		return client.SendPayload(70002, append([]byte("seen "), buf.Payload()...))
	}))
	startService(t, svc)

	peer.send(60000, []byte("tick"))
	msg := peer.recv()
	assert.Equal(t, int32(70002), msg.MType)
	assert.Equal(t, "seen tick", string(msg.Bytes()))

	require.NoError(t, svc.Send(70002, []byte("after")))
	assert.Equal(t, "after", string(peer.recv().Bytes()))
}

func TestService_SendPayloadTooLarge(t *testing.T) {
	conf := testConfig()
	conf.MaxPayloadSize = 8
	svc, _ := newTestService(t, conf, ServiceDependencies{})

	err := svc.Send(70000, make([]byte, 9))
	assert.ErrorIs(t, err, errspkg.ErrPayloadTooLarge)
	assert.Equal(t, int64(0), svc.Stats().Outstanding)
}

func TestService_Run(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, svc.Running, time.Second, 5*time.Millisecond)
	require.Eventually(t, svc.IsReady, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, svc.Running())
}

func TestService_NotReadyAtShutdown(t *testing.T) {
	bus := loopback.NewBus("localhost", nil)
	svc, err := TryNewService(testConfig(), newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory: transportpkg.StaticFactory(bus),
		Liveness:         rmr.NewLiveness(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.NoError(t, svc.Start())
	assert.False(t, svc.IsReady())
	svc.Stop()
	assert.ErrorIs(t, svc.Join(), errspkg.ErrNotReadyAtShutdown)
}

func TestService_Close(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	startService(t, svc)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.False(t, svc.Running())
	assert.False(t, svc.IsReady())
	assert.ErrorIs(t, svc.Send(1, nil), errspkg.ErrClientClosed)
}

func TestService_Storage(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	_, err := svc.Storage()
	assert.ErrorIs(t, err, errspkg.ErrStorageNotConfigured)
	_, err = svc.GetNodebIDs(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrStorageNotConfigured)

	conf := testConfig()
	conf.SDLBackend = "memory"
	svc, _ = newTestService(t, conf, ServiceDependencies{})
	storage, err := svc.Storage()
	require.NoError(t, err)
	assert.IsType(t, &sdl.Memory{}, storage)

	ctx := context.Background()
	require.NoError(t, storage.AddMember(ctx, rnib.Namespace, rnib.GroupGNB,
		rnib.MarshalNbIdentity(&rnib.NbIdentity{InventoryName: "gnb-1"})))
	ids, err := svc.GetNodebIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "gnb-1", ids[0].InventoryName)
}

func TestService_StopDeregisters(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	conf := testConfig()
	conf.AppManagerURL = srv.URL
	svc, _ := newTestService(t, conf, ServiceDependencies{HTTPClient: srv.Client()})
	svc.appmgr.lookupEnv = mapEnv(map[string]string{
		configpkg.ServiceEnvName("ricxapp", "test-xapp", "http", "host"): "10.0.0.1",
		configpkg.ServiceEnvName("ricxapp", "test-xapp", "http", "port"): "8080",
		configpkg.ServiceEnvName("ricxapp", "test-xapp", "rmr", "host"):  "10.0.0.1",
		configpkg.ServiceEnvName("ricxapp", "test-xapp", "rmr", "port"):  "4560",
	})

	require.NoError(t, svc.RegisterXApp(context.Background(), "test-xapp", "test-xapp-0", "{}"))
	assert.True(t, svc.Registered())

	startService(t, svc)
	svc.Stop()
	require.NoError(t, svc.Join())

	assert.False(t, svc.Registered())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/ric/v1/register", "/ric/v1/deregister"}, paths)
}

func mapEnv(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestService_HandlerErrorIsCounted(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{}, 62000)
	boom := errors.New("boom")
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
		Name:        "failing",
		MessageType: 62000,
		Handler:     func(*rmr.Buffer, *rmr.Client) error { return boom },
	}))
	startService(t, svc)

	newTestPeer(t, bus).send(62000, nil)
	require.Eventually(t, func() bool {
		tm := svc.Metrics().TypeMetrics(62000)
		return tm != nil && tm.Failed == 1
	}, time.Second, 5*time.Millisecond)

	stats := svc.Handlers()[0].Stats
	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, uint64(1), stats.MessagesFailed)
	assert.Equal(t, "boom", stats.Errors.LastError)
}
