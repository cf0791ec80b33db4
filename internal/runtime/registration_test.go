package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

func noopHandler(*rmr.Buffer, *rmr.Client) error { return nil }

func TestRegisterMessageHandler_Validation(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})

	assert.ErrorIs(t, RegisterMessageHandler(nil, MessageHandlerRegistration{}), errspkg.ErrServiceRequired)
	assert.ErrorIs(t, RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "x", MessageType: 1}), errspkg.ErrHandlerRequired)
	assert.ErrorIs(t, RegisterMessageHandler(svc, MessageHandlerRegistration{MessageType: 1, Handler: noopHandler}), errspkg.ErrHandlerNameRequired)

	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "one", MessageType: 1, Handler: noopHandler}))
	require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "again", MessageType: 1, Handler: noopHandler}))
	handlers := svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, "again", handlers[0].Name)
	assert.Equal(t, "again", svc.registry.Name(1))
}

func TestRegisterMessageHandler_ReplacesBinding(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{}, 60000)

	dispatched := make(chan string, 4)
	bind := func(name string) {
		require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
			Name:        name,
			MessageType: 60000,
			Handler: func(*rmr.Buffer, *rmr.Client) error {
				dispatched <- name
				return nil
			},
		}))
	}
	bind("first")
	first := svc.Handlers()[0].Stats
	bind("second")

	handlers := svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, "second", handlers[0].Name)
	assert.NotSame(t, first, handlers[0].Stats)

	startService(t, svc)
	newTestPeer(t, bus).send(60000, []byte("x"))
	select {
	case name := <-dispatched:
		assert.Equal(t, "second", name)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	first.mu.Lock()
	assert.Equal(t, uint64(0), first.MessagesProcessed)
	first.mu.Unlock()
}

func TestRegisterHandler_ReplacingProtoDropsDeclaredType(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
		MessageType: 12,
		Handler: func(context.Context, handlerpkg.ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
			return nil, nil
		},
	}))
	_, ok := svc.protoFor(12)
	require.True(t, ok)

	require.NoError(t, svc.RegisterHandler(12, noopHandler))
	_, ok = svc.protoFor(12)
	assert.False(t, ok)

	svc.RegisterProtoMessage(13, &structpb.Struct{})
	require.NoError(t, svc.RegisterHandler(13, noopHandler))
	_, ok = svc.protoFor(13)
	assert.True(t, ok, "a type declared without a handler survives a raw registration")
}

func TestRegisterHandler_GeneratedName(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	require.NoError(t, svc.RegisterHandler(7, noopHandler))

	assert.Equal(t, "mtype-7", svc.registry.Name(7))
	handlers := svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, int32(7), handlers[0].MessageType)
	assert.NotNil(t, handlers[0].Stats)
}

func TestRegisterProtoHandler_Registration(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})
	handler := func(context.Context, handlerpkg.ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
		return nil, nil
	}

	err := RegisterProtoHandler(nil, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{Handler: handler})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)

	err = RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{MessageType: 10})
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	require.NoError(t, RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
		MessageType: 10,
		Handler:     handler,
	}))
	assert.Equal(t, "*structpb.Struct-Handler", svc.registry.Name(10))
	entry, ok := svc.protoFor(10)
	require.True(t, ok)
	assert.Equal(t, handlerpkg.ProtoEncodingBinary, entry.codec.Encoding)
	assert.IsType(t, &structpb.Struct{}, entry.newMessage())

	require.NoError(t, RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
		Name:        "json-struct",
		MessageType: 11,
		Handler:     handler,
		Options:     []handlerpkg.ProtoHandlerOption{handlerpkg.WithProtoJSON()},
	}))
	entry, ok = svc.protoFor(11)
	require.True(t, ok)
	assert.Equal(t, handlerpkg.ProtoEncodingJSON, entry.codec.Encoding)

	err = RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.ListValue]{
		MessageType: 11,
		Handler: func(context.Context, handlerpkg.ProtoMessageContext[*structpb.ListValue]) (proto.Message, error) {
			return nil, nil
		},
	})
	require.NoError(t, err)
	entry, ok = svc.protoFor(11)
	require.True(t, ok)
	assert.IsType(t, &structpb.ListValue{}, entry.newMessage())
	assert.Equal(t, handlerpkg.ProtoEncodingBinary, entry.codec.Encoding)
	assert.Len(t, svc.Handlers(), 2)

	svc.UnregisterHandler(10)
	_, ok = svc.protoFor(10)
	assert.False(t, ok)
}

func TestRegisterJSONHandler_RequiresPointer(t *testing.T) {
	svc, _ := newTestService(t, nil, ServiceDependencies{})

	err := RegisterJSONHandler(nil, handlerpkg.JSONHandlerRegistration[*pingRequest, *pongReply]{})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)

	err = RegisterJSONHandler(svc, handlerpkg.JSONHandlerRegistration[pingRequest, *pongReply]{
		Name:        "by-value",
		MessageType: 1,
		Handler: func(context.Context, handlerpkg.JSONMessageContext[pingRequest]) (*pongReply, error) {
			return nil, nil
		},
	})
	assert.ErrorIs(t, err, errspkg.ErrMessagePointerNeeded)
}

func TestRegisterProtoHandler_RoundTrip(t *testing.T) {
	svc, bus := newTestService(t, nil, ServiceDependencies{}, 63000)
	require.NoError(t, RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
		Name:        "echo",
		MessageType: 63000,
		Handler: func(_ context.Context, event handlerpkg.ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
			name := event.Payload.Fields["name"].GetStringValue()
			return structpb.NewStruct(map[string]any{"greeting": "hello " + name})
		},
	}))
	startService(t, svc)

	request, err := structpb.NewStruct(map[string]any{"name": "ric"})
	require.NoError(t, err)
	body, err := proto.Marshal(request)
	require.NoError(t, err)

	peer := newTestPeer(t, bus)
	peer.send(63000, body)
	reply := peer.recv()

	assert.Equal(t, int32(63000), reply.MType, "zero reply type keeps the received type")
	got := &structpb.Struct{}
	require.NoError(t, proto.Unmarshal(reply.Bytes(), got))
	assert.Equal(t, "hello ric", got.Fields["greeting"].GetStringValue())
}

func TestRegisterProtoHandler_ValidationFailure(t *testing.T) {
	validator := &testValidator{err: errors.New("cell id missing")}
	svc, bus := newTestService(t, nil, ServiceDependencies{Validator: validator, DisableDefaultMiddlewares: true}, 64000)

	var calls atomic.Int64
	require.NoError(t, RegisterProtoHandler(svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
		Name:             "validated",
		MessageType:      64000,
		ValidateIncoming: true,
		Handler: func(context.Context, handlerpkg.ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
			calls.Add(1)
			return nil, nil
		},
	}))
	startService(t, svc)

	newTestPeer(t, bus).send(64000, nil)
	require.Eventually(t, func() bool {
		tm := svc.Metrics().TypeMetrics(64000)
		return tm != nil && tm.Failed == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, int64(1), validator.calls.Load())
	stats := svc.Handlers()[0].Stats
	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Equal(t, uint64(1), stats.Errors.Validation)
}

func TestMustProtoMessage(t *testing.T) {
	msg := MustProtoMessage[*structpb.Struct]()
	require.NotNil(t, msg)
	assert.Empty(t, msg.Fields)

	_, err := NewProtoMessage[*structpb.Value]()
	assert.NoError(t, err)
}
