package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
)

func echoHandler(ctx context.Context, evt ProtoMessageContext[*wrapperspb.StringValue]) (proto.Message, error) {
	return wrapperspb.String("ACK " + evt.Payload.GetValue()), nil
}

func TestBuildProtoHandlerBinary(t *testing.T) {
	fn, err := buildProto(&wrapperspb.StringValue{}, echoHandler, ProtoCodec{}, 61, nopLogger())
	require.NoError(t, err)

	payload, err := proto.Marshal(wrapperspb.String("ping"))
	require.NoError(t, err)
	msg := newFakeMessage(60, payload)

	require.NoError(t, fn(msg, msg.reply))
	assert.Equal(t, 1, msg.replies)
	assert.Equal(t, int32(61), msg.outType)

	var got wrapperspb.StringValue
	require.NoError(t, proto.Unmarshal(msg.payload, &got))
	assert.Equal(t, "ACK ping", got.GetValue())
}

func TestBuildProtoHandlerJSON(t *testing.T) {
	opts := ApplyProtoHandlerOptions([]ProtoHandlerOption{nil, WithProtoJSON()})
	require.Equal(t, ProtoEncodingJSON, opts.Encoding)

	fn, err := buildProto(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
		assert.Equal(t, "tx-1", evt.XactionID())
		fields := evt.Payload.GetFields()
		return structpb.NewStruct(map[string]any{"ACK": fields["test_send"].GetNumberValue()})
	}, ProtoCodec{Encoding: opts.Encoding}, 0, nopLogger())
	require.NoError(t, err)

	msg := newFakeMessage(60000, []byte(`{"test_send":7}`))
	require.NoError(t, fn(msg, msg.reply))
	assert.Equal(t, int32(60000), msg.outType)

	var got structpb.Struct
	require.NoError(t, protojson.Unmarshal(msg.payload, &got))
	assert.Equal(t, float64(7), got.GetFields()["ACK"].GetNumberValue())
}

func TestBuildProtoHandlerDecodeError(t *testing.T) {
	fn, err := buildProto(&structpb.Struct{}, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
		t.Error("handler must not run")
		return nil, nil
	}, ProtoCodec{Encoding: ProtoEncodingJSON}, 0, nopLogger())
	require.NoError(t, err)

	msg := newFakeMessage(9, []byte(`{broken`))
	err = fn(msg, msg.reply)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, int32(9), decodeErr.MessageType)
}

func TestBuildProtoHandlerValidation(t *testing.T) {
	invalid := errors.New("invalid")

	t.Run("incoming", func(t *testing.T) {
		fn, err := buildProto(&wrapperspb.StringValue{}, echoHandler, ProtoCodec{
			ValidateIncoming: func(proto.Message) error { return invalid },
		}, 0, nopLogger())
		require.NoError(t, err)
		msg := newFakeMessage(1, nil)
		err = fn(msg, msg.reply)
		var decodeErr *DecodeError
		assert.ErrorAs(t, err, &decodeErr)
		assert.ErrorIs(t, err, invalid)
		assert.Equal(t, 0, msg.replies)
	})

	t.Run("outgoing", func(t *testing.T) {
		var seen proto.Message
		fn, err := buildProto(&wrapperspb.StringValue{}, echoHandler, ProtoCodec{
			ValidateOutgoing: func(m proto.Message) error {
				seen = m
				return invalid
			},
		}, 0, nopLogger())
		require.NoError(t, err)
		msg := newFakeMessage(1, nil)
		assert.ErrorIs(t, fn(msg, msg.reply), invalid)
		assert.NotNil(t, seen)
		assert.Equal(t, 0, msg.replies)
	})
}

func TestBuildProtoHandlerNilResult(t *testing.T) {
	fn, err := buildProto(&wrapperspb.StringValue{}, func(ctx context.Context, evt ProtoMessageContext[*wrapperspb.StringValue]) (proto.Message, error) {
		return (*wrapperspb.StringValue)(nil), nil
	}, ProtoCodec{}, 0, nopLogger())
	require.NoError(t, err)

	msg := newFakeMessage(1, nil)
	require.NoError(t, fn(msg, msg.reply))
	assert.Equal(t, 0, msg.replies)
}

func TestBuildProtoHandlerValidations(t *testing.T) {
	_, err := BuildProtoHandler[*structpb.Struct](&structpb.Struct{}, nil, ProtoCodec{}, 0, nopLogger())
	assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

	var nilProto *structpb.Struct
	_, err = BuildProtoHandler(nilProto, func(ctx context.Context, evt ProtoMessageContext[*structpb.Struct]) (proto.Message, error) {
		return nil, nil
	}, ProtoCodec{}, 0, nopLogger())
	assert.ErrorIs(t, err, errspkg.ErrPrototypeRequired)
}

func TestClonePrototype(t *testing.T) {
	original := wrapperspb.String("keep")
	clone, err := clonePrototype(original)
	require.NoError(t, err)
	assert.Equal(t, "", clone.GetValue())
	assert.Equal(t, "keep", original.GetValue())

	var nilProto *wrapperspb.StringValue
	_, err = clonePrototype(nilProto)
	assert.ErrorIs(t, err, errspkg.ErrPrototypeRequired)
}

func TestEnsureProtoPrototype(t *testing.T) {
	var nilProto *structpb.Struct
	msg, err := EnsureProtoPrototype(nilProto)
	require.NoError(t, err)
	assert.NotNil(t, msg)

	existing := &structpb.Struct{}
	same, err := EnsureProtoPrototype(existing)
	require.NoError(t, err)
	assert.Same(t, existing, same)

	var iface proto.Message
	_, err = EnsureProtoPrototype(iface)
	assert.ErrorIs(t, err, errspkg.ErrPrototypeRequired)
}

func TestIsNilProto(t *testing.T) {
	var nilProto *structpb.Struct
	assert.True(t, isNilProto(nilProto))
	assert.False(t, isNilProto(&structpb.Struct{}))
}
