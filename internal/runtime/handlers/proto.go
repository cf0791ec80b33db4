package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

// ProtoEncoding selects how protobuf payloads are read and written.
type ProtoEncoding int

const (
	// ProtoEncodingBinary uses the protobuf wire format.
	ProtoEncodingBinary ProtoEncoding = iota
	// ProtoEncodingJSON uses the canonical protobuf JSON mapping.
	ProtoEncodingJSON
)

// ProtoHandlerRegistration configures a typed protobuf handler that decodes
// incoming payloads and encodes the reply.
type ProtoHandlerRegistration[T proto.Message] struct {
	Name        string
	MessageType int32
	// ReplyType is set on the reply. Zero keeps the received type.
	ReplyType        int32
	Handler          ProtoMessageHandler[T]
	Options          []ProtoHandlerOption
	ValidateIncoming bool
	ValidateOutgoing bool
}

// ProtoHandlerOption customises handler registration.
type ProtoHandlerOption func(*protoHandlerOptions)

type protoHandlerOptions struct {
	encoding ProtoEncoding
}

// ProtoHandlerOptions exposes the resolved handler configuration to callers.
type ProtoHandlerOptions struct {
	Encoding ProtoEncoding
}

// ApplyProtoHandlerOptions resolves the supplied options into a concrete configuration.
func ApplyProtoHandlerOptions(opts []ProtoHandlerOption) ProtoHandlerOptions {
	config := protoHandlerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}
	return ProtoHandlerOptions{Encoding: config.encoding}
}

// WithProtoJSON reads and writes payloads with protojson instead of the wire format.
func WithProtoJSON() ProtoHandlerOption {
	return func(cfg *protoHandlerOptions) {
		cfg.encoding = ProtoEncodingJSON
	}
}

// ProtoMessageContext provides strongly typed access to the incoming payload.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageHandler processes a typed protobuf payload. A non-nil result is
// returned to the sender.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, event ProtoMessageContext[T]) (proto.Message, error)

// ProtoCodec holds the validation and encoding used by a proto handler.
type ProtoCodec struct {
	Encoding         ProtoEncoding
	ValidateIncoming func(proto.Message) error
	ValidateOutgoing func(proto.Message) error
}

// Unmarshal decodes data into msg with the configured encoding.
func (c ProtoCodec) Unmarshal(data []byte, msg proto.Message) error {
	if c.Encoding == ProtoEncodingJSON {
		return protojson.Unmarshal(data, msg)
	}
	return proto.Unmarshal(data, msg)
}

// Marshal encodes msg with the configured encoding.
func (c ProtoCodec) Marshal(msg proto.Message) ([]byte, error) {
	if c.Encoding == ProtoEncodingJSON {
		return protojson.Marshal(msg)
	}
	return proto.Marshal(msg)
}

// BuildProtoHandler converts the typed handler into an rmr handler.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], codec ProtoCodec, replyType int32, logger loggingpkg.ServiceLogger) (rmr.HandlerFunc, error) {
	fn, err := buildProto(prototype, handler, codec, replyType, logger)
	if err != nil {
		return nil, err
	}
	return adapt(fn), nil
}

func buildProto[T proto.Message](prototype T, handler ProtoMessageHandler[T], codec ProtoCodec, replyType int32, logger loggingpkg.ServiceLogger) (func(Message, ReplyFunc) error, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if isNilProto(prototype) {
		return nil, errspkg.ErrPrototypeRequired
	}

	return func(msg Message, send ReplyFunc) error {
		typed, err := clonePrototype(prototype)
		if err != nil {
			return err
		}
		if err := codec.Unmarshal(msg.Payload(), typed); err != nil {
			return &DecodeError{MessageType: msg.MessageType(), Err: fmt.Errorf("%T: %w", prototype, err)}
		}
		if codec.ValidateIncoming != nil {
			if err := codec.ValidateIncoming(typed); err != nil {
				return &DecodeError{MessageType: msg.MessageType(), Err: err}
			}
		}

		out, err := handler(msg.Context(), ProtoMessageContext[T]{
			MessageContextBase: newContextBase(msg, logger),
			Payload:            typed,
		})
		if err != nil {
			return err
		}
		if out == nil || !out.ProtoReflect().IsValid() {
			return nil
		}
		if codec.ValidateOutgoing != nil {
			if err := codec.ValidateOutgoing(out); err != nil {
				return err
			}
		}

		payload, err := codec.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode %T reply: %w", out, err)
		}
		return reply(msg, send, payload, replyType)
	}, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrPrototypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a fresh instance of its type when
// candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrPrototypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrMessagePointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, errors.New("unexpected prototype type " + typ.String())
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
