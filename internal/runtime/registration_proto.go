package runtime

import (
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
)

// RegisterProtoHandler converts the typed handler into an rmr handler and
// registers it for cfg.MessageType.
func RegisterProtoHandler[T proto.Message](svc *Service, cfg handlerpkg.ProtoHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	prototype, err := NewProtoMessage[T]()
	if err != nil {
		return err
	}

	resolved := handlerpkg.ApplyProtoHandlerOptions(cfg.Options)
	codec := handlerpkg.ProtoCodec{Encoding: resolved.Encoding}
	if svc.validator != nil {
		validate := func(msg proto.Message) error {
			return svc.validator.Validate(msg)
		}
		if cfg.ValidateIncoming {
			codec.ValidateIncoming = validate
		}
		if cfg.ValidateOutgoing {
			codec.ValidateOutgoing = validate
		}
	}

	wrapped, err := handlerpkg.BuildProtoHandler(prototype, cfg.Handler, codec, cfg.ReplyType, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:        cfg.Name,
		MessageType: cfg.MessageType,
		ReplyType:   cfg.ReplyType,
		Handler:     wrapped,
		prototype:   prototype,
		encoding:    resolved.Encoding,
	})
}

// NewProtoMessage returns an empty *M for a pointer message type T. It is
// the prototype every payload of a proto handler is decoded into.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerpkg.EnsureProtoPrototype(zero)
}

func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
