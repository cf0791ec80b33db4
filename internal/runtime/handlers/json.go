package handlers

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/xappflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

// JSONHandlerRegistration wires a typed JSON handler to a message type.
type JSONHandlerRegistration[T any, O any] struct {
	Name        string
	MessageType int32
	// ReplyType is set on the reply. Zero keeps the received type.
	ReplyType int32
	Handler   JSONMessageHandler[T, O]
}

// JSONMessageContext exposes the decoded payload and the message header.
type JSONMessageContext[T any] struct {
	MessageContextBase
	Payload T
}

// JSONMessageHandler processes a JSON payload. A non-zero result is encoded
// and returned to the sender; a zero result sends nothing.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) (O, error)

// BuildJSONHandler converts a typed JSON handler into an rmr handler.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], replyType int32, logger loggingpkg.ServiceLogger) (rmr.HandlerFunc, error) {
	fn, err := buildJSON(handler, replyType, logger)
	if err != nil {
		return nil, err
	}
	return adapt(fn), nil
}

func buildJSON[T any, O any](handler JSONMessageHandler[T, O], replyType int32, logger loggingpkg.ServiceLogger) (func(Message, ReplyFunc) error, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(msg Message, send ReplyFunc) error {
		typed := prototypeFactory()
		if err := jsoncodec.Unmarshal(msg.Payload(), typed); err != nil {
			return &DecodeError{MessageType: msg.MessageType(), Err: err}
		}

		out, err := handler(msg.Context(), JSONMessageContext[T]{
			MessageContextBase: newContextBase(msg, logger),
			Payload:            typed,
		})
		if err != nil {
			return err
		}
		if isZero(out) {
			return nil
		}

		payload, err := jsoncodec.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode %T reply: %w", out, err)
		}
		return reply(msg, send, payload, replyType)
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPrototypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrMessagePointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}
