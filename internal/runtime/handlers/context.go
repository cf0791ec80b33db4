package handlers

import (
	"context"
	"fmt"

	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

// Message is the part of a received buffer typed handlers work with.
// *rmr.Buffer satisfies it.
type Message interface {
	MessageType() int32
	SubID() int32
	Xaction() []byte
	Source() string
	Payload() []byte
	Context() context.Context
	SetPayload(data []byte) error
	SetType(mtype int32)
}

var _ Message = (*rmr.Buffer)(nil)

// ReplyFunc returns the (rewritten) message to its sender.
type ReplyFunc func() error

// MessageContextBase carries the header of the received message and the
// logger shared by JSON and Proto handlers.
type MessageContextBase struct {
	MessageType int32
	SubID       int32
	Xaction     []byte
	Source      string
	Logger      loggingpkg.ServiceLogger
}

func newContextBase(msg Message, logger loggingpkg.ServiceLogger) MessageContextBase {
	return MessageContextBase{
		MessageType: msg.MessageType(),
		SubID:       msg.SubID(),
		Xaction:     msg.Xaction(),
		Source:      msg.Source(),
		Logger:      logger,
	}
}

// XactionID returns the transaction id as a string.
func (b MessageContextBase) XactionID() string {
	return string(b.Xaction)
}

// LogFields returns the header as log fields.
func (b MessageContextBase) LogFields() loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"mtype":   b.MessageType,
		"subid":   b.SubID,
		"xaction": b.XactionID(),
		"source":  b.Source,
	}
}

// DecodeError is returned when a payload cannot be decoded into the handler's type.
type DecodeError struct {
	MessageType int32
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload of message type %d: %v", e.MessageType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// adapt turns a Message based dispatch function into an rmr handler.
func adapt(fn func(Message, ReplyFunc) error) rmr.HandlerFunc {
	return func(buf *rmr.Buffer, client *rmr.Client) error {
		return fn(buf, func() error { return client.Reply(buf) })
	}
}

// reply rewrites msg with payload and sends it back. replyType zero keeps
// the received message type.
func reply(msg Message, send ReplyFunc, payload []byte, replyType int32) error {
	if err := msg.SetPayload(payload); err != nil {
		return err
	}
	if replyType != 0 {
		msg.SetType(replyType)
	}
	return send()
}
