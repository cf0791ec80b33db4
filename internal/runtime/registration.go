package runtime

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

type handlerRegistration struct {
	Name        string
	MessageType int32
	ReplyType   int32
	Handler     rmr.HandlerFunc
	prototype   proto.Message
	encoding    handlerpkg.ProtoEncoding
}

// MessageHandlerRegistration wires a raw rmr handler without typed helpers.
type MessageHandlerRegistration struct {
	Name        string
	MessageType int32
	Handler     rmr.HandlerFunc
}

// RegisterMessageHandler attaches the provided handler to the service
// registry, replacing any handler already bound to the message type.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:        cfg.Name,
		MessageType: cfg.MessageType,
		Handler:     cfg.Handler,
	})
}

// RegisterHandler registers h for mtype under a generated name.
func (s *Service) RegisterHandler(mtype int32, h rmr.HandlerFunc) error {
	return s.registerHandler(handlerRegistration{
		Name:        fmt.Sprintf("mtype-%d", mtype),
		MessageType: mtype,
		Handler:     h,
	})
}

func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.Name == "" && cfg.prototype != nil {
		cfg.Name = fmt.Sprintf("%T-Handler", cfg.prototype)
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}

	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	info := &HandlerInfo{
		Name:          cfg.Name,
		MessageType:   cfg.MessageType,
		ReplyType:     cfg.ReplyType,
		Stats:         newHandlerStats(cfg.Name, cfg.MessageType, s.busSystem(), s.getResourceTracker()),
		withPrototype: cfg.prototype != nil,
	}

	replaced := false
	for i, existing := range s.handlers {
		if existing.MessageType != cfg.MessageType {
			continue
		}
		if existing.withPrototype && cfg.prototype == nil {
			s.protoRegistryMu.Lock()
			delete(s.protoRegistry, cfg.MessageType)
			s.protoRegistryMu.Unlock()
		}
		s.handlers[i] = info
		replaced = true
		break
	}
	if !replaced {
		s.handlers = append(s.handlers, info)
	}
	if cfg.prototype != nil {
		s.registerProtoType(cfg.MessageType, cfg.prototype, cfg.encoding)
	}

	wrapped := wrapHandlerWithStats(cfg.Handler, info.Stats, s.getErrorClassifier(), s.pipeline.QueueDepth)
	s.registry.RegisterNamed(cfg.MessageType, cfg.Name, wrapped)

	s.Logger.Debug("Handler registered", loggingpkg.LogFields{
		"handler":  cfg.Name,
		"mtype":    cfg.MessageType,
		"replaced": replaced,
	})
	return nil
}

// UnregisterHandler removes the handler of mtype. Messages of that type fall
// back to the default handler.
func (s *Service) UnregisterHandler(mtype int32) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	s.registry.Unregister(mtype)
	kept := s.handlers[:0]
	for _, info := range s.handlers {
		if info.MessageType != mtype {
			kept = append(kept, info)
		}
	}
	s.handlers = kept

	s.protoRegistryMu.Lock()
	delete(s.protoRegistry, mtype)
	s.protoRegistryMu.Unlock()
}

type protoEntry struct {
	newMessage func() proto.Message
	codec      handlerpkg.ProtoCodec
}

// RegisterProtoMessage declares the wire-encoded payload type of mtype
// without registering a handler. The proto_validate middleware uses it.
func (s *Service) RegisterProtoMessage(mtype int32, msg proto.Message) {
	s.registerProtoType(mtype, msg, handlerpkg.ProtoEncodingBinary)
}

func (s *Service) registerProtoType(mtype int32, msg proto.Message, encoding handlerpkg.ProtoEncoding) {
	if msg == nil {
		return
	}

	s.protoRegistryMu.Lock()
	s.protoRegistry[mtype] = protoEntry{
		newMessage: func() proto.Message {
			return msg.ProtoReflect().New().Interface()
		},
		codec: handlerpkg.ProtoCodec{Encoding: encoding},
	}
	s.protoRegistryMu.Unlock()
}

func (s *Service) protoFor(mtype int32) (protoEntry, bool) {
	s.protoRegistryMu.RLock()
	defer s.protoRegistryMu.RUnlock()
	entry, ok := s.protoRegistry[mtype]
	return entry, ok
}

func wrapHandlerWithStats(handler rmr.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier, queueDepth func() int) rmr.HandlerFunc {
	return func(buf *rmr.Buffer, client *rmr.Client) error {
		depth := -1
		if queueDepth != nil {
			depth = queueDepth()
		}
		stats.onMessageStart(depth)
		start := time.Now()
		err := handler(buf, client)
		stats.onMessageFinish(time.Since(start), err, classifier)
		return err
	}
}
