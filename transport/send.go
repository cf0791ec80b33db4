package transport

import (
	"errors"
	"fmt"
)

// SendFunc delivers one copy of a message to addr.
type SendFunc func(addr string, out *Msg) error

// Dispatch resolves the destinations of msg through rt and hands a copy
// stamped with source to send for each of them. msg.State reflects the outcome.
func Dispatch(rt *RouteTable, source string, msg *Msg, send SendFunc) (*Msg, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	targets, ok := rt.Targets(msg.MType, msg.SubID)
	if !ok {
		msg.State = StateNoEndpoint
		return msg, fmt.Errorf("%w: %d", ErrNoRoute, msg.MType)
	}
	var errs []error
	for _, addr := range targets {
		out := msg.Clone()
		out.Source = source
		if err := send(addr, out); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		}
	}
	if len(errs) > 0 {
		msg.State = StateSendFailed
		return msg, errors.Join(errs...)
	}
	msg.State = StateOK
	return msg, nil
}

// Return hands a copy of msg to send, addressed to msg.Source.
func Return(source string, msg *Msg, send SendFunc) (*Msg, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	if msg.Source == "" {
		msg.State = StateNoEndpoint
		return msg, ErrNoSource
	}
	out := msg.Clone()
	out.Source = source
	if err := send(msg.Source, out); err != nil {
		msg.State = StateSendFailed
		return msg, err
	}
	msg.State = StateOK
	return msg, nil
}
