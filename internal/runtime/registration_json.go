package runtime

import (
	errspkg "github.com/drblury/xappflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/xappflow/internal/runtime/handlers"
)

// RegisterJSONHandler converts the typed JSON handler into an rmr handler and registers it.
func RegisterJSONHandler[T any, O any](svc *Service, cfg handlerpkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	wrapped, err := handlerpkg.BuildJSONHandler(cfg.Handler, cfg.ReplyType, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:        cfg.Name,
		MessageType: cfg.MessageType,
		ReplyType:   cfg.ReplyType,
		Handler:     wrapped,
	})
}
