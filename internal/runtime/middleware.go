package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	idspkg "github.com/drblury/xappflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

const tracerName = "github.com/drblury/xappflow"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (rmr.Middleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a
// Service pipeline. A builder returning a nil middleware registers nothing.
type MiddlewareRegistration struct {
	Name       string
	Middleware rmr.Middleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the standard middleware chain used by the Service
// constructor, outermost first.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		XactionMiddleware(),
		LogMessagesMiddleware(nil),
		ProtoValidateMiddleware(),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// XactionMiddleware assigns a ULID transaction id to messages that arrive
// without one.
func XactionMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "xaction",
		Middleware: xactionMiddleware,
	}
}

func xactionMiddleware(h rmr.HandlerFunc) rmr.HandlerFunc {
	return func(buf *rmr.Buffer, client *rmr.Client) error {
		if xactionString(buf.Xaction()) == "" {
			if err := buf.SetXaction(idspkg.NewXaction()); err != nil {
				return err
			}
		}
		return h(buf, client)
	}
}

// LogMessagesMiddleware logs the header and payload of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (rmr.Middleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) rmr.Middleware {
	return func(h rmr.HandlerFunc) rmr.HandlerFunc {
		return func(buf *rmr.Buffer, client *rmr.Client) error {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"mtype":   buf.MessageType(),
				"subid":   buf.SubID(),
				"len":     buf.Len(),
				"source":  buf.Source(),
				"xaction": xactionString(buf.Xaction()),
				"payload": string(buf.Payload()),
			})
			return h(buf, client)
		}
	}
}

// ProtoValidateMiddleware decodes payloads of message types with a declared
// protobuf type and runs the service validator on them. Invalid messages
// never reach the handler.
func ProtoValidateMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "proto_validate",
		Builder: func(s *Service) (rmr.Middleware, error) {
			if s.validator == nil {
				return nil, nil
			}
			return s.protoValidateMiddleware(), nil
		},
	}
}

func (s *Service) protoValidateMiddleware() rmr.Middleware {
	return func(h rmr.HandlerFunc) rmr.HandlerFunc {
		return func(buf *rmr.Buffer, client *rmr.Client) error {
			entry, ok := s.protoFor(buf.MessageType())
			if !ok {
				return h(buf, client)
			}

			payload := buf.Payload()
			msg := entry.newMessage()
			if err := entry.codec.Unmarshal(payload, msg); err != nil {
				s.Logger.Error("Failed to decode protobuf payload", err, loggingpkg.LogFields{"mtype": buf.MessageType()})
				return NewUnprocessableMessageError(payload, err)
			}
			if err := s.validator.Validate(msg); err != nil {
				s.Logger.Error("Failed to validate protobuf payload", err, loggingpkg.LogFields{"mtype": buf.MessageType()})
				return NewUnprocessableMessageError(payload, err)
			}
			return h(buf, client)
		}
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span. The span
// context is attached to the buffer so handlers can start child spans.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware(otel.Tracer(tracerName)),
	}
}

func tracerMiddleware(tracer trace.Tracer) rmr.Middleware {
	return func(h rmr.HandlerFunc) rmr.HandlerFunc {
		return func(buf *rmr.Buffer, client *rmr.Client) error {
			ctx, span := tracer.Start(buf.Context(), "rmr.dispatch",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.Int("rmr.mtype", int(buf.MessageType())),
					attribute.Int("rmr.subid", int(buf.SubID())),
					attribute.String("rmr.xaction", xactionString(buf.Xaction())),
					attribute.String("rmr.source", buf.Source()),
				),
			)
			defer span.End()
			buf.SetContext(ctx)

			err := h(buf, client)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// MetricsMiddleware tracks running handler invocations when metrics are enabled.
// Message counters are fed by the pipeline observer regardless.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (rmr.Middleware, error) {
			if !s.Conf.MetricsEnabled || s.metrics == nil {
				return nil, nil
			}
			gauge := s.metrics.HandlersInFlight()
			return func(h rmr.HandlerFunc) rmr.HandlerFunc {
				return func(buf *rmr.Buffer, client *rmr.Client) error {
					gauge.Inc()
					defer gauge.Dec()
					return h(buf, client)
				}
			}, nil
		},
	}
}

// RetryMiddleware retries failed handlers with exponential backoff. Every
// attempt sees the message as it was received, even when an earlier attempt
// rewrote it for a reply. The client stays locked between attempts, so keep
// the intervals short.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name:       "retry",
		Middleware: retryMiddleware(normalized),
	}
}

type retryAttemptKey struct{}

func withRetryAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, retryAttemptKey{}, attempt)
}

func retryAttempt(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	n, _ := ctx.Value(retryAttemptKey{}).(int)
	return n
}

func retryMiddleware(cfg RetryMiddlewareConfig) rmr.Middleware {
	return func(h rmr.HandlerFunc) rmr.HandlerFunc {
		return func(buf *rmr.Buffer, client *rmr.Client) error {
			base := buf.Context()
			defer buf.SetContext(base)

			policy := backoff.NewExponentialBackOff()
			policy.InitialInterval = cfg.InitialInterval
			policy.MaxInterval = cfg.MaxInterval

			request := buf.Checkpoint()
			attempt := 0
			_, err := backoff.Retry(base, func() (struct{}, error) {
				if attempt > 0 {
					buf.Restore(request)
				}
				buf.SetContext(withRetryAttempt(base, attempt))
				attempt++
				err := h(buf, client)
				if err == nil {
					return struct{}{}, nil
				}
				if cfg.RetryIf != nil && !cfg.RetryIf(err) {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(cfg.MaxRetries+1)))
			return err
		}
	}
}

// RecovererMiddleware converts handler panics into *rmr.PanicError so outer
// middleware observe them as ordinary failures.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "recoverer",
		Builder: func(s *Service) (rmr.Middleware, error) {
			return recovererMiddleware(s.Logger), nil
		},
	}
}

func recovererMiddleware(logger loggingpkg.ServiceLogger) rmr.Middleware {
	return func(h rmr.HandlerFunc) rmr.HandlerFunc {
		return func(buf *rmr.Buffer, client *rmr.Client) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr := &rmr.PanicError{Value: r, Stack: debug.Stack()}
					if logger != nil {
						logger.Error("Recovered handler panic", perr, loggingpkg.LogFields{
							"mtype": buf.MessageType(),
							"stack": string(perr.Stack),
						})
					}
					err = perr
				}
			}()
			return h(buf, client)
		}
	}
}

// RegisterMiddleware attaches the supplied middleware to the pipeline. It
// applies to messages dispatched after the call.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.pipeline == nil {
		return errors.New("pipeline is not initialised")
	}

	var mw rmr.Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return fmt.Errorf("middleware %s: %w", cfg.Name, err)
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.pipeline.Use(mw)
	return nil
}

func xactionString(id []byte) string {
	return string(bytes.TrimRight(id, "\x00"))
}
