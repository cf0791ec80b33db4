package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	loggingpkg "github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/internal/runtime/rmr"
)

// JobContext describes one handler invocation to hooks.
type JobContext struct {
	// HandlerName is the registered name, empty for the default handler.
	HandlerName string
	// MessageType is the type the message was received with.
	MessageType int32
	SubID       int32
	// Source is the reply address of the sender.
	Source  string
	Xaction string
	// Context is the context associated with the buffer.
	Context   context.Context
	StartedAt time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
	// Attempt counts retries of the same message, starting at zero.
	Attempt int
}

// JobHooks defines callbacks for job lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	// OnJobStart runs before the handler.
	OnJobStart func(ctx JobContext)
	// OnJobDone runs after the handler returned nil.
	OnJobDone func(ctx JobContext)
	// OnJobError runs after the handler returned an error or panicked.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other run after those of h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainJobHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainJobHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainJobErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainJobHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainJobErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksMiddleware invokes hooks around every dispatched message.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "job_hooks",
		Builder: func(s *Service) (rmr.Middleware, error) {
			return jobHooksMiddleware(hooks, s.registry.Name), nil
		},
	}
}

func jobHooksMiddleware(hooks JobHooks, handlerName func(int32) string) rmr.Middleware {
	return func(h rmr.HandlerFunc) rmr.HandlerFunc {
		return func(buf *rmr.Buffer, client *rmr.Client) (err error) {
			job := newJobContext(buf, handlerName)
			if hooks.OnJobStart != nil {
				hooks.OnJobStart(job)
			}

			defer func() {
				if r := recover(); r != nil {
					err = &rmr.PanicError{Value: r, Stack: debug.Stack()}
				}
				job.Duration = time.Since(job.StartedAt)
				if err != nil {
					if hooks.OnJobError != nil {
						hooks.OnJobError(job, err)
					}
					return
				}
				if hooks.OnJobDone != nil {
					hooks.OnJobDone(job)
				}
			}()

			return h(buf, client)
		}
	}
}

func newJobContext(buf *rmr.Buffer, handlerName func(int32) string) JobContext {
	job := JobContext{
		MessageType: buf.MessageType(),
		SubID:       buf.SubID(),
		Source:      buf.Source(),
		Xaction:     xactionString(buf.Xaction()),
		Context:     buf.Context(),
		StartedAt:   time.Now(),
		Attempt:     retryAttempt(buf.Context()),
	}
	if handlerName != nil {
		job.HandlerName = handlerName(job.MessageType)
	}
	return job
}

// LoggingHooks returns hooks that log job lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"handler": ctx.HandlerName,
			"mtype":   ctx.MessageType,
			"xaction": ctx.Xaction,
			"attempt": ctx.Attempt,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Info("Job completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Job failed", err, f)
		},
	}
}

// MetricsHooks returns hooks that forward job events to the supplied counters.
func MetricsHooks(onStart, onDone, onError func(handlerName string, mtype int32)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.HandlerName, ctx.MessageType)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.HandlerName, ctx.MessageType)
			}
		},
		OnJobError: func(ctx JobContext, err error) {
			if onError != nil {
				onError(ctx.HandlerName, ctx.MessageType)
			}
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on job errors.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}

// AlarmHooks raises the alarm specificProblem through alarms when a handler
// fails. The identifying info carries the message type.
func AlarmHooks(alarms *AlarmClient, specificProblem int, severity AlarmSeverity) JobHooks {
	return AlertingHooks(func(job JobContext, err error) {
		if alarms == nil {
			return
		}
		ctx := job.Context
		if ctx == nil {
			ctx = context.Background()
		}
		_ = alarms.Raise(ctx, specificProblem, severity,
			fmt.Sprintf("mtype=%d", job.MessageType), err.Error())
	})
}
