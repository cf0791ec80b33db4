/*
Package runtime provides the receive/dispatch machinery of xappflow.

# Architecture Overview

A Service owns one transport context (rmr.Client) opened on the message bus
driver built by a transport.Factory. The rmr.Pipeline runs two goroutines
over it: the receiver waits until the transport can route, takes messages off
the endpoint and hands them to the processor through a bounded queue; the
processor looks the message type up in the rmr.Registry and runs the handler,
wrapped in the middleware chain, while holding the shared client lock.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - The bus driver and the transport context
  - The dispatch pipeline and the handler registry
  - The middleware chain
  - The SDL storage and the RNIB reader
  - App Manager registration and the alarm client
  - HTTP servers for health, config, handler stats and metrics

## Handler Registration (registration*.go)

  - registration.go: raw rmr handlers, stats wrapping and unregistering
  - registration_json.go: typed JSON handlers
  - registration_proto.go: typed Protocol Buffer handlers

## Middleware (middleware.go, hooks.go)

  - Xaction: assigns a ULID transaction id
  - LogMessages: debug logging of message payloads
  - ProtoValidate: validation of declared protobuf payloads
  - Tracer: OpenTelemetry spans
  - Metrics: in-flight handler gauge
  - Retry: exponential backoff retry
  - Recoverer: panic recovery
  - JobHooks: start, done and error callbacks

## Stats & Monitoring (models.go, resources.go, metrics.go)

Per handler latency percentiles, throughput, error categories, resource
usage and queue depth, plus the Prometheus registry fed by the pipeline.

## Platform (appmgr.go, alarms.go, webserver.go)

Clients for the App Manager and the alarm manager, and the xApp http routes.

# Sub-packages

  - config/: configuration, descriptor parsing and validation
  - errors/: sentinel errors
  - handlers/: typed handler building and message contexts
  - ids/: ULID generation
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - rmr/: transport context, buffers, registry and pipeline
  - rnib/: E2 node topology over SDL
  - sdl/: shared data layer backends
  - transport/: bus driver factories

# Usage Example

	cfg := &xappflow.Config{XAppName: "pong", RMRPort: 4560, BusSystem: "tcp"}

	svc := xappflow.NewService(cfg, logger, ctx, xappflow.ServiceDependencies{})

	xappflow.RegisterJSONHandler(svc, xappflow.JSONHandlerRegistration[*Ping, *Ack]{
		Name:        "ping",
		MessageType: 60000,
		ReplyType:   60001,
		Handler:     handlePing,
	})

	svc.Run(ctx)
*/
package runtime
