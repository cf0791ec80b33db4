// Package xappflow is a small runtime for RIC xApps. It owns the single
// transport context of the process, runs a receiver and a processor over it
// and dispatches every received message to the handler registered for its
// message type, replying or sending through the same context.
//
// Service ties the pieces together: it reads the RMR and http ports from
// Config or the xApp descriptor, opens the message bus named in
// Config.BusSystem, registers the default middleware chain and optionally
// serves health, config, handler stats and Prometheus metrics. Typed helpers
// (RegisterJSONHandler, RegisterProtoHandler) decode payloads and encode
// replies, and RegisterMessageHandler accepts raw HandlerFunc callbacks that
// work on the message buffer directly. A minimal xApp fills Config, creates a
// Service, registers handlers and calls Run.
//
// # Message bus
//
// The runtime talks to a Driver. xappflow ships these drivers:
//   - loopback: in-process bus for tests and single-binary setups
//   - tcp: framed TCP between xApps with a static route table
//   - channel: Watermill GoChannel
//   - kafka, rabbitmq, nats, jetstream, aws, http, io: Watermill backed
//
// Routes map a message type (and optionally a subscription id) to one or more
// endpoint groups. Replies go straight back to the sender.
//
// # Middleware
//
// The default chain assigns transaction ids, logs payloads at debug level,
// validates declared protobuf payloads, opens an OpenTelemetry span, tracks
// in-flight handlers and recovers panics. RetryMiddleware and
// JobHooksMiddleware can be added via ServiceDependencies.Middlewares.
//
// # Platform services
//
// Service also registers the xApp with the App Manager, raises alarms, and
// reads the RNIB topology from the shared data layer (memory, SQLite,
// PostgreSQL or etcd).
package xappflow
