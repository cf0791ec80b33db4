// Package rmr implements the receive and dispatch runtime of an xApp.
//
// A Client owns one transport endpoint. At most one Client is live per
// Liveness marker, and the process-wide marker is used unless another is
// supplied. The Pipeline runs two goroutines over a SharedClient: the
// receiver waits for the transport to be ready, then moves each inbound
// message onto a bounded queue; the processor pops messages, looks up the
// handler registered for the message type and invokes it with the client
// locked. Every received Buffer is released exactly once, whether the
// handler succeeds, fails or panics.
package rmr
