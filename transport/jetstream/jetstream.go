// Package jetstream provides a NATS JetStream backed bus for xappflow.
// Streams and durable consumers are provisioned automatically.
package jetstream

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/bridge"
)

// TransportName is the name used to register this driver.
const TransportName = "nats-jetstream"

const (
	// DefaultAckWait bounds how long JetStream waits for an acknowledgement.
	DefaultAckWait = 30 * time.Second
	// DefaultDurablePrefix names durable consumers.
	DefaultDurablePrefix = "xapp"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// StreamConfig returns the JetStream settings used by Build.
func StreamConfig() nats.JetStreamConfig {
	return nats.JetStreamConfig{
		AutoProvision: true,
		TrackMsgId:    true,
		DurablePrefix: DefaultDurablePrefix,
		SubscribeOptions: []nc.SubOpt{
			nc.AckExplicit(),
			nc.DeliverAll(),
		},
	}
}

// Build creates a bridge driver over JetStream subjects.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Driver, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.JSONMarshaler{}
	js := StreamConfig()

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:         url,
		NatsOptions: []nc.Option{nc.Name("xappflow-js")},
		Marshaler:   marshaler,
		JetStream:   js,
	}, logger)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:            url,
		NatsOptions:    []nc.Option{nc.Name("xappflow-js")},
		Unmarshaler:    marshaler,
		AckWaitTimeout: DefaultAckWait,
		JetStream:      js,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return bridge.FromConfig(TransportName, publisher, subscriber, cfg, logger)
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}
