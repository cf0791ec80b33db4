// Package http provides an HTTP push bus for xappflow. Messages are POSTed to
// <publisher url><topic>; the local subscriber serves one route per endpoint topic.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/bridge"
)

// TransportName is the name used to register this driver.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a bridge driver over watermill-http.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Driver, error) {
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(cfg.GetHTTPServerAddress(), http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	drv, err := bridge.FromConfig(TransportName, publisher, subscriber, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Driver{Driver: drv, sub: subscriber, logger: logger}, nil
}

// Driver starts the HTTP listener once the first endpoint has registered its
// route, since watermill-http rejects subscriptions after the server starts.
type Driver struct {
	*bridge.Driver
	sub     message.Subscriber
	logger  watermill.LoggerAdapter
	started bool
}

// Init subscribes the endpoint and starts serving.
func (d *Driver) Init(port string, maxSize int, flags transport.Flags) (transport.Endpoint, error) {
	ep, err := d.Driver.Init(port, maxSize, flags)
	if err != nil {
		return nil, err
	}
	if s, ok := d.sub.(*http.Subscriber); ok && !d.started {
		d.started = true
		go func() {
			if err := s.StartHTTPServer(); err != nil {
				d.logger.Error("HTTP subscriber server stopped", err, nil)
			}
		}()
	}
	return ep, nil
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
