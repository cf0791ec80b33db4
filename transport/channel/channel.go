// Package channel provides an in-memory bus built on watermill's gochannel.
// It exercises the bridge driver without a broker and suits tests.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/bridge"
)

// TransportName is the name used to register this driver.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a bridge driver over a fresh gochannel pub/sub.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Driver, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return bridge.FromConfig(TransportName, pub, sub, cfg, logger)
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
