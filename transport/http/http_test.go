package http

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	watermillhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/transporttest"
)

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
	assert.False(t, Capabilities().SupportsReplies())
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
}

func TestBuild(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	})

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	var marshal func(topic string, msg *message.Message) error
	PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		marshal = func(topic string, msg *message.Message) error {
			req, err := config.MarshalMessageFunc(topic, msg)
			if err == nil {
				assert.Equal(t, "http://peer:8080/rmr.localhost_4560", req.URL.String())
			}
			return err
		}
		return pub, nil
	}
	SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, ":8081", addr)
		return sub, nil
	}

	cfg := &transporttest.Config{HTTPServerAddress: ":8081", HTTPPublisherURL: "http://peer:8080/"}
	drv, err := Build(context.Background(), cfg, watermill.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, marshal("rmr.localhost_4560", message.NewMessage("1", []byte("x"))))

	_, err = drv.Init("4560", 0, transport.FlagNoThread)
	require.NoError(t, err)
	require.NoError(t, drv.Close())
}

func TestBuild_Errors(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	})

	PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher error")
	}
	_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "publisher error")

	pub := &transporttest.Publisher{}
	PublisherFactory = func(config watermillhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	SubscriberFactory = func(addr string, config watermillhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}
	_, err = Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	assert.ErrorContains(t, err, "subscriber error")
	assert.True(t, pub.Closed)
}
