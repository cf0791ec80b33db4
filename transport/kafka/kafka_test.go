package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/xappflow/transport"
	"github.com/drblury/xappflow/transport/transporttest"
)

func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	})
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
		return pub, pubErr
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, "pong-xapp", cfg.ConsumerGroup)
		return sub, subErr
	}
}

func testConfig() *transporttest.Config {
	return &transporttest.Config{
		BusSystem:          TransportName,
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "pong-xapp",
		TopicPrefix:        "ric",
	}
}

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
	assert.True(t, Capabilities().Networked)
}

func TestBuild(t *testing.T) {
	t.Run("wraps publisher and subscriber in a bridge", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		stubFactories(t, pub, nil, sub, nil)

		drv, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
		require.NoError(t, err)

		ep, err := drv.Init("4560", 0, transport.FlagNoThread)
		require.NoError(t, err)
		assert.Equal(t, []string{"ric.localhost_4560"}, sub.Subscribed())
		require.NoError(t, ep.Close())

		require.NoError(t, drv.Close())
		assert.True(t, pub.Closed)
		assert.True(t, sub.Closed)
	})

	t.Run("publisher failure", func(t *testing.T) {
		stubFactories(t, nil, errors.New("publisher error"), nil, nil)
		_, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber failure closes publisher", func(t *testing.T) {
		pub := &transporttest.Publisher{}
		stubFactories(t, pub, nil, nil, errors.New("subscriber error"))
		_, err := Build(context.Background(), testConfig(), watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}
