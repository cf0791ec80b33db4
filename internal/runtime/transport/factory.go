package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/xappflow/internal/runtime/config"
	bus "github.com/drblury/xappflow/transport"

	// Register every built-in driver.
	_ "github.com/drblury/xappflow/transport/transports"
)

// DefaultBusSystem is used when the configuration does not name a driver.
const DefaultBusSystem = "loopback"

// Factory abstracts how xappflow opens the message bus driver.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Driver, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Driver, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Driver, error) {
	return f(ctx, conf, logger)
}

// StaticFactory always returns drv. Handy for tests and for drivers built by
// the application itself.
func StaticFactory(drv bus.Driver) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (bus.Driver, error) {
		if drv == nil {
			return nil, fmt.Errorf("static factory: driver is nil")
		}
		return drv, nil
	})
}

// DefaultFactory returns the factory backed by the driver registry.
func DefaultFactory() Factory {
	return defaultFactory{registry: bus.DefaultRegistry}
}

// RegistryFactory builds drivers from a custom registry.
func RegistryFactory(registry *bus.Registry) Factory {
	return defaultFactory{registry: registry}
}

type defaultFactory struct {
	registry *bus.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (bus.Driver, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	if conf.BusSystem == "" {
		copied := *conf
		copied.BusSystem = DefaultBusSystem
		conf = &copied
	}
	return f.registry.Build(ctx, conf, logger)
}
