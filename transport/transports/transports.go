// Package transports registers every built-in driver with the default registry.
// Import it for its side effect.
package transports

import (
	_ "github.com/drblury/xappflow/transport/aws"
	_ "github.com/drblury/xappflow/transport/channel"
	_ "github.com/drblury/xappflow/transport/http"
	"github.com/drblury/xappflow/transport/io"
	_ "github.com/drblury/xappflow/transport/jetstream"
	_ "github.com/drblury/xappflow/transport/kafka"
	_ "github.com/drblury/xappflow/transport/loopback"
	"github.com/drblury/xappflow/transport/nats"
	"github.com/drblury/xappflow/transport/rabbitmq"
	_ "github.com/drblury/xappflow/transport/tcp"
)

func init() {
	io.Register()
	nats.Register()
	rabbitmq.Register()
}
