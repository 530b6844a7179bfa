// Package transports imports every built-in audit transport for registration.
package transports

import (
	_ "github.com/drblury/botcomet/transport/channel"
	_ "github.com/drblury/botcomet/transport/http"
	_ "github.com/drblury/botcomet/transport/kafka"
	_ "github.com/drblury/botcomet/transport/nats"
	_ "github.com/drblury/botcomet/transport/rabbitmq"
)
