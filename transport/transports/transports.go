// Package transports registers every built-in publisher with the default
// transport registry. Import it for its side effect.
package transports

import (
	_ "github.com/drblury/tenantbus/transport/aws"
	_ "github.com/drblury/tenantbus/transport/channel"
	_ "github.com/drblury/tenantbus/transport/http"
	_ "github.com/drblury/tenantbus/transport/kafka"
	"github.com/drblury/tenantbus/transport/nats"
	"github.com/drblury/tenantbus/transport/rabbitmq"
)

func init() {
	nats.Register()
	rabbitmq.Register()
}
