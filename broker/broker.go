package broker

import (
	"github.com/zllovesuki/pagecraft/spec/broker"
	"github.com/zllovesuki/pagecraft/subscription"
)

var _ broker.Producer = &AMQPBroker{}
var _ subscription.Notifier = &AMQPBroker{}
