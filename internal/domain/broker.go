// internal/domain/broker.go
package domain

import "context"

// BrokerEventKind distinguishes genuine data messages from the control
// traffic (subscribe acks, pongs) a pub/sub broker interleaves with them.
type BrokerEventKind string

const (
	BrokerEventData    BrokerEventKind = "message"
	BrokerEventControl BrokerEventKind = "control"
)

// BrokerEvent is one item received from a channel subscription.
type BrokerEvent struct {
	Kind    BrokerEventKind
	Channel string
	Payload []byte
}

// BrokerSubscription is a blocking stream of events from one channel.
type BrokerSubscription interface {
	// Receive blocks until the next event arrives, the subscription fails,
	// or ctx is cancelled.
	Receive(ctx context.Context) (BrokerEvent, error)
	Close() error
}

// Broker abstracts the pub/sub message broker. Subscribe establishes a new
// subscription on the named channel; Publish sends one message and does not
// wait for any receiver.
type Broker interface {
	Subscribe(ctx context.Context, channel string) (BrokerSubscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}
