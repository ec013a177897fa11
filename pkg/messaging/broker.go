package messaging

import (
	"context"
)

// Message is one delivered broker record. Delivery is at-least-once: a
// message is redelivered until its handler returns nil and it is acked.
type Message struct {
	// ID is the broker-assigned entry id, used for acknowledgment.
	ID        string
	Topic     string
	Partition int
	EventType string
	// Key is the aggregate partition key; all messages with the same key land
	// on the same partition, preserving per-aggregate order.
	Key     string
	Payload []byte
}

// Handler processes one message. Returning nil acknowledges the message;
// returning an error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg *Message) error

// Broker defines the interface for message brokers
type Broker interface {
	// Publish sends one message, partitioned by key. The send is synchronous
	// with a bounded wait taken from ctx.
	Publish(ctx context.Context, topic, key, eventType string, payload []byte) error
	// Subscribe starts one sequential worker per partition of the topic for
	// the given consumer group and returns. Workers stop when ctx is done.
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
	Close() error
}
