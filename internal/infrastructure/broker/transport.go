package broker

import (
	"context"
	"time"
)

// Message is a broker-agnostic record handed to a Transport.
type Message struct {
	Key   []byte
	Value []byte
	Type  string
	Time  time.Time
}

// Transport is the wire-level side of the publisher. Implementations must
// allow Connect to be called again after Close or after a lost connection.
type Transport interface {
	Connect(ctx context.Context) error
	// EnsureTopic creates topic when it does not exist yet.
	EnsureTopic(ctx context.Context, topic string) error
	Send(ctx context.Context, topic string, msg Message) error
	// Disconnected yields once the connection established by the last Connect
	// is lost. Transports without such a signal return nil.
	Disconnected() <-chan error
	Close() error
}
