package transports

import "context"

// Transport owns the network boundary between clients and the relay.
// Implementations are responsible for their own listener lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ClientWriter is the transport-side handle a session uses to push
// messages back to one connected client.
type ClientWriter interface {
	Send(v any) error
	Close() error
}

// Handler consumes the message stream of a single client connection.
// The transport calls HandleMessage from one goroutine per connection,
// preserving arrival order.
type Handler interface {
	ID() string
	Start()
	HandleMessage(data []byte)
	Close()
}

// Acceptor hands out a Handler for each accepted connection and takes
// it back when the connection ends.
type Acceptor interface {
	Accept(client ClientWriter) (Handler, error)
	Release(id string)
}

// ReadyReporter allows transports to expose readiness metadata for
// informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
