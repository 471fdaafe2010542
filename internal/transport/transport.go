package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed          = errors.New("transport: connection closed")
	ErrNotConnected    = errors.New("transport: not connected")
	ErrStaleConnection = errors.New("transport: stale connection")
	ErrDial            = errors.New("transport: dial failed")
)

// Conn is one ordered, framed, bidirectional link.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until the next frame arrives. It returns io.EOF on an
	// orderly close and unblocks with an error once Close is called.
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens new connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventMessage
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one adapter notification. Epoch identifies the connection attempt
// that produced it.
type Event struct {
	Kind  EventKind
	Epoch uint64
	Frame []byte
	Err   error
}
