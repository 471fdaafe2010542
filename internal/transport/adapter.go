package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Adapter owns at most one live connection and reports its lifecycle to sink.
// sink must not block.
type Adapter struct {
	dialer Dialer
	sink   func(Event)

	mu     sync.Mutex
	epoch  uint64
	state  LinkState
	conn   Conn
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func NewAdapter(dialer Dialer, sink func(Event)) *Adapter {
	return &Adapter{
		dialer: dialer,
		sink:   sink,
	}
}

// Connect tears down any current connection and starts a new attempt in the
// background. It returns the epoch of the new attempt.
func (a *Adapter) Connect(ctx context.Context) uint64 {
	a.mu.Lock()
	a.teardownLocked()
	a.epoch++
	epoch := a.epoch
	a.state = LinkConnecting
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(runCtx, epoch)
	return epoch
}

// Send writes frame on the connection identified by epoch.
func (a *Adapter) Send(ctx context.Context, epoch uint64, frame []byte) error {
	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		return ErrStaleConnection
	}
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, frame)
}

// Disconnect closes the current connection without emitting a Close event.
// Anything the old connection still produces is discarded.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.teardownLocked()
	a.epoch++
	a.mu.Unlock()
}

// Close disconnects and waits for background goroutines to exit.
func (a *Adapter) Close() {
	a.Disconnect()
	a.wg.Wait()
}

func (a *Adapter) Epoch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

func (a *Adapter) State() LinkState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Current reports whether epoch still identifies the live attempt.
func (a *Adapter) Current(epoch uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return epoch == a.epoch
}

func (a *Adapter) teardownLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.state = LinkDisconnected
}

func (a *Adapter) run(ctx context.Context, epoch uint64) {
	defer a.wg.Done()

	conn, err := a.dialer.Dial(ctx)
	if err != nil {
		a.finish(epoch, nil, err)
		return
	}

	a.mu.Lock()
	if epoch != a.epoch {
		a.mu.Unlock()
		_ = conn.Close()
		return
	}
	a.conn = conn
	a.state = LinkConnected
	a.mu.Unlock()

	a.sink(Event{Kind: EventOpen, Epoch: epoch})
	for {
		frame, err := conn.Receive()
		if err != nil {
			a.finish(epoch, conn, err)
			return
		}
		if !a.Current(epoch) {
			log.Debug().Msgf("transport.Adapter drop stale frame epoch=%d", epoch)
			continue
		}
		a.sink(Event{Kind: EventMessage, Epoch: epoch, Frame: frame})
	}
}

func (a *Adapter) finish(epoch uint64, conn Conn, err error) {
	a.mu.Lock()
	current := epoch == a.epoch
	if current {
		a.conn = nil
		a.state = LinkDisconnected
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
	}
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !current {
		return
	}
	if errors.Is(err, io.EOF) {
		err = ErrClosed
	}
	a.sink(Event{Kind: EventClose, Epoch: epoch, Err: err})
}
