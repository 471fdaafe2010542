package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
)

const pipeBuffer = 64

// Pipe is an in-memory Dialer. Every successful Dial hands the server half of
// the new link to Accepted.
type Pipe struct {
	accepted chan *PipeServer

	mu        sync.Mutex
	failDials int
}

func NewPipe() *Pipe {
	return &Pipe{accepted: make(chan *PipeServer, pipeBuffer)}
}

// Accepted yields the server half of each dialed link.
func (p *Pipe) Accepted() <-chan *PipeServer {
	return p.accepted
}

// FailDials makes the next n Dial calls fail.
func (p *Pipe) FailDials(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDials = n
}

func (p *Pipe) Dial(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if p.failDials > 0 {
		p.failDials--
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pipe refused", ErrDial)
	}
	p.mu.Unlock()

	link := &pipeLink{
		toServer: make(chan []byte, pipeBuffer),
		toClient: make(chan []byte, pipeBuffer),
		closed:   make(chan struct{}),
	}
	srv := &PipeServer{link: link}
	select {
	case p.accepted <- srv:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeClient{link: link}, nil
}

type pipeLink struct {
	toServer chan []byte
	toClient chan []byte
	closed   chan struct{}
	once     sync.Once
}

func (l *pipeLink) close() {
	l.once.Do(func() { close(l.closed) })
}

func (l *pipeLink) send(ctx context.Context, ch chan []byte, frame []byte) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	buf := append([]byte(nil), frame...)
	select {
	case ch <- buf:
		return nil
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *pipeLink) receive(ch chan []byte) ([]byte, error) {
	select {
	case f := <-ch:
		return f, nil
	case <-l.closed:
		select {
		case f := <-ch:
			return f, nil
		default:
			return nil, io.EOF
		}
	}
}

type pipeClient struct {
	link *pipeLink
}

func (c *pipeClient) Send(ctx context.Context, frame []byte) error {
	return c.link.send(ctx, c.link.toServer, frame)
}

func (c *pipeClient) Receive() ([]byte, error) {
	return c.link.receive(c.link.toClient)
}

func (c *pipeClient) Close() error {
	c.link.close()
	return nil
}

// PipeServer is the hub-side half of a Pipe link.
type PipeServer struct {
	link *pipeLink
}

// Push delivers frame to the client.
func (s *PipeServer) Push(frame []byte) error {
	return s.link.send(context.Background(), s.link.toClient, frame)
}

// Inbound yields frames the client sent.
func (s *PipeServer) Inbound() <-chan []byte {
	return s.link.toServer
}

// Done is closed once either side closes the link.
func (s *PipeServer) Done() <-chan struct{} {
	return s.link.closed
}

func (s *PipeServer) Close() error {
	s.link.close()
	return nil
}
