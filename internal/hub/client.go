package hub

import (
	"context"
	"sync"

	"github.com/danmuck/collab/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// client is one hub connection. doc is read and written only by the
// connection's Serve goroutine and under the room lock.
type client struct {
	id   string
	conn transport.Conn
	hint string
	doc  string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn transport.Conn, hint string, queue int) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		hint: hint,
		out:  make(chan []byte, queue),
		done: make(chan struct{}),
	}
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (c *client) enqueue(payload []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- payload:
	default:
		log.Warn().Msgf("hub.client drop slow client=%s queue=%d", c.id, cap(c.out))
		c.close()
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.close()
			return
		case payload := <-c.out:
			if err := c.conn.Send(ctx, payload); err != nil {
				log.Debug().Err(err).Msgf("hub.client send client=%s", c.id)
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
