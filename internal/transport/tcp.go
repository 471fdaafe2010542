package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/collab/internal/protocol/frame"
)

// TCPDialer dials a framed stream endpoint, optionally over TLS.
type TCPDialer struct {
	Address          string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Security         SecurityConfig
	Limits           frame.Limits
}

func (d TCPDialer) Dial(ctx context.Context) (Conn, error) {
	if err := d.Security.ValidateClient(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}
	if !d.Security.TLS.Enabled {
		return NewStreamConn(rawConn, d.limits(), d.WriteTimeout), nil
	}

	tlsCfg, err := d.Security.ClientTLSConfig(d.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx := ctx
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return NewStreamConn(conn, d.limits(), d.WriteTimeout), nil
}

func (d TCPDialer) limits() frame.Limits {
	if d.Limits.MaxPayloadBytes == 0 {
		return frame.DefaultLimits()
	}
	return d.Limits
}

// StreamConn carries tuples over a byte stream using frame headers.
type StreamConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	limits       frame.Limits
	writeTimeout time.Duration

	nextMessageID atomic.Uint64
	writeMu       sync.Mutex
}

func NewStreamConn(conn net.Conn, limits frame.Limits, writeTimeout time.Duration) *StreamConn {
	return &StreamConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		limits:       limits,
		writeTimeout: writeTimeout,
	}
}

func (c *StreamConn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(writeDeadline(ctx, c.writeTimeout)); err != nil {
		return err
	}
	return frame.WriteFrame(c.conn, frame.Frame{
		Header:  frame.Header{MessageID: c.nextMessageID.Add(1)},
		Payload: payload,
	}, c.limits)
}

func (c *StreamConn) Receive() ([]byte, error) {
	fr, err := frame.ReadFrame(c.reader, c.limits)
	if err != nil {
		return nil, err
	}
	return fr.Payload, nil
}

func (c *StreamConn) Close() error {
	return c.conn.Close()
}
