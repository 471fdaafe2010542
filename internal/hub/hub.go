package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/danmuck/collab/internal/observability"
	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/protocol/frame"
	"github.com/danmuck/collab/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrLogRequired = errors.New("hub: log required")

// Error codes sent in protocol error messages.
const (
	CodeMalformed        = "malformed"
	CodeUnknownMethod    = "unknown_method"
	CodeUnexpected       = "unexpected_method"
	CodeNotOpen          = "not_open"
	CodeDocumentMismatch = "document_mismatch"
	CodeLogUnavailable   = "log_unavailable"
)

type Config struct {
	ID        string
	SendQueue int
	OpTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendQueue: 256,
		OpTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	return c
}

// Hub serves documents from one Log to any number of connections.
type Hub struct {
	cfg    Config
	log    Log
	fanout Fanout

	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(l Log, fanout Fanout, cfg Config) (*Hub, error) {
	if l == nil {
		return nil, ErrLogRequired
	}
	return &Hub{
		cfg:    cfg.WithDefaults(),
		log:    l,
		fanout: fanout,
		rooms:  make(map[string]*room),
	}, nil
}

func (h *Hub) ID() string {
	return h.cfg.ID
}

// Run relays fan-out broadcasts from other hub processes until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.fanout == nil {
		<-ctx.Done()
		return nil
	}
	return h.fanout.Run(ctx, h.deliver)
}

// Head returns the current version of doc.
func (h *Hub) Head(ctx context.Context, doc string) (int64, error) {
	head, _, err := h.log.Since(ctx, doc, math.MaxInt64)
	return head, err
}

// Clients returns how many connections have opened doc.
func (h *Hub) Clients(doc string) int {
	h.mu.Lock()
	r, ok := h.rooms[doc]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (h *Hub) room(doc string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[doc]
	if !ok {
		r = &room{clients: make(map[*client]struct{})}
		h.rooms[doc] = r
	}
	return r
}

// Serve handles one connection until it closes. hint, when set, pins the
// connection to one document id.
func (h *Hub) Serve(ctx context.Context, conn transport.Conn, hint string) error {
	c := newClient(conn, hint, h.cfg.SendQueue)
	log.Debug().Msgf("hub.Hub serve client=%s hint=%q", c.id, hint)
	go c.writeLoop(ctx)
	defer func() {
		h.leave(c)
		c.close()
	}()
	for {
		payload, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			return err
		}
		h.handle(ctx, c, payload)
	}
}

// ServeListener serves framed stream connections accepted from ln.
func (h *Hub) ServeListener(ctx context.Context, ln net.Listener, limits frame.Limits, writeTimeout time.Duration) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("hub: accept: %w", err)
		}
		go func() {
			if err := h.Serve(ctx, transport.NewStreamConn(conn, limits, writeTimeout), ""); err != nil {
				log.Warn().Err(err).Msgf("hub.Hub stream connection remote=%s", conn.RemoteAddr())
			}
		}()
	}
}

func (h *Hub) handle(ctx context.Context, c *client, payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		code := CodeMalformed
		if errors.Is(err, protocol.ErrUnknownMethod) {
			code = CodeUnknownMethod
		}
		h.reply(c, protocol.Error{Code: code, Detail: err.Error()})
		return
	}
	observability.RecordSessionMessage("hub_in", string(msg.Method()))
	switch m := msg.(type) {
	case protocol.Open:
		h.open(ctx, c, m)
	case protocol.Commit:
		h.commit(ctx, c, m)
	default:
		h.reply(c, protocol.Error{Code: CodeUnexpected, Detail: fmt.Sprintf("hub does not accept %s", msg.Method())})
	}
}

func (h *Hub) open(ctx context.Context, c *client, m protocol.Open) {
	if m.DocumentID == "" {
		h.reply(c, protocol.Error{Code: CodeMalformed, Detail: ErrDocumentRequired.Error()})
		return
	}
	if c.hint != "" && m.DocumentID != c.hint {
		h.reply(c, protocol.Error{Code: CodeDocumentMismatch, Detail: fmt.Sprintf("connection is bound to %q", c.hint)})
		return
	}
	if c.doc != "" && c.doc != m.DocumentID {
		h.leave(c)
	}

	r := h.room(m.DocumentID)
	r.mu.Lock()
	defer r.mu.Unlock()
	opCtx, cancel := context.WithTimeout(ctx, h.cfg.OpTimeout)
	defer cancel()
	head, entries, err := h.log.Since(opCtx, m.DocumentID, m.Version)
	if err != nil {
		log.Error().Err(err).Msgf("hub.Hub open doc=%q", m.DocumentID)
		h.reply(c, protocol.Error{Code: CodeLogUnavailable, Detail: err.Error()})
		return
	}
	if _, joined := r.clients[c]; !joined {
		r.clients[c] = struct{}{}
		c.doc = m.DocumentID
		observability.SetHubClients(m.DocumentID, len(r.clients))
	}
	missed := make([]protocol.Change, 0, len(entries))
	for _, e := range entries {
		missed = append(missed, e.Change)
	}
	log.Debug().Msgf("hub.Hub open doc=%q client=%s version=%d head=%d missed=%d",
		m.DocumentID, c.id, m.Version, head, len(missed))
	h.reply(c, protocol.OpenCompleted{ServerVersion: head, Missed: missed})
}

func (h *Hub) commit(ctx context.Context, c *client, m protocol.Commit) {
	if c.doc == "" {
		h.reply(c, protocol.Error{Code: CodeNotOpen, Detail: "commit before open"})
		return
	}
	r := h.room(c.doc)
	r.mu.Lock()
	defer r.mu.Unlock()
	opCtx, cancel := context.WithTimeout(ctx, h.cfg.OpTimeout)
	defer cancel()
	head, appended, err := h.log.Append(opCtx, c.doc, m.Changes)
	if err != nil {
		log.Error().Err(err).Msgf("hub.Hub commit doc=%q", c.doc)
		h.reply(c, protocol.Error{Code: CodeLogUnavailable, Detail: err.Error()})
		return
	}
	for range appended {
		observability.RecordHubCommit(c.doc, false)
	}
	for i := len(appended); i < len(m.Changes); i++ {
		observability.RecordHubCommit(c.doc, true)
	}
	log.Debug().Msgf("hub.Hub commit doc=%q client=%s base=%d changes=%d appended=%d head=%d",
		c.doc, c.id, m.BaseVersion, len(m.Changes), len(appended), head)
	h.reply(c, protocol.CommitCompleted{NewVersion: head})
	h.broadcastLocked(r, c, appended)

	if h.fanout != nil && len(appended) > 0 {
		b := Broadcast{Origin: h.cfg.ID, Document: c.doc, Entries: appended}
		if err := h.fanout.Publish(opCtx, b); err != nil {
			log.Warn().Err(err).Msgf("hub.Hub fanout publish doc=%q", c.doc)
		}
	}
}

// deliver relays a broadcast from another hub process to local clients.
func (h *Hub) deliver(b Broadcast) {
	if b.Origin == h.cfg.ID || len(b.Entries) == 0 {
		return
	}
	h.mu.Lock()
	r, ok := h.rooms[b.Document]
	h.mu.Unlock()
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h.broadcastLocked(r, nil, b.Entries)
}

func (h *Hub) broadcastLocked(r *room, except *client, entries []Entry) {
	for other := range r.clients {
		if other == except {
			continue
		}
		for _, e := range entries {
			h.reply(other, protocol.Update{Change: e.Change, NewVersion: e.Version})
		}
	}
}

func (h *Hub) leave(c *client) {
	if c.doc == "" {
		return
	}
	r := h.room(c.doc)
	r.mu.Lock()
	delete(r.clients, c)
	n := len(r.clients)
	r.mu.Unlock()
	observability.SetHubClients(c.doc, n)
	c.doc = ""
}

func (h *Hub) reply(c *client, msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		log.Error().Err(err).Msgf("hub.Hub encode %s", msg.Method())
		return
	}
	observability.RecordSessionMessage("hub_out", string(msg.Method()))
	c.enqueue(payload)
}
