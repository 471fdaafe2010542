package collab

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/danmuck/collab/internal/observability"
	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/transport"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Session keeps one document in sync with a server over one transport.
//
// Fields below the loop marker are owned by the goroutine running Run.
type Session struct {
	cfg     Config
	doc     Document
	version *VersionState
	pending *PendingBuffer
	adapter *transport.Adapter
	box     *mailbox

	stateMirror    atomic.Int32
	inflightMirror atomic.Int64
	running        atomic.Bool
	done           chan struct{}

	// loop
	ctx            context.Context
	state          State
	epoch          uint64
	inflight       []protocol.Change
	inflightSentAt time.Time
	settled        []protocol.Change
	attempts       *Backoff
	retry          backoff.BackOff
	reconnectTimer *time.Timer
	fatal          error
	closed         bool
}

func NewSession(doc Document, dialer transport.Dialer, cfg Config) (*Session, error) {
	if doc == nil {
		return nil, ErrDocumentRequired
	}
	if dialer == nil {
		return nil, ErrDialerRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		doc:     doc,
		version: NewVersionState(cfg.SessionID, cfg.InitialVersion),
		pending: NewPendingBuffer(cfg.InitialPending...),
		box:     newMailbox(),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	s.attempts, s.retry = newRetryPolicy(cfg.Backoff, cfg.MaxReconnectAttempts, rand.New(rand.NewSource(time.Now().UnixNano())))
	s.adapter = transport.NewAdapter(dialer, func(ev transport.Event) { s.box.post(ev) })
	return s, nil
}

// Run connects and processes events until ctx is done, Close is called, or
// the session fails. It returns the error that ended the session, or nil.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	s.ctx = ctx
	unsubscribe := s.doc.Subscribe(s.onDocumentChange)
	defer func() {
		unsubscribe()
		s.stopReconnectTimer()
		s.requeueInflight()
		s.adapter.Close()
		s.setState(StateDisconnected)
	}()

	var tick <-chan time.Time
	if s.cfg.CommitPolicy == CommitBatched {
		ticker := time.NewTicker(s.cfg.BatchInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Info().Msgf("collab.Session start doc=%q session=%s version=%d pending=%d",
		s.cfg.DocumentID, s.version.SessionID(), s.version.Current(), s.pending.Len())
	s.connect()
	for {
		if s.fatal != nil {
			return s.fatal
		}
		if s.closed {
			return nil
		}
		var reconnectC <-chan time.Time
		if s.reconnectTimer != nil {
			reconnectC = s.reconnectTimer.C
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.box.signal:
			for _, ev := range s.box.take() {
				if s.fatal != nil || s.closed {
					break
				}
				s.dispatch(ev)
			}
		case <-tick:
			s.flush()
		case <-reconnectC:
			s.reconnectTimer = nil
			s.connect()
		}
	}
}

// Close tears the session down. Run returns nil once it observes the request.
func (s *Session) Close() error {
	s.box.post(closeCmd{})
	return nil
}

// Flush commits pending changes now if nothing is in flight.
func (s *Session) Flush() {
	s.box.post(flushCmd{})
}

// Reconnect skips the remaining backoff delay while disconnected.
func (s *Session) Reconnect() {
	s.box.post(reconnectCmd{})
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	return State(s.stateMirror.Load())
}

func (s *Session) Version() int64 {
	return s.version.Current()
}

func (s *Session) SessionID() string {
	return s.version.SessionID()
}

func (s *Session) DocumentID() string {
	return s.cfg.DocumentID
}

// Pending returns queued changes not yet handed to a commit. After Run
// returns it also includes any commit that was never acknowledged.
func (s *Session) Pending() []protocol.Change {
	return s.pending.PeekAll()
}

// Checkpoint is a consistent view of what a restarted session needs.
type Checkpoint struct {
	SessionID string
	Version   int64
	// Unacknowledged holds every local change the server has not confirmed
	// with a version, in production order: settled, in flight, then queued.
	Unacknowledged []protocol.Change
}

// Checkpoint returns the session state between two events. capture, when
// set, runs at the same point with local edits held, so a document read
// inside it matches Version and Unacknowledged. Before Run starts it waits
// for Run or ctx; after Run returns it reads the final state directly.
func (s *Session) Checkpoint(ctx context.Context, capture func()) (Checkpoint, error) {
	select {
	case <-s.done:
		return s.checkpoint(capture), nil
	default:
	}
	reply := make(chan Checkpoint, 1)
	s.box.post(checkpointCmd{capture: capture, reply: reply})
	select {
	case cp := <-reply:
		return cp, nil
	case <-s.done:
		return s.checkpoint(capture), nil
	case <-ctx.Done():
		return Checkpoint{}, ctx.Err()
	}
}

// Outstanding counts local changes not yet covered by a server version:
// queued, in flight, or acknowledged while a resync is still open.
func (s *Session) Outstanding() int {
	return s.pending.Len() + int(s.inflightMirror.Load())
}

// onDocumentChange runs on the editor's goroutine.
func (s *Session) onDocumentChange(ev ChangeEvent) {
	c := ev.Change
	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	if c.BaseVersion == 0 {
		c.BaseVersion = s.version.Current()
	}
	s.pending.Enqueue(c)
	s.box.post(editSignal{})
}

func (s *Session) connect() {
	s.setState(StateConnecting)
	s.epoch = s.adapter.Connect(s.ctx)
	log.Debug().Msgf("collab.Session connect doc=%q epoch=%d", s.cfg.DocumentID, s.epoch)
}

func (s *Session) scheduleReconnect() {
	delay := s.retry.NextBackOff()
	if delay == backoff.Stop {
		s.fail(wrapf(ErrConnection, "reconnect attempts exhausted after %d", s.cfg.MaxReconnectAttempts))
		return
	}
	observability.RecordReconnect()
	log.Warn().Msgf("collab.Session reconnect doc=%q attempt=%d delay=%s", s.cfg.DocumentID, s.attempts.Attempt(), delay)
	s.stopReconnectTimer()
	s.reconnectTimer = time.NewTimer(delay)
}

func (s *Session) stopReconnectTimer() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.stateMirror.Store(int32(to))
	observability.RecordStateTransition(to.String())
	log.Debug().Msgf("collab.Session state doc=%q %s -> %s", s.cfg.DocumentID, from, to)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(from, to)
	}
}

func (s *Session) report(err error) {
	log.Warn().Err(err).Msgf("collab.Session doc=%q", s.cfg.DocumentID)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

// fail ends the session instance. Pending changes stay in the buffer.
func (s *Session) fail(err error) {
	log.Error().Err(err).Msgf("collab.Session fatal doc=%q version=%d", s.cfg.DocumentID, s.version.Current())
	s.fatal = err
	s.requeueInflight()
	s.stopReconnectTimer()
	s.adapter.Disconnect()
	s.setState(StateDisconnected)
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

func (s *Session) setInflight(changes []protocol.Change) {
	s.inflight = changes
	s.syncOutstanding()
}

func (s *Session) syncOutstanding() {
	s.inflightMirror.Store(int64(len(s.inflight) + len(s.settled)))
}

// requeueInflight puts every unacknowledged change back at the front of the
// buffer. Settled changes go too: the server has them, but the version that
// covers them has not arrived, so the next open must be able to skip them.
func (s *Session) requeueInflight() {
	back := s.unacknowledged(false)
	if len(back) > 0 {
		s.pending.Requeue(back)
	}
	s.settled = nil
	s.setInflight(nil)
}

// unacknowledged lists settled, in-flight and optionally queued changes in
// production order.
func (s *Session) unacknowledged(withQueued bool) []protocol.Change {
	out := make([]protocol.Change, 0, len(s.settled)+len(s.inflight))
	out = append(out, s.settled...)
	out = append(out, s.inflight...)
	if withQueued {
		out = append(out, s.pending.PeekAll()...)
	}
	return out
}

// holdEdits runs fn with local edits held when the document supports it.
func (s *Session) holdEdits(fn func()) {
	if gate, ok := s.doc.(EditGate); ok {
		gate.HoldEdits(fn)
		return
	}
	fn()
}

func (s *Session) checkpoint(capture func()) Checkpoint {
	var cp Checkpoint
	s.holdEdits(func() {
		if capture != nil {
			capture()
		}
		cp = Checkpoint{
			SessionID:      s.version.SessionID(),
			Version:        s.version.Current(),
			Unacknowledged: s.unacknowledged(true),
		}
	})
	return cp
}

func (s *Session) send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.adapter.Send(ctx, s.epoch, frame); err != nil {
		return err
	}
	observability.RecordSessionMessage("out", string(msg.Method()))
	return nil
}

// dropConnection abandons the current connection after a local send failure.
func (s *Session) dropConnection(err error) {
	s.adapter.Disconnect()
	s.onClose(err)
}
