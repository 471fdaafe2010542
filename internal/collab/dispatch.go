package collab

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/collab/internal/observability"
	"github.com/danmuck/collab/internal/protocol"
	"github.com/danmuck/collab/internal/transport"
	"github.com/rs/zerolog/log"
)

func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

func (s *Session) dispatch(ev any) {
	switch ev := ev.(type) {
	case transport.Event:
		s.handleTransport(ev)
	case editSignal:
		if s.cfg.CommitPolicy == CommitImmediate {
			s.flush()
		}
	case flushCmd:
		s.flush()
	case reconnectCmd:
		if s.state == StateDisconnected && s.reconnectTimer != nil {
			s.stopReconnectTimer()
			s.connect()
		}
	case checkpointCmd:
		ev.reply <- s.checkpoint(ev.capture)
	case closeCmd:
		log.Info().Msgf("collab.Session close doc=%q version=%d", s.cfg.DocumentID, s.version.Current())
		s.closed = true
		s.requeueInflight()
		s.stopReconnectTimer()
		s.adapter.Disconnect()
		s.setState(StateDisconnected)
	}
}

func (s *Session) handleTransport(ev transport.Event) {
	if ev.Epoch != s.epoch || !s.adapter.Current(ev.Epoch) {
		log.Debug().Msgf("collab.Session drop stale event kind=%d epoch=%d current=%d", ev.Kind, ev.Epoch, s.epoch)
		return
	}
	switch ev.Kind {
	case transport.EventOpen:
		s.onOpen()
	case transport.EventMessage:
		s.onFrame(ev.Frame)
	case transport.EventClose:
		s.onClose(ev.Err)
	}
}

func (s *Session) onOpen() {
	s.retry.Reset()
	s.setState(StateAwaitingOpenAck)
	open := protocol.Open{DocumentID: s.cfg.DocumentID, Version: s.version.Current()}
	if err := s.send(open); err != nil {
		s.dropConnection(err)
	}
}

func (s *Session) onClose(err error) {
	if err == nil {
		err = transport.ErrClosed
	}
	s.report(wrapf(ErrConnection, "%v", err))
	s.requeueInflight()
	s.setState(StateDisconnected)
	s.scheduleReconnect()
}

func (s *Session) violation(kind string, err error) {
	observability.RecordProtocolViolation(kind)
	if !errors.Is(err, ErrProtocolViolation) {
		err = fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	s.report(err)
}

func (s *Session) onFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		kind := "malformed"
		switch {
		case errors.Is(err, protocol.ErrUnknownMethod):
			kind = "unknown_method"
		case errors.Is(err, protocol.ErrArityMismatch):
			kind = "arity"
		}
		s.violation(kind, err)
		return
	}
	observability.RecordSessionMessage("in", string(msg.Method()))
	switch m := msg.(type) {
	case protocol.OpenCompleted:
		s.onOpenCompleted(m)
	case protocol.CommitCompleted:
		s.onCommitCompleted(m)
	case protocol.Update:
		s.onUpdate(m)
	case protocol.Error:
		s.report(wrapf(ErrRemote, "%s", m))
	default:
		s.violation("unexpected_method", wrapf(ErrProtocolViolation, "no client handler for %q", msg.Method()))
	}
}

func (s *Session) onOpenCompleted(m protocol.OpenCompleted) {
	if s.state != StateAwaitingOpenAck && s.state != StateReconciling {
		s.violation("unexpected_method", wrapf(ErrProtocolViolation, "openCompleted in state %s", s.state))
		return
	}
	local := s.version.Current()
	if m.ServerVersion == local {
		if len(m.Missed) > 0 {
			s.violation("missed_at_head", wrapf(ErrProtocolViolation,
				"openCompleted at version %d carried %d changes", local, len(m.Missed)))
		}
		if len(s.settled) > 0 {
			// The server claims nothing past our version, so commit them again.
			s.pending.Requeue(s.settled)
			s.settled = nil
			s.syncOutstanding()
		}
		s.synchronized()
		return
	}
	s.setState(StateReconciling)
	if err := s.reconcile(m); err != nil {
		s.fail(err)
		return
	}
	s.synchronized()
}

// reconcile applies missed changes in order as one unit. Changes this
// session produced itself are recognised by id and settled instead of applied.
// Local edits are held for the duration so a rollback cannot erase them.
func (s *Session) reconcile(m protocol.OpenCompleted) error {
	local := s.version.Current()
	if m.ServerVersion < local {
		return wrapf(ErrInvalidVersionTransition, "server version %d behind local %d", m.ServerVersion, local)
	}

	var err error
	seen := make(map[string]struct{})
	s.holdEdits(func() {
		err = s.applyMissed(m, seen)
	})
	if err != nil {
		return err
	}

	if len(s.inflight) > 0 {
		acked := true
		for _, c := range s.inflight {
			if _, ok := seen[c.ID]; !ok {
				acked = false
				break
			}
		}
		if acked {
			s.setInflight(nil)
		}
	}
	s.pending.Settle(seen)
	s.settled = nil
	s.syncOutstanding()
	log.Info().Msgf("collab.Session reconciled doc=%q version=%d missed=%d own=%d",
		s.cfg.DocumentID, m.ServerVersion, len(m.Missed), len(seen))
	return nil
}

// applyMissed runs with local edits held. On failure the document is
// restored and the version is left alone.
func (s *Session) applyMissed(m protocol.OpenCompleted, seen map[string]struct{}) error {
	own := make(map[string]struct{})
	for _, c := range s.unacknowledged(true) {
		if c.ID != "" {
			own[c.ID] = struct{}{}
		}
	}

	snap, canRestore := s.doc.(Snapshotter)
	var before any
	if canRestore {
		before = snap.Snapshot()
	}
	for i, c := range m.Missed {
		if _, ok := own[c.ID]; ok {
			seen[c.ID] = struct{}{}
			continue
		}
		if err := s.doc.ApplyChange(c); err != nil {
			if canRestore {
				snap.Restore(before)
			}
			return wrapf(ErrReconciliationFailure, "missed change %d/%d id=%q: %v", i+1, len(m.Missed), c.ID, err)
		}
	}
	if err := s.version.AdvanceTo(m.ServerVersion); err != nil {
		if canRestore {
			snap.Restore(before)
		}
		return err
	}
	return nil
}

func (s *Session) synchronized() {
	s.setState(StateSynchronized)
	if s.cfg.CommitPolicy == CommitImmediate {
		s.flush()
	}
}

func (s *Session) onCommitCompleted(m protocol.CommitCompleted) {
	if len(s.inflight) == 0 {
		s.violation("unexpected_ack", wrapf(ErrProtocolViolation, "commitCompleted(%d) with no commit in flight", m.NewVersion))
		return
	}
	switch s.state {
	case StateSynchronized:
		local := s.version.Current()
		if expected := local + int64(len(s.inflight)); m.NewVersion > expected {
			// Someone else's changes landed below ours and we have not seen
			// them. Keep our changes as settled and let the open reply
			// carry the gap.
			s.settled = append(s.settled, s.inflight...)
			s.setInflight(nil)
			s.report(wrapf(ErrVersionConflict, "commit acknowledged at %d, expected %d", m.NewVersion, expected))
			s.resync()
			return
		}
		if err := s.version.AdvanceTo(m.NewVersion); err != nil {
			s.fail(err)
			return
		}
		observability.RecordCommitRoundTrip(time.Since(s.inflightSentAt))
		log.Debug().Msgf("collab.Session commit acked doc=%q changes=%d version=%d",
			s.cfg.DocumentID, len(s.inflight), m.NewVersion)
		s.setInflight(nil)
		if s.cfg.CommitPolicy == CommitImmediate {
			s.flush()
		}
	case StateReconciling:
		// The pending open reply will carry these changes; version moves then.
		s.settled = append(s.settled, s.inflight...)
		s.setInflight(nil)
	default:
		s.violation("unexpected_ack", wrapf(ErrProtocolViolation, "commitCompleted in state %s", s.state))
	}
}

func (s *Session) onUpdate(m protocol.Update) {
	if s.state != StateSynchronized {
		log.Debug().Msgf("collab.Session drop update doc=%q version=%d state=%s", s.cfg.DocumentID, m.NewVersion, s.state)
		return
	}
	local := s.version.Current()
	switch {
	case m.NewVersion == local+1:
		if err := s.doc.ApplyChange(m.Change); err != nil {
			s.report(fmt.Errorf("collab: apply update version=%d id=%q: %w", m.NewVersion, m.Change.ID, err))
			s.resync()
			return
		}
		if err := s.version.AdvanceTo(m.NewVersion); err != nil {
			s.fail(err)
		}
	case m.NewVersion > local+1:
		s.report(wrapf(ErrVersionConflict, "update version %d after local %d", m.NewVersion, local))
		s.resync()
	default:
		log.Debug().Msgf("collab.Session drop stale update doc=%q version=%d local=%d", s.cfg.DocumentID, m.NewVersion, local)
	}
}

// resync re-opens the document at the local version on the live connection.
func (s *Session) resync() {
	s.setState(StateReconciling)
	open := protocol.Open{DocumentID: s.cfg.DocumentID, Version: s.version.Current()}
	if err := s.send(open); err != nil {
		s.dropConnection(err)
	}
}

// flush hands every pending change to one commit. At most one commit is in
// flight.
func (s *Session) flush() {
	if s.state != StateSynchronized || len(s.inflight) > 0 {
		return
	}
	// Count the batch as in flight before it leaves the buffer so
	// Outstanding never reads zero in between.
	s.inflightMirror.Store(int64(s.pending.Len()))
	changes := s.pending.DrainAll()
	s.setInflight(changes)
	if len(changes) == 0 {
		return
	}
	s.inflightSentAt = time.Now()
	commit := protocol.Commit{Changes: changes, BaseVersion: s.version.Current()}
	if err := s.send(commit); err != nil {
		s.dropConnection(err)
	}
}
