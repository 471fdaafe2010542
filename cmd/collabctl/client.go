package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/collab/internal/collab"
	"github.com/danmuck/collab/internal/document"
	"github.com/danmuck/collab/internal/journal"
	"github.com/danmuck/collab/internal/transport"
	"github.com/rs/zerolog/log"
)

// client ties one document session to its local journal.
type client struct {
	cfg     clientConfig
	text    *document.Text
	session *collab.Session
	journal *journal.Journal
	saves   chan struct{}
}

func newClient(cfg clientConfig) (*client, error) {
	dialer, err := cfg.dialer()
	if err != nil {
		return nil, err
	}
	return newClientWithDialer(cfg, dialer)
}

func newClientWithDialer(cfg clientConfig, dialer transport.Dialer) (*client, error) {
	var (
		j   *journal.Journal
		err error
	)
	snap := journal.Snapshot{}
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath, journal.DefaultOptions())
		if err != nil {
			return nil, err
		}
		snap, err = j.Load(cfg.DocumentID)
		switch {
		case errors.Is(err, journal.ErrNotFound):
			snap = journal.Snapshot{}
		case err != nil:
			_ = j.Close()
			return nil, err
		default:
			log.Info().Msgf("collabctl.client resume doc=%q version=%d pending=%d",
				cfg.DocumentID, snap.Version, len(snap.Pending))
		}
	}

	c := &client{
		cfg:     cfg,
		text:    document.NewText(snap.Text),
		journal: j,
		saves:   make(chan struct{}, 1),
	}

	sessCfg := cfg.Session
	sessCfg.DocumentID = cfg.DocumentID
	sessCfg.SessionID = snap.SessionID
	if snap.Version > 0 {
		sessCfg.InitialVersion = snap.Version
	}
	sessCfg.InitialPending = snap.Pending
	sessCfg.OnStateChange = func(from, to collab.State) {
		log.Debug().Msgf("collabctl.client state %s -> %s", from, to)
		if to == collab.StateSynchronized || to == collab.StateDisconnected {
			c.requestSave()
		}
	}
	sessCfg.OnError = func(err error) {
		log.Warn().Err(err).Msg("collabctl.client session error")
	}

	c.session, err = collab.NewSession(c.text, dialer, sessCfg)
	if err != nil {
		if j != nil {
			_ = j.Close()
		}
		return nil, err
	}
	return c, nil
}

// Run drives the session until ctx ends or the session stops, then
// saves a final snapshot.
func (c *client) Run(ctx context.Context) error {
	saverCtx, stopSaver := context.WithCancel(ctx)
	saverDone := make(chan struct{})
	go func() {
		defer close(saverDone)
		c.saveLoop(saverCtx)
	}()

	runErr := c.session.Run(ctx)
	stopSaver()
	<-saverDone

	if err := c.save(context.Background()); err != nil {
		log.Error().Err(err).Msg("collabctl.client final save failed")
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("collabctl.client journal close failed")
		}
	}
	return runErr
}

func (c *client) requestSave() {
	select {
	case c.saves <- struct{}{}:
	default:
	}
}

func (c *client) saveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.saves:
			if err := c.save(ctx); err != nil {
				log.Warn().Err(err).Msg("collabctl.client save failed")
			}
		}
	}
}

// save journals the text together with every change the server has not
// confirmed, in flight ones included, all read at the same instant.
func (c *client) save(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}
	var text string
	cp, err := c.session.Checkpoint(ctx, func() { text = c.text.String() })
	if err != nil {
		return fmt.Errorf("collabctl: checkpoint: %w", err)
	}
	return c.journal.Save(c.cfg.DocumentID, journal.Snapshot{
		SessionID: cp.SessionID,
		Version:   cp.Version,
		Pending:   cp.Unacknowledged,
		Text:      text,
		SavedAt:   time.Now().UTC(),
	})
}

// waitStarted blocks until Run has subscribed to the document, so edits
// made afterwards are tracked.
func (c *client) waitStarted(ctx context.Context) error {
	return c.waitUntil(ctx, "start", func() bool {
		return c.session.State() != collab.StateIdle
	})
}

// waitSynced blocks until the session is synchronized with nothing
// outstanding, or ctx ends.
func (c *client) waitSynced(ctx context.Context) error {
	return c.waitUntil(ctx, "sync", func() bool {
		return c.session.State() == collab.StateSynchronized && c.session.Outstanding() == 0
	})
}

func (c *client) waitUntil(ctx context.Context, what string, cond func() bool) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("collabctl: %s: %w", what, ctx.Err())
		case <-c.session.Done():
			return fmt.Errorf("collabctl: %s: session stopped", what)
		case <-ticker.C:
		}
	}
}
