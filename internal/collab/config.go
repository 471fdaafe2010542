package collab

import (
	"fmt"
	"time"

	"github.com/danmuck/collab/internal/protocol"
	"github.com/google/uuid"
)

// CommitPolicy decides when pending changes are handed to a commit.
type CommitPolicy string

const (
	// CommitImmediate commits as soon as a change is queued and nothing is in flight.
	CommitImmediate CommitPolicy = "immediate"
	// CommitBatched commits on a fixed interval.
	CommitBatched CommitPolicy = "batched"
)

// BackoffConfig defines reconnect backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines a session. DocumentID is required.
type Config struct {
	DocumentID string
	SessionID  string
	// InitialVersion is the version the local document already reflects.
	InitialVersion int64
	InitialPending []protocol.Change

	CommitPolicy  CommitPolicy
	BatchInterval time.Duration
	SendTimeout   time.Duration

	Backoff BackoffConfig
	// MaxReconnectAttempts bounds consecutive failed reconnects. Zero retries forever.
	MaxReconnectAttempts int

	OnError       func(error)
	OnStateChange func(from State, to State)
}

func DefaultConfig() Config {
	return Config{
		InitialVersion: 1,
		CommitPolicy:   CommitImmediate,
		BatchInterval:  250 * time.Millisecond,
		SendTimeout:    5 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig and assigns a
// session id when none is set.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	if c.InitialVersion == 0 {
		c.InitialVersion = d.InitialVersion
	}
	if c.CommitPolicy == "" {
		c.CommitPolicy = d.CommitPolicy
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.DocumentID == "" {
		return ErrDocumentIDRequired
	}
	switch c.CommitPolicy {
	case CommitImmediate, CommitBatched:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, c.CommitPolicy)
	}
	if c.InitialVersion < 0 {
		return fmt.Errorf("%w: initial version %d", ErrInvalidVersionTransition, c.InitialVersion)
	}
	return nil
}
