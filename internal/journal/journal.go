// Package journal persists what a client must not lose between runs: the
// session identity, the last applied version and unacknowledged changes.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/danmuck/collab/internal/protocol"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var (
	ErrNotFound         = errors.New("journal: document not found")
	ErrDocumentRequired = errors.New("journal: document id required")
)

var bucketSnapshots = []byte("snapshots")

// Snapshot is the persisted state of one document session.
type Snapshot struct {
	SessionID string            `json:"sessionId"`
	Version   int64             `json:"version"`
	Pending   []protocol.Change `json:"pending,omitempty"`
	Text      string            `json:"text,omitempty"`
	SavedAt   time.Time         `json:"savedAt"`
}

type Options struct {
	// LockTimeout bounds one attempt to take the file lock.
	LockTimeout time.Duration
	// OpenAttempts bounds retries while another process holds the lock.
	OpenAttempts int
}

func DefaultOptions() Options {
	return Options{
		LockTimeout:  500 * time.Millisecond,
		OpenAttempts: 5,
	}
}

type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal at path, retrying while the file is
// locked by another process.
func Open(path string, opts Options) (*Journal, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultOptions().LockTimeout
	}
	if opts.OpenAttempts <= 0 {
		opts.OpenAttempts = DefaultOptions().OpenAttempts
	}

	var db *bolt.DB
	operation := func() error {
		var err error
		db, err = bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.LockTimeout})
		if err != nil && !errors.Is(err, bolt.ErrTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(opts.OpenAttempts-1))
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Msgf("journal.Open locked path=%q retry_in=%s", path, wait)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Save(docID string, snap Snapshot) error {
	if docID == "" {
		return ErrDocumentRequired
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("journal: encode %q: %w", docID, err)
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(docID), payload)
	})
}

func (j *Journal) Load(docID string) (Snapshot, error) {
	if docID == "" {
		return Snapshot{}, ErrDocumentRequired
	}
	var snap Snapshot
	err := j.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSnapshots).Get([]byte(docID))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("journal: decode %q: %w", docID, err)
		}
		return nil
	})
	return snap, err
}

func (j *Journal) Delete(docID string) error {
	if docID == "" {
		return ErrDocumentRequired
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(docID))
	})
}

// Documents lists every journaled document id.
func (j *Journal) Documents() ([]string, error) {
	var out []string
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (j *Journal) Close() error {
	return j.db.Close()
}
