package collab

import (
	"fmt"
	"sync"
)

// VersionState is the session identity plus the version of the last change
// applied locally, whether produced here or received from the server.
type VersionState struct {
	mu        sync.RWMutex
	sessionID string
	version   int64
}

func NewVersionState(sessionID string, version int64) *VersionState {
	return &VersionState{sessionID: sessionID, version: version}
}

func (v *VersionState) Current() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

func (v *VersionState) SessionID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sessionID
}

// AdvanceTo moves the version forward. Moving to the current version is a no-op.
func (v *VersionState) AdvanceTo(n int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n < v.version {
		return fmt.Errorf("%w: current=%d requested=%d", ErrInvalidVersionTransition, v.version, n)
	}
	v.version = n
	return nil
}

// Reset replaces identity and version, as when a client resumes a journaled
// session under a fresh state.
func (v *VersionState) Reset(sessionID string, version int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessionID = sessionID
	v.version = version
}
