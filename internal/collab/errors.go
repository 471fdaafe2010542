package collab

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentRequired   = errors.New("collab: document required")
	ErrDocumentIDRequired = errors.New("collab: document id required")
	ErrDialerRequired     = errors.New("collab: dialer required")
	ErrAlreadyRunning     = errors.New("collab: session already running")
	ErrInvalidPolicy      = errors.New("collab: invalid commit policy")
)

// Error kinds. Connection, protocol, conflict and remote errors are reported
// and the session carries on. Reconciliation and monotonicity errors end Run.
var (
	ErrConnection            = errors.New("collab: connection error")
	ErrProtocolViolation     = errors.New("collab: protocol violation")
	ErrVersionConflict       = errors.New("collab: version conflict")
	ErrRemote                = errors.New("collab: remote error")
	ErrReconciliationFailure = errors.New("collab: reconciliation failure")
	ErrVersionMonotonicity   = errors.New("collab: version monotonicity violation")
)

var ErrInvalidVersionTransition = fmt.Errorf("%w: invalid version transition", ErrVersionMonotonicity)

// IsFatal reports whether err ends the session instance.
func IsFatal(err error) bool {
	return errors.Is(err, ErrReconciliationFailure) || errors.Is(err, ErrVersionMonotonicity)
}
