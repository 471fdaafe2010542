package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation is the root of every message-shape failure.
var ErrProtocolViolation = errors.New("protocol: violation")

var (
	ErrMalformedMessage = fmt.Errorf("%w: malformed message", ErrProtocolViolation)
	ErrUnknownMethod    = fmt.Errorf("%w: unknown method", ErrProtocolViolation)
	ErrArityMismatch    = fmt.Errorf("%w: arity mismatch", ErrProtocolViolation)
)
