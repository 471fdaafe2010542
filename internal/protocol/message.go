package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Method is one name from the fixed protocol vocabulary.
type Method string

const (
	MethodOpen            Method = "open"
	MethodOpenCompleted   Method = "openCompleted"
	MethodCommit          Method = "commit"
	MethodCommitCompleted Method = "commitCompleted"
	MethodUpdate          Method = "update"
	MethodError           Method = "error"
)

// arity is the positional argument count for each method.
var arity = map[Method]int{
	MethodOpen:            2,
	MethodOpenCompleted:   2,
	MethodCommit:          2,
	MethodCommitCompleted: 1,
	MethodUpdate:          2,
	MethodError:           2,
}

// Known reports whether m belongs to the vocabulary.
func (m Method) Known() bool {
	_, ok := arity[m]
	return ok
}

// Arity returns the positional argument count for m, or -1 if m is unknown.
func (m Method) Arity() int {
	n, ok := arity[m]
	if !ok {
		return -1
	}
	return n
}

// Change is an immutable delta against a document. Payload is opaque to the
// session and interpreted only by the document model.
type Change struct {
	ID          string          `json:"id,omitempty"`
	BaseVersion int64           `json:"baseVersion"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (c Change) Validate() error {
	if c.BaseVersion < 0 {
		return fmt.Errorf("%w: change %q negative base version %d", ErrMalformedMessage, c.ID, c.BaseVersion)
	}
	if len(c.Payload) > 0 && !json.Valid(c.Payload) {
		return fmt.Errorf("%w: change %q payload is not valid json", ErrMalformedMessage, c.ID)
	}
	return nil
}

// Message is the closed set of protocol operations. Only the types in this
// package implement it.
type Message interface {
	Method() Method
	args() []any
}

// Open is sent client->server to open a document session.
type Open struct {
	DocumentID string
	Version    int64
}

func (Open) Method() Method { return MethodOpen }
func (m Open) args() []any  { return []any{m.DocumentID, m.Version} }

// OpenCompleted answers Open with the server head and the changes the client missed.
type OpenCompleted struct {
	ServerVersion int64
	Missed        []Change
}

func (OpenCompleted) Method() Method { return MethodOpenCompleted }
func (m OpenCompleted) args() []any  { return []any{m.ServerVersion, nonNilChanges(m.Missed)} }

// Commit proposes local changes built on BaseVersion.
type Commit struct {
	Changes     []Change
	BaseVersion int64
}

func (Commit) Method() Method { return MethodCommit }
func (m Commit) args() []any  { return []any{nonNilChanges(m.Changes), m.BaseVersion} }

// CommitCompleted acknowledges a Commit.
type CommitCompleted struct {
	NewVersion int64
}

func (CommitCompleted) Method() Method { return MethodCommitCompleted }
func (m CommitCompleted) args() []any  { return []any{m.NewVersion} }

// Update broadcasts a change another client committed.
type Update struct {
	Change     Change
	NewVersion int64
}

func (Update) Method() Method { return MethodUpdate }
func (m Update) args() []any  { return []any{m.Change, m.NewVersion} }

// Error reports a protocol-level failure in either direction.
type Error struct {
	Code   string
	Detail string
}

func (Error) Method() Method { return MethodError }
func (m Error) args() []any  { return []any{m.Code, m.Detail} }

func (m Error) String() string {
	detail := strings.TrimSpace(m.Detail)
	if detail == "" {
		return m.Code
	}
	return m.Code + ": " + detail
}

func nonNilChanges(in []Change) []Change {
	if in == nil {
		return []Change{}
	}
	return in
}
