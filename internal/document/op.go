package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrOutOfRange = errors.New("document: position out of range")
	ErrInvalidOp  = errors.New("document: invalid operation")
)

const (
	OpInsert = "insert"
	OpDelete = "delete"
)

// Op is the change payload understood by Text.
type Op struct {
	Op   string `json:"op"`
	Pos  int    `json:"pos"`
	Text string `json:"text,omitempty"`
	Len  int    `json:"len,omitempty"`
}

func (o Op) Validate() error {
	switch o.Op {
	case OpInsert:
		if o.Text == "" {
			return fmt.Errorf("%w: empty insert", ErrInvalidOp)
		}
	case OpDelete:
		if o.Len <= 0 {
			return fmt.Errorf("%w: delete len=%d", ErrInvalidOp, o.Len)
		}
	default:
		return fmt.Errorf("%w: op=%q", ErrInvalidOp, o.Op)
	}
	if o.Pos < 0 {
		return fmt.Errorf("%w: pos=%d", ErrInvalidOp, o.Pos)
	}
	return nil
}

func EncodeOp(o Op) (json.RawMessage, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(o)
}

func DecodeOp(payload json.RawMessage) (Op, error) {
	var o Op
	if len(payload) == 0 {
		return o, fmt.Errorf("%w: empty payload", ErrInvalidOp)
	}
	if err := json.Unmarshal(payload, &o); err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}
	return o, o.Validate()
}
