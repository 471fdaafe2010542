package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode renders msg as a wire frame.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	return EncodeTuple(msg.Method(), msg.args()...)
}

// EncodeTuple renders a raw [method, args...] tuple. The method must be known
// and args must match its arity.
func EncodeTuple(method Method, args ...any) ([]byte, error) {
	want := method.Arity()
	if want < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if len(args) != want {
		return nil, fmt.Errorf("%w: method=%s want=%d got=%d", ErrArityMismatch, method, want, len(args))
	}
	tuple := make([]any, 0, len(args)+1)
	tuple = append(tuple, string(method))
	tuple = append(tuple, args...)
	return json.Marshal(tuple)
}

// Decode parses one wire frame into its typed message.
func Decode(frame []byte) (Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("%w: not a tuple: %v", ErrMalformedMessage, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty tuple", ErrMalformedMessage)
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return nil, fmt.Errorf("%w: method is not a string", ErrMalformedMessage)
	}
	method := Method(name)
	want := method.Arity()
	if want < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	args := raw[1:]
	if len(args) != want {
		return nil, fmt.Errorf("%w: method=%s want=%d got=%d", ErrArityMismatch, method, want, len(args))
	}

	switch method {
	case MethodOpen:
		var msg Open
		if err := decodeArgs(method, args, &msg.DocumentID, &msg.Version); err != nil {
			return nil, err
		}
		return msg, nil
	case MethodOpenCompleted:
		var msg OpenCompleted
		if err := decodeArgs(method, args, &msg.ServerVersion, &msg.Missed); err != nil {
			return nil, err
		}
		if err := validateChanges(msg.Missed); err != nil {
			return nil, err
		}
		return msg, nil
	case MethodCommit:
		var msg Commit
		if err := decodeArgs(method, args, &msg.Changes, &msg.BaseVersion); err != nil {
			return nil, err
		}
		if err := validateChanges(msg.Changes); err != nil {
			return nil, err
		}
		return msg, nil
	case MethodCommitCompleted:
		var msg CommitCompleted
		if err := decodeArgs(method, args, &msg.NewVersion); err != nil {
			return nil, err
		}
		return msg, nil
	case MethodUpdate:
		var msg Update
		if err := decodeArgs(method, args, &msg.Change, &msg.NewVersion); err != nil {
			return nil, err
		}
		if err := msg.Change.Validate(); err != nil {
			return nil, err
		}
		return msg, nil
	case MethodError:
		var msg Error
		if err := decodeArgs(method, args, &msg.Code, &msg.Detail); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

func decodeArgs(method Method, args []json.RawMessage, into ...any) error {
	for i, dst := range into {
		if err := json.Unmarshal(args[i], dst); err != nil {
			return fmt.Errorf("%w: method=%s arg[%d]: %v", ErrMalformedMessage, method, i, err)
		}
	}
	return nil
}

func validateChanges(changes []Change) error {
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
	}
	return nil
}
