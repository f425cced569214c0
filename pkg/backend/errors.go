package backend

import (
	"errors"
	"fmt"
)

// Failure classes. Every error returned by Client wraps exactly one of them.
var (
	ErrTransport = errors.New("transport failure")
	ErrRejected  = errors.New("rejected by backend")
	ErrMalformed = errors.New("malformed response")
)

type Error struct {
	Op   string // backend module name
	Kind error  // ErrTransport, ErrRejected or ErrMalformed
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	return &Error{Op: op, Kind: ErrTransport, Err: err}
}

func rejected(op, msg string) error {
	return &Error{Op: op, Kind: ErrRejected, Msg: msg}
}

func malformed(op, msg string, err error) error {
	return &Error{Op: op, Kind: ErrMalformed, Msg: msg, Err: err}
}

// missing reports an expected payload field that the response lacked.
func missing(op, field string) error {
	return malformed(op, "missing "+field, nil)
}
