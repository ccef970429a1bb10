package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed remote operation.
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindTimeout       ErrorKind = "timeout"
	KindSessionBroken ErrorKind = "session_broken"
)

// ExecError is returned by executors for a failed attempt.
type ExecError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ExecError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	return &ExecError{Kind: KindTransient, Op: op, Err: err}
}

func Timeout(op string, err error) error {
	return &ExecError{Kind: KindTimeout, Op: op, Err: err}
}

func SessionBroken(op string, err error) error {
	return &ExecError{Kind: KindSessionBroken, Op: op, Err: err}
}

// KindOf classifies err. Unclassified errors count as transient; a context
// deadline counts as a timeout.
func KindOf(err error) ErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

func IsSessionBroken(err error) bool {
	return err != nil && KindOf(err) == KindSessionBroken
}

// ParseErrorKind maps a wire label onto a kind. Unknown labels are transient.
func ParseErrorKind(label string) ErrorKind {
	switch label {
	case "timeout":
		return KindTimeout
	case "broken", "session_broken":
		return KindSessionBroken
	default:
		return KindTransient
	}
}
