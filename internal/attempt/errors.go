package attempt

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected operation.
type ErrorKind string

const (
	KindInvalidState           ErrorKind = "invalid_state"
	KindValidation             ErrorKind = "validation_error"
	KindIncompletePrerequisite ErrorKind = "incomplete_prerequisite"
	KindNotFound               ErrorKind = "not_found"
	KindPersistence            ErrorKind = "persistence_error"
)

// Error is a typed rejection from the attempt state machine or service.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "submit-diagnosis"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors of the same kind, so callers can write
// errors.Is(err, attempt.ErrInvalidState).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrIncompletePrerequisite = &Error{Kind: KindIncompletePrerequisite}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrPersistence            = &Error{Kind: KindPersistence}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func invalidState(op string, phase Phase) error {
	return &Error{Kind: KindInvalidState, Op: op, Msg: fmt.Sprintf("not allowed in phase %s", phase)}
}

func validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFoundf(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}
