package leads

import (
	"errors"
	"fmt"
)

// Class categorizes pipeline failures so each lead fails in isolation
// and operators can see what went wrong last.
type Class string

const (
	ClassUnknown          Class = "unknown"
	ClassParse            Class = "parse_error"
	ClassDuplicate        Class = "duplicate_lead"
	ClassCallInitiation   Class = "call_initiation_failure"
	ClassNoAnswer         Class = "no_answer"
	ClassTranscriptionGap Class = "transcription_gap"
	ClassSinkWrite        Class = "sink_write_failure"
	ClassStoreUnavailable Class = "store_unavailable"
)

// Alertable reports whether the class is escalated to an operator.
func (c Class) Alertable() bool {
	return c == ClassStoreUnavailable || c == ClassSinkWrite
}

// Error wraps an underlying failure with its class and the failing operation.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Class, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Class)
	default:
		return string(e.Class)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(class Class, op string, err error) error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of the outermost classified error in the chain.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassUnknown
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class Class) bool {
	return ClassOf(err) == class
}

var (
	ErrNoLead   = errors.New("leads: notification does not contain a lead")
	ErrNotFound = errors.New("leads: not found")
)
