package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies controller failures for user-facing reporting.
type ErrorKind string

const (
	// ErrorKindTransport is a connectivity-level failure. The subscriber
	// retries these forever.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindRemote means the call completed but the core rejected it.
	ErrorKindRemote ErrorKind = "remote"
	// ErrorKindApplication means the response decoded but its embedded code
	// signals non-success.
	ErrorKindApplication ErrorKind = "application"
	// ErrorKindListener is a state listener that returned an error or panicked.
	ErrorKindListener ErrorKind = "listener"
)

// Error wraps a failure with a stable classification.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError constructs a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ApplicationFailure builds an application-level failure with a message
// taken from the response.
func ApplicationFailure(op, message string) *Error {
	if message == "" {
		message = op + " was rejected by the core"
	}
	return &Error{Kind: ErrorKindApplication, Op: op, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return "core error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s failed (%s)", e.Op, e.Kind)
	}
	return "core error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the classification of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	return KindOf(err) == ErrorKindTransport
}

// StepError reports the pipeline step that failed and why.
type StepError struct {
	Pipeline string
	Step     string
	Index    int
	Err      error
}

func (e *StepError) Error() string {
	if e == nil {
		return "step failed"
	}
	if e.Err == nil {
		return fmt.Sprintf("step %q failed", e.Step)
	}
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Kind returns the classification of the underlying cause.
func (e *StepError) Kind() ErrorKind {
	if e == nil {
		return ""
	}
	return KindOf(e.Err)
}
