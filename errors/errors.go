package errors

import (
	"encoding/json"
	"fmt"
)

// Code classifies an error raised by the store
type Code int

const (
	// Internal is an unexpected failure inside the store
	Internal Code = 1
	// NotFound indicates a missing entity
	NotFound Code = 2
	// Validation indicates an invalid argument (empty id, nil fields)
	Validation Code = 3
	// Parse indicates a malformed filter or value expression
	Parse Code = 4
	// IO indicates a failure reading or writing the snapshot or write ahead log
	IO Code = 5
)

// Error is a custom error
type Error struct {
	Code     Code     `json:"code"`
	Messages []string `json:"messages"`
	Err      error    `json:"err,omitempty"`
}

// Error returns the Error as a json string
func (e *Error) Error() string {
	bits, _ := json.Marshal(e)
	return string(bits)
}

// Unwrap returns the underlying error, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// RemoveError removes the error from the Error and leaves it's messages and code
func (e *Error) RemoveError() *Error {
	return &Error{
		Code:     e.Code,
		Messages: e.Messages,
		Err:      nil,
	}
}

// New creates a new Error with the given code and formatted message
func New(code Code, msg string, args ...any) error {
	return &Error{
		Code:     code,
		Messages: []string{fmt.Sprintf(msg, args...)},
	}
}

// Extract extracts the custom Error from the given error
func Extract(err error) *Error {
	e, ok := err.(*Error)
	if !ok {
		return &Error{
			Code: 0,
			Err:  err,
		}
	}
	return e
}

// Wrap wraps the given error and returns a new one. A nil error stays nil.
// An *Error is not copied: the message is appended to it, a non-zero code
// replaces its code, and the same *Error is returned.
func Wrap(err error, code Code, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if ok {
		if msg != "" {
			e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
		}
		if code > 0 {
			e.Code = code
		}
		return e
	}
	e = &Error{
		Code: code,
		Err:  err,
	}
	if msg != "" {
		e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
	}
	return e
}
