package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Error is a coded error carrying an optional cause and structured context.
type Error struct {
	// Code classifies the failure.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Context holds structured details such as branch or release names.
	Context map[string]interface{}

	// Cause is the wrapped underlying error, if any.
	Cause error
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// WrapWithContext wraps err with a code, message and structured context.
// It returns nil if err is nil.
func WrapWithContext(err error, code ErrorCode, message string, ctx map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Context: ctx, Cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString("]")
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
// This lets callers match on codes with errors.Is(err, errors.New(code, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithContext returns a copy of e with key set to value in its context.
func (e *Error) WithContext(key string, value interface{}) *Error {
	cp := *e
	cp.Context = make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		cp.Context[k] = v
	}
	cp.Context[key] = value
	return &cp
}

// CodeOf returns the code of the outermost *Error in err's chain,
// or CodeUnknown when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// Is is a convenience alias for the standard library errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a convenience alias for the standard library errors.As.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
