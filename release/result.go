package release

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type resultKind uint8

const (
	kindPending resultKind = iota
	kindSuccess
	kindFailure
)

const (
	jsonKindSuccess = "success"
	jsonKindFailure = "failure"
)

// Result is either Success carrying a value, Failure carrying a reason, or
// pending (the zero value).
type Result[T any] struct {
	kind   resultKind
	value  T
	reason string
}

// Success returns a successful Result holding value.
func Success[T any](value T) Result[T] {
	return Result[T]{kind: kindSuccess, value: value}
}

// Failure returns a failed Result with reason.
func Failure[T any](reason string) Result[T] {
	return Result[T]{kind: kindFailure, reason: reason}
}

// Failuref returns a failed Result with a formatted reason.
func Failuref[T any](format string, args ...any) Result[T] {
	return Failure[T](fmt.Sprintf(format, args...))
}

// IsPending reports whether no outcome has been recorded.
func (r Result[T]) IsPending() bool { return r.kind == kindPending }

// IsSuccess reports whether r is a Success.
func (r Result[T]) IsSuccess() bool { return r.kind == kindSuccess }

// IsFailure reports whether r is a Failure.
func (r Result[T]) IsFailure() bool { return r.kind == kindFailure }

// Value returns the success value and true, or the zero value and false.
func (r Result[T]) Value() (T, bool) {
	if r.kind != kindSuccess {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Reason returns the failure reason, or "" when r is not a Failure.
func (r Result[T]) Reason() string {
	if r.kind != kindFailure {
		return ""
	}
	return r.reason
}

// String renders r for logs.
func (r Result[T]) String() string {
	switch r.kind {
	case kindSuccess:
		return fmt.Sprintf("Success(%v)", r.value)
	case kindFailure:
		return fmt.Sprintf("Failure(%s)", r.reason)
	default:
		return "Pending"
	}
}

type resultJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case kindSuccess:
		value, err := json.Marshal(r.value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resultJSON{Kind: jsonKindSuccess, Value: value})
	case kindFailure:
		return json.Marshal(resultJSON{Kind: jsonKindFailure, Error: r.reason})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Result[T]{}
		return nil
	}

	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Kind {
	case jsonKindSuccess:
		var value T
		if len(raw.Value) > 0 {
			if err := json.Unmarshal(raw.Value, &value); err != nil {
				return fmt.Errorf("decoding success value: %w", err)
			}
		}
		*r = Success(value)
	case jsonKindFailure:
		*r = Failure[T](raw.Error)
	default:
		return fmt.Errorf("unknown result kind %q", raw.Kind)
	}
	return nil
}
