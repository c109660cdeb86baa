package release

import (
	"encoding/json"
	"fmt"
)

// State represents the lifecycle state of a release.
type State string

const (
	// StateActive indicates the release is orchestrated on every change.
	StateActive State = "ACTIVE"

	// StatePaused indicates the release is kept but never merged or built.
	StatePaused State = "PAUSED"

	// statePauseLegacy is the value older snapshots used for StatePaused.
	statePauseLegacy State = "PAUSE"
)

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateActive || s == StatePaused
}

// ParseState converts text into a State, accepting the legacy PAUSE spelling.
func ParseState(text string) (State, error) {
	switch State(text) {
	case StateActive:
		return StateActive, nil
	case StatePaused, statePauseLegacy:
		return StatePaused, nil
	default:
		return "", fmt.Errorf("unknown release state %q", text)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := ParseState(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EventKind identifies the mutation an Event describes.
type EventKind string

const (
	// EventCreated is emitted after a release is added.
	EventCreated EventKind = "CREATED"

	// EventUpdated is emitted after a release is modified.
	EventUpdated EventKind = "UPDATED"

	// EventDeleted is emitted after a release is removed.
	EventDeleted EventKind = "DELETED"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}
