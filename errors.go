package gomatrixstateres

import (
	"fmt"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// MissingEventError is returned when an event that state resolution needs,
// for example one referenced by another event's auth_events, could not be
// provided. Resolution cannot continue deterministically without it.
type MissingEventError struct {
	EventID string
	// ForEventID is the event that referenced the missing one, if known.
	ForEventID string
	Err        error
}

func (e MissingEventError) Error() string {
	msg := fmt.Sprintf("gomatrixstateres: missing event with ID %s", e.EventID)
	if e.ForEventID != "" {
		msg += fmt.Sprintf(" referenced by event %s", e.ForEventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e MissingEventError) Unwrap() error {
	return e.Err
}

// BadJSONError is returned when JSON that the caller supplied could not be
// understood.
type BadJSONError struct {
	err error
}

func (e BadJSONError) Error() string {
	return fmt.Sprintf("gomatrixstateres: bad JSON: %s", e.err.Error())
}

func (e BadJSONError) Unwrap() error {
	return e.err
}

func badJSONf(format string, args ...interface{}) error {
	return BadJSONError{fmt.Errorf(format, args...)}
}

// UnsupportedRoomVersionError is returned when a room version has no known
// rules.
type UnsupportedRoomVersionError struct {
	Version RoomVersion
}

func (e UnsupportedRoomVersionError) Error() string {
	return fmt.Sprintf("gomatrixstateres: unsupported room version %q", e.Version)
}

// InvalidStateMapError is returned when a state map handed to Resolve
// refers to an event that does not occupy the slot it was filed under.
type InvalidStateMapError struct {
	Tuple   StateKeyTuple
	EventID string
}

func (e InvalidStateMapError) Error() string {
	return fmt.Sprintf(
		"gomatrixstateres: event %s does not have type %q and state key %q",
		e.EventID, e.Tuple.EventType, e.Tuple.StateKey,
	)
}

// serverNameOf returns the server of a user ID. A malformed ID has no
// server, so it never matches one.
func serverNameOf(userID string) spec.ServerName {
	user, err := spec.ParseUserID(userID)
	if err != nil {
		return ""
	}
	return user.Domain
}
