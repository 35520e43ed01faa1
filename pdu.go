package gomatrixstateres

import (
	"github.com/matrix-org/gomatrixstateres/spec"
)

// Event is the read-only view of a room event that state resolution and the
// authorisation rules need. Implementations must not change their answers
// once handed to this package.
type Event interface {
	EventID() string
	RoomID() string
	Sender() string
	OriginServerTS() spec.Timestamp
	Type() string
	// StateKey returns nil for message events. The empty string is a valid
	// state key.
	StateKey() *string
	StateKeyEquals(s string) bool
	// Content returns the raw JSON of the "content" key.
	Content() []byte
	PrevEventIDs() []string
	AuthEventIDs() []string
	// Redacts returns the event ID targeted by a m.room.redaction, or the
	// empty string.
	Redacts() string
	// Rejected returns true if the event failed authorisation when it was
	// received.
	Rejected() bool
}

// ToEvents converts a slice of concrete Event implementations to a slice of
// Events, for example []*RawEvent or []ProtoEvent.
func ToEvents[T Event](events []T) []Event {
	result := make([]Event, len(events))
	for i := range events {
		result[i] = events[i]
	}
	return result
}

// A StateKeyTuple is the combination of an event type and an event state key.
// It is often used as a key in maps.
type StateKeyTuple struct {
	// The "type" key of a matrix event.
	EventType string
	// The "state_key" of a matrix event.
	// The empty string is a legitimate value for the "state_key" in matrix
	// so take care to initialise this field lest you accidentally request a
	// "state_key" with the go default of the empty string.
	StateKey string
}

// StateMap maps each slot of room state to the ID of the event that fills it.
type StateMap map[StateKeyTuple]string

// Clone returns a copy of the state map.
func (s StateMap) Clone() StateMap {
	c := make(StateMap, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// stateKeyTupleOf returns the state tuple of a state event. The second
// return value is false for message events.
func stateKeyTupleOf(event Event) (StateKeyTuple, bool) {
	stateKey := event.StateKey()
	if stateKey == nil {
		return StateKeyTuple{}, false
	}
	return StateKeyTuple{event.Type(), *stateKey}, true
}
