package gomatrixstateres

import (
	"context"
	"fmt"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// AuthStateProvider returns room state for the state-dependent auth rules.
type AuthStateProvider interface {
	// StateEvent returns the event in the given slot of state, or nil if the
	// slot is empty.
	StateEvent(eventType, stateKey string) Event
}

// AuthStateFunc adapts a function to an AuthStateProvider.
type AuthStateFunc func(eventType, stateKey string) Event

// StateEvent implements AuthStateProvider
func (f AuthStateFunc) StateEvent(eventType, stateKey string) Event {
	return f(eventType, stateKey)
}

// AuthEvents is an implementation of AuthStateProvider backed by a map.
type AuthEvents struct {
	events map[StateKeyTuple]Event
}

// NewAuthEvents returns an AuthStateProvider backed by the given events.
// Message events are ignored. New events can be added by calling AddEvent().
func NewAuthEvents(events []Event) AuthEvents {
	a := AuthEvents{
		events: make(map[StateKeyTuple]Event, len(events)),
	}
	for _, e := range events {
		a.AddEvent(e) // nolint: errcheck
	}
	return a
}

// AddEvent adds an event to the provider. If an event already existed for the (type, state_key) then
// the event is replaced with the new event. Only returns an error if the event is not a state event.
func (a *AuthEvents) AddEvent(event Event) error {
	tuple, ok := stateKeyTupleOf(event)
	if !ok {
		return fmt.Errorf("AddEvent: event %q does not have a state key", event.EventID())
	}
	if a.events == nil {
		a.events = make(map[StateKeyTuple]Event)
	}
	a.events[tuple] = event
	return nil
}

// StateEvent implements AuthStateProvider
func (a *AuthEvents) StateEvent(eventType, stateKey string) Event {
	if e, ok := a.events[StateKeyTuple{eventType, stateKey}]; ok {
		return e
	}
	return nil
}

// Create returns the m.room.create event, or nil.
func (a *AuthEvents) Create() Event {
	return a.StateEvent(spec.MRoomCreate, "")
}

// PowerLevels returns the m.room.power_levels event, or nil.
func (a *AuthEvents) PowerLevels() Event {
	return a.StateEvent(spec.MRoomPowerLevels, "")
}

// Len returns the number of events in the provider.
func (a *AuthEvents) Len() int {
	return len(a.events)
}

// authEventsOf loads the auth_events of an event into an AuthEvents.
// Rejected auth events are skipped. Auth events that cannot be loaded are a
// MissingEventError.
func authEventsOf(ctx context.Context, event Event, provider EventProvider) (AuthEvents, error) {
	authEvents := NewAuthEvents(nil)
	for _, authEventID := range event.AuthEventIDs() {
		authEvent, err := provider.Event(ctx, authEventID)
		if err != nil {
			return authEvents, MissingEventError{EventID: authEventID, ForEventID: event.EventID(), Err: err}
		}
		if authEvent.Rejected() {
			continue
		}
		authEvents.AddEvent(authEvent) // nolint: errcheck
	}
	return authEvents, nil
}

// VerifyAuthRulesAtState checks that an event passes the authorisation rules
// at the given state of the room, usually the state before the event.
//
// This implements Step 5 of https://spec.matrix.org/v1.8/server-server-api/#checks-performed-on-receipt-of-a-pdu
// "Passes authorization rules based on the state before the event, otherwise it is rejected."
//
// Only the state the event needs for its auth checks is loaded from the
// provider. A NotAllowed or BadJSONError error means the event is rejected,
// a MissingEventError that the state could not be loaded.
func VerifyAuthRulesAtState(
	ctx context.Context, roomVersion RoomVersion, event Event, state StateMap, provider EventProvider, opts ...AuthCheckOption,
) error {
	rules, err := GetRoomVersionRules(roomVersion)
	if err != nil {
		return err
	}
	authTypes, err := AuthTypesForEvent(event.Type(), event.Sender(), event.StateKey(), event.Content(), rules.Authorization)
	if err != nil {
		return err
	}
	authEvents := NewAuthEvents(nil)
	for _, tuple := range authTypes {
		eventID, ok := state[tuple]
		if !ok {
			continue
		}
		if err = ctx.Err(); err != nil {
			return fmt.Errorf("gomatrixstateres.VerifyAuthRulesAtState: context cancelled: %w", err)
		}
		stateEvent, err := provider.Event(ctx, eventID)
		if err != nil {
			return MissingEventError{EventID: eventID, ForEventID: event.EventID(), Err: err}
		}
		authEvents.AddEvent(stateEvent) // nolint: errcheck
	}
	if err = CheckStateDependentAuthRules(rules.Authorization, event, &authEvents, opts...); err != nil {
		return fmt.Errorf(
			"gomatrixstateres.VerifyAuthRulesAtState: event %s is not allowed at state: %w",
			event.EventID(), err,
		)
	}
	return nil
}
