package gomatrixstateres

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-set"
)

// AuthChain returns the IDs of the auth chain of the given events: the
// transitive closure of their auth_events. The given events are only part
// of the result if one of them is in the auth chain of another. An auth
// event the provider cannot supply is a MissingEventError.
func AuthChain(ctx context.Context, provider EventProvider, eventIDs []string) (*set.Set[string], error) {
	chain := set.New[string](len(eventIDs) * 4)
	// A stack gives a depth-first walk, which tends to find shared ancestors
	// early and avoids revisiting them.
	type item struct{ eventID, forEventID string }
	stack := make([]item, 0, len(eventIDs))
	for i := len(eventIDs) - 1; i >= 0; i-- {
		stack = append(stack, item{eventID: eventIDs[i]})
	}
	started := set.New[string](len(eventIDs))

	var curr item
	for len(stack) > 0 {
		curr, stack = stack[len(stack)-1], stack[:len(stack)-1]
		if curr.forEventID == "" {
			if !started.Insert(curr.eventID) {
				continue
			}
		} else if !chain.Insert(curr.eventID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("gomatrixstateres.AuthChain: context cancelled: %w", err)
		}
		event, err := provider.Event(ctx, curr.eventID)
		if err != nil {
			return nil, MissingEventError{EventID: curr.eventID, ForEventID: curr.forEventID, Err: err}
		}
		for _, authEventID := range event.AuthEventIDs() {
			if !chain.Contains(authEventID) {
				stack = append(stack, item{eventID: authEventID, forEventID: curr.eventID})
			}
		}
	}
	return chain, nil
}

// AuthChainDifference returns the sorted IDs of the events that appear in
// some but not all of the given auth chains: their union minus their
// intersection. Duplicates inside one chain are counted once.
func AuthChainDifference(chains [][]string) []string {
	if len(chains) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, chain := range chains {
		for _, eventID := range set.From(chain).Slice() {
			counts[eventID]++
		}
	}
	var difference []string
	for eventID, count := range counts {
		if count < len(chains) {
			difference = append(difference, eventID)
		}
	}
	sort.Strings(difference)
	return difference
}

// VerifyEventAuthChain will verify that the event is allowed according to its auth_events, and then
// recursively verify each of those auth_events.
//
// This function implements Step 4 of https://spec.matrix.org/v1.8/server-server-api/#checks-performed-on-receipt-of-a-pdu
// "Passes authorization rules based on the event's auth events, otherwise it is rejected."
// If an event passes this function without error, the caller should make sure that all the auth_events were actually for
// a valid room state, and not referencing random bits of room state from different positions in time (Step 5).
//
// Each event in the chain is fetched from the provider once. Failing to provide an event is a MissingEventError,
// an event failing its checks is a NotAllowed or BadJSONError error wrapped with the ID of the failing event.
func VerifyEventAuthChain(
	ctx context.Context, roomVersion RoomVersion, eventToVerify Event, provider EventProvider, opts ...AuthCheckOption,
) error {
	rules, err := GetRoomVersionRules(roomVersion)
	if err != nil {
		return err
	}
	eventsByID := map[string]Event{eventToVerify.EventID(): eventToVerify} // A lookup table for verifying this auth chain
	fetchEvent := func(eventID string) Event {
		return eventsByID[eventID]
	}
	verified := set.New[string](8) // events are put here when they are fully verified.
	eventsToVerify := []Event{eventToVerify}
	var curr Event

	for len(eventsToVerify) > 0 {
		// pop the top of the stack
		curr, eventsToVerify = eventsToVerify[len(eventsToVerify)-1], eventsToVerify[:len(eventsToVerify)-1]
		if verified.Contains(curr.EventID()) {
			continue
		}
		// fetch the auth events we haven't seen yet and verify those too.
		for _, authEventID := range curr.AuthEventIDs() {
			if _, ok := eventsByID[authEventID]; ok {
				continue
			}
			authEvent, err := provider.Event(ctx, authEventID)
			if err != nil {
				return MissingEventError{EventID: authEventID, ForEventID: curr.EventID(), Err: err}
			}
			eventsByID[authEventID] = authEvent
			eventsToVerify = append(eventsToVerify, authEvent)
		}
		if err = CheckStateIndependentAuthRules(rules.Authorization, curr, fetchEvent); err != nil {
			return fmt.Errorf("gomatrixstateres: VerifyEventAuthChain %v failed auth check: %w", curr.EventID(), err)
		}
		authEvents, err := authEventsOf(ctx, curr, EventMap(eventsByID))
		if err != nil {
			return err
		}
		if err = CheckStateDependentAuthRules(rules.Authorization, curr, &authEvents, opts...); err != nil {
			return fmt.Errorf("gomatrixstateres: VerifyEventAuthChain %v failed auth check: %w", curr.EventID(), err)
		}
		verified.Insert(curr.EventID())
	}
	return nil
}
