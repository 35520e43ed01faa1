// Copyright 2020 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gomatrixstateres

import (
	"sort"

	"github.com/hashicorp/go-set"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/gomatrixstateres/spec"
)

type stateResolverV2 struct {
	*resolver
	fullConflictedSet     *set.Set[string] // Conflicted events plus the auth difference
	powerLevels           map[string]int64 // Sender power levels of the power events
	powerLevelMainlinePos map[string]int   // Power level event positions in mainline
}

// resolveV2 implements state resolution v2.
// https://spec.matrix.org/v1.8/rooms/v2/#state-resolution
func (r *resolver) resolveV2(
	unconflicted StateMap, conflicted map[StateKeyTuple][]string, authChainSets [][]string,
) (StateMap, error) {
	v2 := stateResolverV2{
		resolver:              r,
		fullConflictedSet:     set.New[string](len(conflicted) * 2),
		powerLevels:           make(map[string]int64),
		powerLevelMainlinePos: make(map[string]int),
	}

	// Get the full conflicted set, that is the conflicted events and the
	// auth difference (events that don't appear in all auth chains). The
	// conflicted events must all exist, but events from the auth difference
	// that we can't fetch are left out.
	for tuple, eventIDs := range conflicted {
		for _, eventID := range eventIDs {
			if _, err := r.stateEvent(tuple, eventID); err != nil {
				return nil, err
			}
			v2.fullConflictedSet.Insert(eventID)
		}
	}
	for _, eventID := range AuthChainDifference(authChainSets) {
		if r.tryEvent(eventID) == nil {
			r.logger.WithField("event_id", eventID).Debug("Leaving unknown event out of the auth difference")
			continue
		}
		v2.fullConflictedSet.Insert(eventID)
	}
	fullConflicted := v2.fullConflictedSet.Slice()
	sort.Strings(fullConflicted)

	// Pull out the power events, that is the events which change who may do
	// what in the room, and order them so that each comes after the power
	// events in its auth chain.
	var powerEvents []string
	for _, eventID := range fullConflicted {
		if isPowerEvent(r.events[eventID]) {
			powerEvents = append(powerEvents, eventID)
		}
	}
	sortedPowerEvents, err := v2.reverseTopologicalPowerSort(powerEvents)
	if err != nil {
		return nil, err
	}
	r.logger.WithFields(logrus.Fields{
		"full_conflicted": len(fullConflicted),
		"power_events":    len(sortedPowerEvents),
	}).Debug("Sorted power events")

	// Auth the power events on top of the unconflicted state. The ones that
	// pass form the partial state.
	resolved, err := r.iterativeAuthChecks(sortedPowerEvents, unconflicted)
	if err != nil {
		return nil, err
	}

	// Everything else in the full conflicted set is ordered by the mainline
	// of the resolved power levels and then authed on top of the partial
	// state as well.
	sortedPowerSet := set.From(sortedPowerEvents)
	var remaining []string
	for _, eventID := range fullConflicted {
		if !sortedPowerSet.Contains(eventID) {
			remaining = append(remaining, eventID)
		}
	}
	powerLevelsID := resolved[StateKeyTuple{spec.MRoomPowerLevels, ""}]
	sortedRemaining, err := v2.mainlineSort(remaining, powerLevelsID)
	if err != nil {
		return nil, err
	}
	if resolved, err = r.iterativeAuthChecks(sortedRemaining, resolved); err != nil {
		return nil, err
	}

	// Finally we will reapply the unconflicted state onto the partial
	// state, just in case any of it was overwritten by pulling in auth
	// events in the previous steps. Unless asked to overlay it, each
	// unconflicted event must still be allowed by the resolved state.
	if !r.config.overlayUnconflicted {
		return v2.applyUnconflictedStrictly(resolved, unconflicted)
	}
	for tuple, eventID := range unconflicted {
		resolved[tuple] = eventID
	}
	return resolved, nil
}

// applyUnconflictedStrictly applies the unconflicted state to the resolved
// state, except for events that are no longer allowed by it. Every event is
// checked against the same resolved state so the order doesn't matter.
func (r *stateResolverV2) applyUnconflictedStrictly(resolved, unconflicted StateMap) (StateMap, error) {
	tuples := make([]StateKeyTuple, 0, len(unconflicted))
	for tuple := range unconflicted {
		tuples = append(tuples, tuple)
	}
	sort.Slice(tuples, func(i, j int) bool {
		if tuples[i].EventType != tuples[j].EventType {
			return tuples[i].EventType < tuples[j].EventType
		}
		return tuples[i].StateKey < tuples[j].StateKey
	})

	result := resolved.Clone()
	for _, tuple := range tuples {
		eventID := unconflicted[tuple]
		allowed, err := r.authCheck(eventID, resolved)
		if err != nil {
			return nil, err
		}
		if !allowed {
			r.rejected.Insert(eventID)
			if result[tuple] == eventID {
				delete(result, tuple)
			}
			continue
		}
		result[tuple] = eventID
	}
	return result, nil
}

// isPowerEvent returns true if the event meets the criteria for being classed
// as a "power" event for reverse topological sorting. If not then the event
// will be mainline sorted.
func isPowerEvent(e Event) bool {
	switch e.Type() {
	case spec.MRoomPowerLevels, spec.MRoomJoinRules, spec.MRoomCreate:
		// Power level, join rule and create events with an empty state key are
		// power events.
		return e.StateKeyEquals("")
	case spec.MRoomMember:
		// Membership events must not have an empty state key.
		if e.StateKey() == nil || e.StateKeyEquals("") {
			break
		}
		// Membership events are only power events if the sender does not match
		// the state key, i.e. because the event is caused by an admin or moderator.
		if e.StateKeyEquals(e.Sender()) {
			break
		}
		// If the "membership" key is set to either "leave" or "ban" then the
		// event is a power event.
		membership, err := RoomMemberEvent{e}.Membership()
		if err != nil {
			break
		}
		return membership == spec.Leave || membership == spec.Ban
	}
	return false
}

// reverseTopologicalPowerSort builds a graph of the power events and of the
// events in their auth chains that are also in the full conflicted set, and
// sorts it so that auth events come first. Ties are broken by the sender's
// power level descending, then origin_server_ts, then event ID.
func (r *stateResolverV2) reverseTopologicalPowerSort(powerEvents []string) ([]string, error) {
	graph := make(EventGraph, len(powerEvents))
	for _, eventID := range powerEvents {
		if err := r.addEventAndAuthChainToGraph(graph, eventID); err != nil {
			return nil, err
		}
	}

	for eventID := range graph {
		event, err := r.event(eventID, "")
		if err != nil {
			return nil, err
		}
		r.powerLevels[eventID] = r.senderPowerLevel(event)
	}

	return LexicographicalTopologicalSort(graph, func(eventID string) (string, error) {
		event := r.events[eventID]
		return powerOrder{
			powerLevel:     r.powerLevels[eventID],
			originServerTS: event.OriginServerTS(),
			eventID:        eventID,
		}.key(), nil
	})
}

// addEventAndAuthChainToGraph adds the event to the graph, along with the
// auth events it depends on that are in the full conflicted set, and theirs
// in turn.
func (r *stateResolverV2) addEventAndAuthChainToGraph(graph EventGraph, eventID string) error {
	stack := []string{eventID}
	var curr string
	for len(stack) > 0 {
		curr, stack = stack[len(stack)-1], stack[:len(stack)-1]
		graph.AddNode(curr)
		event, err := r.event(curr, "")
		if err != nil {
			return err
		}
		for _, authEventID := range event.AuthEventIDs() {
			if !r.fullConflictedSet.Contains(authEventID) {
				continue
			}
			if _, ok := graph[authEventID]; !ok {
				graph.AddNode(authEventID)
				stack = append(stack, authEventID)
			}
			graph.AddEdge(curr, authEventID)
		}
	}
	return nil
}

// mainlineSort orders events by the position of the closest power levels
// event in their auth chain on the mainline: the chain of power levels
// events that leads to the resolved power levels event. Ties are broken by
// origin_server_ts, then event ID.
func (r *stateResolverV2) mainlineSort(eventIDs []string, powerLevelsID string) ([]string, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	mainline, err := r.createPowerLevelMainline(powerLevelsID)
	if err != nil {
		return nil, err
	}
	for pos, eventID := range mainline {
		r.powerLevelMainlinePos[eventID] = pos + 1
	}

	block := make(mainlineOrderBlock, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		event, err := r.event(eventID, "")
		if err != nil {
			return nil, err
		}
		pos, err := r.mainlinePosition(event)
		if err != nil {
			return nil, err
		}
		block = append(block, mainlineOrder{
			mainlinePosition: pos,
			originServerTS:   event.OriginServerTS(),
			eventID:          eventID,
		})
	}
	return block.eventIDs(), nil
}

// createPowerLevelMainline generates the mainline of power level events,
// starting at the given power level event and working our way back to the
// room creation by following the power levels event in each one's auth
// events. The result is oldest first. An event on the mainline that cannot
// be fetched is a MissingEventError.
func (r *stateResolverV2) createPowerLevelMainline(powerLevelsID string) ([]string, error) {
	var mainline []string
	for eventID := powerLevelsID; eventID != ""; {
		mainline = append(mainline, eventID)
		event, err := r.event(eventID, "")
		if err != nil {
			return nil, err
		}
		eventID, err = r.powerLevelsAuthEvent(event)
		if err != nil {
			return nil, err
		}
	}
	for i, j := 0, len(mainline)-1; i < j; i, j = i+1, j-1 {
		mainline[i], mainline[j] = mainline[j], mainline[i]
	}
	return mainline, nil
}

// mainlinePosition steps through the power levels events in the auth chain
// of the event until it finds one on the mainline, and returns its
// position. The oldest mainline event is at position 1, events that don't
// reach the mainline are at position 0.
func (r *stateResolverV2) mainlinePosition(event Event) (int, error) {
	for event != nil {
		if pos, ok := r.powerLevelMainlinePos[event.EventID()]; ok {
			return pos, nil
		}
		powerLevelsID, err := r.powerLevelsAuthEvent(event)
		if err != nil || powerLevelsID == "" {
			return 0, err
		}
		if event, err = r.event(powerLevelsID, event.EventID()); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// powerLevelsAuthEvent returns the ID of the first m.room.power_levels event
// in the auth events of the event, or the empty string if there is none.
func (r *stateResolverV2) powerLevelsAuthEvent(event Event) (string, error) {
	for _, authEventID := range event.AuthEventIDs() {
		authEvent, err := r.event(authEventID, event.EventID())
		if err != nil {
			return "", err
		}
		if authEvent.Type() == spec.MRoomPowerLevels && authEvent.StateKeyEquals("") {
			return authEventID, nil
		}
	}
	return "", nil
}
