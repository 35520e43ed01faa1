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
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-set"
	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// ErrEventNotFound is returned by an EventMap for events it does not hold.
var ErrEventNotFound = errors.New("event not found")

// EventProvider supplies events to state resolution. It is usually backed
// by the host's event store. Implementations must return the same event for
// the same ID for the duration of a resolution.
type EventProvider interface {
	Event(ctx context.Context, eventID string) (Event, error)
}

// EventProviderFunc adapts a function to an EventProvider.
type EventProviderFunc func(ctx context.Context, eventID string) (Event, error)

// Event implements EventProvider
func (f EventProviderFunc) Event(ctx context.Context, eventID string) (Event, error) {
	return f(ctx, eventID)
}

// EventMap is an EventProvider backed by a map of event ID to event.
type EventMap map[string]Event

// NewEventMap returns an EventMap holding the given events.
func NewEventMap(events []Event) EventMap {
	m := make(EventMap, len(events))
	for _, e := range events {
		if _, ok := m[e.EventID()]; !ok {
			m[e.EventID()] = e
		}
	}
	return m
}

// Event implements EventProvider
func (m EventMap) Event(_ context.Context, eventID string) (Event, error) {
	if e, ok := m[eventID]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
}

// Get returns the event with the given ID, or nil.
func (m EventMap) Get(eventID string) Event {
	return m[eventID]
}

// ResolvedState is the outcome of state resolution.
type ResolvedState struct {
	// State is the resolved state of the room.
	State StateMap
	// Rejected lists, sorted, the conflicted events that failed the
	// authorisation rules while being replayed. They are not part of State.
	Rejected []string
}

// A ResolveOption changes how Resolve behaves.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	authCheckOptions    []AuthCheckOption
	overlayUnconflicted bool
	metrics             *Metrics
}

// WithUnconflictedOverlay makes state resolution v2 lay the unconflicted
// state over the resolved state as it is, the way ruma and Synapse do.
// Without it every unconflicted event is re-authorised against the resolved
// state, and the ones that no longer pass are left out of the result and
// reported as rejected.
func WithUnconflictedOverlay() ResolveOption {
	return func(c *resolveConfig) {
		c.overlayUnconflicted = true
	}
}

// WithAuthCheckOptions passes options to every authorisation check made
// during resolution.
func WithAuthCheckOptions(opts ...AuthCheckOption) ResolveOption {
	return func(c *resolveConfig) {
		c.authCheckOptions = append(c.authCheckOptions, opts...)
	}
}

// WithMetrics records resolutions in the given metrics.
func WithMetrics(metrics *Metrics) ResolveOption {
	return func(c *resolveConfig) {
		c.metrics = metrics
	}
}

// Resolve works out the state of a room from several forks of its state.
//
// stateSets holds the state of each fork. authChainSets holds, for each
// fork, the IDs of the full auth chain of that fork's state; these can be
// computed with AuthChain. The provider must be able to supply every event
// those refer to.
//
// Slots that hold the same event in every fork are unconflicted. The others
// are resolved with the algorithm of the room version, and conflicted events
// that fail the authorisation rules along the way are returned as rejected.
// If an event needed to order or authorise the conflicted events cannot be
// provided, resolution fails with a MissingEventError.
func Resolve(
	ctx context.Context,
	roomVersion RoomVersion,
	stateSets []StateMap,
	authChainSets [][]string,
	provider EventProvider,
	opts ...ResolveOption,
) (*ResolvedState, error) {
	rules, err := GetRoomVersionRules(roomVersion)
	if err != nil {
		return nil, err
	}
	r := newResolver(ctx, rules, provider, opts...)
	r.logger = r.logger.WithField("state_sets", len(stateSets))

	started := time.Now()
	unconflicted, conflicted := splitConflicted(stateSets)
	if len(conflicted) == 0 {
		r.logger.Debug("No conflicted state to resolve")
		r.config.metrics.observeResolution(rules.StateResAlgorithm, started, 0, 0, nil)
		return &ResolvedState{State: unconflicted}, nil
	}
	r.logger.WithFields(logrus.Fields{
		"unconflicted": len(unconflicted),
		"conflicted":   len(conflicted),
	}).Debug("Resolving conflicted state")

	var state StateMap
	switch rules.StateResAlgorithm {
	case StateResV1:
		state, err = r.resolveV1(unconflicted, conflicted)
	case StateResV2:
		state, err = r.resolveV2(unconflicted, conflicted, authChainSets)
	default:
		err = UnsupportedRoomVersionError{Version: roomVersion}
	}
	r.config.metrics.observeResolution(rules.StateResAlgorithm, started, len(conflicted), r.rejected.Size(), err)
	if err != nil {
		return nil, err
	}

	resolved := &ResolvedState{State: state}
	if r.rejected.Size() > 0 {
		resolved.Rejected = r.rejected.Slice()
		sort.Strings(resolved.Rejected)
		r.logger.WithField("rejected", len(resolved.Rejected)).Info("Events rejected during state resolution")
	}
	return resolved, nil
}

// splitConflicted splits the forks of state into the slots that hold the
// same event in every fork, and the rest. Conflicted slots map to the sorted
// distinct event IDs found in them. A slot missing from some fork is
// conflicted.
func splitConflicted(stateSets []StateMap) (StateMap, map[StateKeyTuple][]string) {
	occurrences := make(map[StateKeyTuple]map[string]int)
	for _, stateSet := range stateSets {
		for tuple, eventID := range stateSet {
			ids, ok := occurrences[tuple]
			if !ok {
				ids = make(map[string]int, 1)
				occurrences[tuple] = ids
			}
			ids[eventID]++
		}
	}

	unconflicted := make(StateMap, len(occurrences))
	conflicted := make(map[StateKeyTuple][]string)
	for tuple, ids := range occurrences {
		if len(ids) == 1 {
			for eventID, count := range ids {
				if count == len(stateSets) {
					unconflicted[tuple] = eventID
				}
			}
			if _, ok := unconflicted[tuple]; ok {
				continue
			}
		}
		candidates := make([]string, 0, len(ids))
		for eventID := range ids {
			candidates = append(candidates, eventID)
		}
		sort.Strings(candidates)
		conflicted[tuple] = candidates
	}
	return unconflicted, conflicted
}

// resolver holds what both resolution algorithms share: the fetched events,
// the rules of the room version and the set of rejected events.
type resolver struct {
	ctx      context.Context
	rules    RoomVersionRules
	provider EventProvider
	logger   *logrus.Entry
	config   resolveConfig

	events   map[string]Event  // Events fetched so far
	creators map[string]string // Creator by m.room.create event ID
	rejected *set.Set[string]
}

func newResolver(ctx context.Context, rules RoomVersionRules, provider EventProvider, opts ...ResolveOption) *resolver {
	r := &resolver{
		ctx:      ctx,
		rules:    rules,
		provider: provider,
		logger:   util.GetLogger(ctx).WithField("room_version", rules.Version),
		events:   make(map[string]Event),
		creators: make(map[string]string),
		rejected: set.New[string](0),
	}
	for _, opt := range opts {
		opt(&r.config)
	}
	return r
}

// event fetches an event, which must exist. forEventID names the event that
// needed it, if any, for the error.
func (r *resolver) event(eventID, forEventID string) (Event, error) {
	if event, ok := r.events[eventID]; ok {
		return event, nil
	}
	if err := r.ctx.Err(); err != nil {
		return nil, fmt.Errorf("gomatrixstateres: state resolution cancelled: %w", err)
	}
	event, err := r.provider.Event(r.ctx, eventID)
	if err != nil {
		return nil, MissingEventError{EventID: eventID, ForEventID: forEventID, Err: err}
	}
	r.events[eventID] = event
	return event, nil
}

// tryEvent fetches an event that is allowed to be missing. It returns nil
// if the provider cannot supply it.
func (r *resolver) tryEvent(eventID string) Event {
	event, err := r.event(eventID, "")
	if err != nil {
		return nil
	}
	return event
}

// stateEvent fetches an event that a state map filed under the given slot,
// and checks that it belongs there.
func (r *resolver) stateEvent(tuple StateKeyTuple, eventID string) (Event, error) {
	event, err := r.event(eventID, "")
	if err != nil {
		return nil, err
	}
	if actual, ok := stateKeyTupleOf(event); !ok || actual != tuple {
		return nil, InvalidStateMapError{Tuple: tuple, EventID: eventID}
	}
	return event, nil
}

// creator returns the creator named by a m.room.create event, caching the
// answer.
func (r *resolver) creator(create Event) (string, error) {
	if creator, ok := r.creators[create.EventID()]; ok {
		return creator, nil
	}
	creator, err := RoomCreateEvent{create}.Creator(r.rules.Authorization)
	if err != nil {
		return "", err
	}
	r.creators[create.EventID()] = creator
	return creator, nil
}

// senderPowerLevel works out the power level of the sender of an event at
// the time it was sent, from the m.room.power_levels and m.room.create
// events among its auth events. Auth events that cannot be fetched are
// skipped. Malformed power levels count as level 0.
func (r *resolver) senderPowerLevel(event Event) int64 {
	var powerLevels, create Event
	for _, authEventID := range event.AuthEventIDs() {
		authEvent := r.tryEvent(authEventID)
		if authEvent == nil || !authEvent.StateKeyEquals("") {
			continue
		}
		switch authEvent.Type() {
		case spec.MRoomPowerLevels:
			powerLevels = authEvent
		case spec.MRoomCreate:
			create = authEvent
		}
	}

	var creator string
	if powerLevels == nil && create != nil {
		var err error
		if creator, err = r.creator(create); err != nil {
			r.logger.WithError(err).WithField("event_id", create.EventID()).Warn("Failed to find room creator")
		}
	}
	level, err := userPowerLevel(powerLevels, event.Sender(), creator, r.rules.Authorization)
	if err != nil {
		r.logger.WithError(err).WithField("event_id", event.EventID()).Warn("Failed to read sender power level")
		return 0
	}
	return level
}

// authCheck checks an event against a partially resolved state. The event's
// own auth events are used first, then the slots it needs from the state
// are laid on top. Auth events that cannot be fetched or were rejected are
// skipped. It returns false if the event is not allowed, and only returns an
// error if the event itself cannot be fetched.
func (r *resolver) authCheck(eventID string, state StateMap) (bool, error) {
	event, err := r.event(eventID, "")
	if err != nil {
		return false, err
	}
	logger := r.logger.WithField("event_id", eventID)

	authEvents := NewAuthEvents(nil)
	for _, authEventID := range event.AuthEventIDs() {
		authEvent := r.tryEvent(authEventID)
		if authEvent == nil {
			logger.WithField("auth_event_id", authEventID).Warn("Auth event not found")
			continue
		}
		if !authEvent.Rejected() {
			authEvents.AddEvent(authEvent) // nolint: errcheck
		}
	}

	authTypes, err := AuthTypesForEvent(event.Type(), event.Sender(), event.StateKey(), event.Content(), r.rules.Authorization)
	if err != nil {
		logger.WithError(err).Warn("Failed to work out auth types for event")
		return false, nil
	}
	for _, tuple := range authTypes {
		stateEventID, ok := state[tuple]
		if !ok {
			continue
		}
		stateEvent := r.tryEvent(stateEventID)
		if stateEvent == nil {
			logger.WithField("auth_event_id", stateEventID).Warn("State event needed for auth not found")
			continue
		}
		if !stateEvent.Rejected() {
			authEvents.AddEvent(stateEvent) // nolint: errcheck
		}
	}

	if err = CheckStateDependentAuthRules(r.rules.Authorization, event, &authEvents, r.config.authCheckOptions...); err != nil {
		logger.WithError(err).Warn("Event not allowed during state resolution")
		return false, nil
	}
	return true, nil
}

// iterativeAuthChecks authorises the events in order, each against the
// state that the events before it produced, starting from the given state.
// Events that pass are applied to the state, the others are rejected.
func (r *resolver) iterativeAuthChecks(eventIDs []string, state StateMap) (StateMap, error) {
	state = state.Clone()
	for _, eventID := range eventIDs {
		allowed, err := r.authCheck(eventID, state)
		if err != nil {
			return nil, err
		}
		if !allowed {
			r.rejected.Insert(eventID)
			continue
		}
		tuple, ok := stateKeyTupleOf(r.events[eventID])
		if !ok {
			r.logger.WithField("event_id", eventID).Warn("Ignoring non-state event during state resolution")
			continue
		}
		state[tuple] = eventID
	}
	return state, nil
}
