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
	"sync/atomic"
	"testing"

	"github.com/matrix-org/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/gomatrixstateres/spec"
)

func TestSplitConflicted(t *testing.T) {
	create := StateKeyTuple{spec.MRoomCreate, ""}
	topic := StateKeyTuple{spec.MRoomTopic, ""}
	name := StateKeyTuple{spec.MRoomName, ""}
	alice := StateKeyTuple{spec.MRoomMember, ALICE}

	unconflicted, conflicted := splitConflicted([]StateMap{
		{create: "$create", topic: "$topic2", name: "$name", alice: "$alice"},
		{create: "$create", topic: "$topic1", alice: "$alice"},
		{create: "$create", topic: "$topic2", alice: "$alice"},
	})
	assert.Equal(t, StateMap{create: "$create", alice: "$alice"}, unconflicted)
	assert.Equal(t, map[StateKeyTuple][]string{
		topic: {"$topic1", "$topic2"},
		// Missing from a fork counts as a conflict.
		name: {"$name"},
	}, conflicted)

	unconflicted, conflicted = splitConflicted(nil)
	assert.Empty(t, unconflicted)
	assert.Empty(t, conflicted)
}

func TestEventMap(t *testing.T) {
	first := stateEvent("$a:example.com", ALICE, spec.MRoomTopic, &emptyStateKey, 1, `{"topic": "first"}`)
	second := stateEvent("$a:example.com", BOB, spec.MRoomTopic, &emptyStateKey, 2, `{"topic": "second"}`)
	events := NewEventMap([]Event{first, second})

	event, err := events.Event(context.Background(), "$a:example.com")
	require.NoError(t, err)
	assert.Equal(t, ALICE, event.Sender(), "the first event with an ID is kept")

	_, err = events.Event(context.Background(), "$b:example.com")
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Nil(t, events.Get("$b:example.com"))
}

func TestResolveUnsupportedRoomVersion(t *testing.T) {
	_, err := Resolve(context.Background(), "unknown", nil, nil, EventMap{})
	var unsupported UnsupportedRoomVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, RoomVersion("unknown"), unsupported.Version)
}

func TestResolveNoStateSets(t *testing.T) {
	result, err := Resolve(context.Background(), RoomVersionV10, nil, nil, EventMap{})
	require.NoError(t, err)
	assert.Empty(t, result.State)
	assert.Nil(t, result.Rejected)
}

func TestResolveWithoutConflictsNeedsNoEvents(t *testing.T) {
	var calls int32
	provider := EventProviderFunc(func(ctx context.Context, eventID string) (Event, error) {
		atomic.AddInt32(&calls, 1)
		return nil, ErrEventNotFound
	})
	state := StateMap{{spec.MRoomCreate, ""}: "$CREATE:example.com"}
	result, err := Resolve(context.Background(), RoomVersionV10, []StateMap{state, state}, nil, provider)
	require.NoError(t, err)
	assert.Equal(t, state, result.State)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestResolveLogsRejections(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	ctx := util.ContextWithLogger(context.Background(), logrus.NewEntry(logger))

	events, stateSets := banVsPowerLevel(t)
	_, err := Resolve(ctx, RoomVersionV10, stateSets, authChainsOf(t, events, stateSets), events)
	require.NoError(t, err)

	var found bool
	for _, entry := range hook.AllEntries() {
		assert.Equal(t, RoomVersionV10, entry.Data["room_version"])
		if entry.Message == "Event not allowed during state resolution" {
			found = true
			assert.Equal(t, "$IME:example.com", entry.Data["event_id"])
		}
	}
	assert.True(t, found, "expected the rejection to be logged")
}

func TestResolveMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	events, stateSets := banVsPowerLevel(t)
	_, err = resolveForks(t, RoomVersionV10, events, stateSets, WithMetrics(metrics))
	require.NoError(t, err)
	_, err = Resolve(context.Background(), RoomVersionV10, stateSets, nil, EventMap{}, WithMetrics(metrics))
	require.Error(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			for _, label := range metric.GetLabel() {
				name += "," + label.GetName() + "=" + label.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[name] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				values[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, map[string]float64{
		"gomatrixstateres_resolutions_total,algorithm=v2,outcome=ok":    1,
		"gomatrixstateres_resolutions_total,algorithm=v2,outcome=error": 1,
		"gomatrixstateres_resolution_duration_seconds,algorithm=v2":     2,
		"gomatrixstateres_conflicted_slots":                             2,
		"gomatrixstateres_rejected_events_total":                        1,
	}, values)

	// Registering twice fails.
	_, err = NewMetrics(registry)
	assert.Error(t, err)
}

func TestResolveRooms(t *testing.T) {
	banEvents, banStateSets := banVsPowerLevel(t)
	topicEvents, topicStateSets := topicRoom(t, `{"users": {"`+ALICE+`": 100, "`+BOB+`": 0}}`)
	requests := []RoomResolution{
		{
			RoomID:        "!ban:example.com",
			RoomVersion:   RoomVersionV10,
			StateSets:     banStateSets,
			AuthChainSets: authChainsOf(t, banEvents, banStateSets),
			Provider:      banEvents,
		},
		{
			RoomID:        "!topic:example.com",
			RoomVersion:   RoomVersionV10,
			StateSets:     topicStateSets,
			AuthChainSets: authChainsOf(t, topicEvents, topicStateSets),
			Provider:      topicEvents,
		},
	}

	for _, concurrency := range []int{0, 1, 4} {
		results, err := ResolveRooms(context.Background(), requests, concurrency)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, []string{"$IME:example.com"}, results[0].Rejected)
		assert.Equal(t, []string{"$T2:example.com"}, results[1].Rejected)
	}

	requests[1].RoomVersion = "unknown"
	_, err := ResolveRooms(context.Background(), requests, 2)
	var unsupported UnsupportedRoomVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Contains(t, err.Error(), "!topic:example.com")
}
