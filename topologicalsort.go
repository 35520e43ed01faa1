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
	"fmt"
	"sort"

	"github.com/hashicorp/go-set"
	"github.com/oleiade/lane/v2"
)

// An EventGraph maps each event ID to the IDs of the events it depends on,
// usually its auth events. Every node must have an entry, even if it has no
// dependencies. Dependencies on IDs that are not nodes of the graph are
// ignored.
type EventGraph map[string]*set.Set[string]

// AddEdge records that eventID depends on dependsOn, adding eventID as a
// node. dependsOn only takes part in the sort if it is added as a node too.
func (g EventGraph) AddEdge(eventID, dependsOn string) {
	g.AddNode(eventID)
	g[eventID].Insert(dependsOn)
}

// AddNode adds an event to the graph without any dependencies. It is a
// no-op if the event is already a node.
func (g EventGraph) AddNode(eventID string) {
	if _, ok := g[eventID]; !ok {
		g[eventID] = set.New[string](0)
	}
}

// A CycleError is returned when a graph cannot be sorted because some of its
// events depend on each other.
type CycleError struct {
	EventIDs []string
}

func (e CycleError) Error() string {
	return fmt.Sprintf("gomatrixstateres: event graph contains a cycle through %d events, including %q", len(e.EventIDs), e.EventIDs[0])
}

// LexicographicalTopologicalSort sorts the graph so that every event comes
// after all of the events it depends on. Whenever more than one event is
// ready, the one with the lexicographically smallest key is taken first,
// which makes the result independent of map iteration order.
//
// This is Kahn's algorithm: start with the events with no outgoing edges
// and, as each is placed, release the events that were waiting on it.
func LexicographicalTopologicalSort(graph EventGraph, key func(eventID string) (string, error)) ([]string, error) {
	outDegree := make(map[string]int, len(graph))
	dependents := make(map[string][]string, len(graph))
	for eventID, deps := range graph {
		count := 0
		for _, dep := range deps.Slice() {
			if _, ok := graph[dep]; !ok {
				continue
			}
			count++
			dependents[dep] = append(dependents[dep], eventID)
		}
		outDegree[eventID] = count
	}

	ready := lane.NewMinPriorityQueue[string, string]()
	push := func(eventID string) error {
		k, err := key(eventID)
		if err != nil {
			return fmt.Errorf("gomatrixstateres.LexicographicalTopologicalSort: sort key for %s: %w", eventID, err)
		}
		ready.Push(eventID, k)
		return nil
	}
	for eventID, count := range outDegree {
		if count == 0 {
			if err := push(eventID); err != nil {
				return nil, err
			}
		}
	}

	sorted := make([]string, 0, len(graph))
	for !ready.Empty() {
		eventID, _, _ := ready.Pop()
		sorted = append(sorted, eventID)
		for _, parent := range dependents[eventID] {
			outDegree[parent]--
			if outDegree[parent] == 0 {
				if err := push(parent); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(sorted) != len(graph) {
		var stuck []string
		for eventID, count := range outDegree {
			if count > 0 {
				stuck = append(stuck, eventID)
			}
		}
		sort.Strings(stuck)
		return nil, CycleError{EventIDs: stuck}
	}
	return sorted, nil
}

// TopologicalOrder represents how to sort a list of events, used primarily in ReverseTopologicalOrdering
type TopologicalOrder int

// Sort events by prev_events or auth_events
const (
	TopologicalOrderByPrevEvents TopologicalOrder = iota + 1
	TopologicalOrderByAuthEvents
)

// ReverseTopologicalOrdering takes a set of input events and sorts them
// using Kahn's algorithm in order to topologically order them. The
// result array of events will be sorted so that "earlier" events appear
// first. Only references between the given events count. Events that are
// not ordered by a reference are sorted by origin_server_ts, then event ID.
func ReverseTopologicalOrdering(events []Event, order TopologicalOrder) ([]Event, error) {
	references := Event.AuthEventIDs
	switch order {
	case TopologicalOrderByAuthEvents:
	case TopologicalOrderByPrevEvents:
		references = Event.PrevEventIDs
	default:
		return nil, fmt.Errorf("gomatrixstateres.ReverseTopologicalOrdering: unknown order %d", order)
	}

	eventMap := make(map[string]Event, len(events))
	graph := make(EventGraph, len(events))
	for _, event := range events {
		eventMap[event.EventID()] = event
		graph.AddNode(event.EventID())
	}
	for _, event := range events {
		for _, ref := range references(event) {
			if _, ok := eventMap[ref]; ok {
				graph.AddEdge(event.EventID(), ref)
			}
		}
	}

	sorted, err := LexicographicalTopologicalSort(graph, func(eventID string) (string, error) {
		return fmt.Sprintf("%016x%s", sortable(int64(eventMap[eventID].OriginServerTS())), eventID), nil
	})
	if err != nil {
		return nil, err
	}
	result := make([]Event, len(sorted))
	for i, eventID := range sorted {
		result[i] = eventMap[eventID]
	}
	return result, nil
}
