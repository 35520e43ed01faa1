package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/matrix-org/gomatrixstateres"
	"github.com/matrix-org/gomatrixstateres/spec"
)

// A fixture is a room described in YAML: its events and the forks of state
// to resolve, each given as a list of event IDs.
type fixture struct {
	RoomVersion gomatrixstateres.RoomVersion `yaml:"room_version"`
	Events      []fixtureEvent               `yaml:"events"`
	StateSets   [][]string                   `yaml:"state_sets"`
}

type fixtureEvent struct {
	EventID        string  `yaml:"event_id"`
	RoomID         string  `yaml:"room_id"`
	Sender         string  `yaml:"sender"`
	Type           string  `yaml:"type"`
	StateKey       *string `yaml:"state_key"`
	OriginServerTS uint64  `yaml:"origin_server_ts"`
	// Content is the event content as a JSON string.
	Content    string   `yaml:"content"`
	PrevEvents []string `yaml:"prev_events"`
	AuthEvents []string `yaml:"auth_events"`
	Redacts    string   `yaml:"redacts"`
	Rejected   bool     `yaml:"rejected"`
}

func loadFixture(path string) (*fixture, error) {
	fixtureYAML, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fixture
	if err = yaml.UnmarshalStrict(fixtureYAML, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return &f, nil
}

func (f *fixture) eventMap() gomatrixstateres.EventMap {
	events := make([]gomatrixstateres.Event, len(f.Events))
	for i, e := range f.Events {
		events[i] = gomatrixstateres.ProtoEvent{
			ID:         e.EventID,
			Room:       e.RoomID,
			SenderID:   e.Sender,
			Timestamp:  spec.Timestamp(e.OriginServerTS),
			EventType:  e.Type,
			Key:        e.StateKey,
			RawContent: spec.RawJSON(e.Content),
			Prev:       e.PrevEvents,
			Auth:       e.AuthEvents,
			Target:     e.Redacts,
			IsRejected: e.Rejected,
		}
	}
	return gomatrixstateres.NewEventMap(events)
}

// resolution turns the fixture into the inputs of Resolve, working out the
// slot of every state event and the auth chain of every fork.
func (f *fixture) resolution(ctx context.Context, defaultVersion gomatrixstateres.RoomVersion) (*gomatrixstateres.RoomResolution, error) {
	events := f.eventMap()
	request := &gomatrixstateres.RoomResolution{
		RoomVersion: f.RoomVersion,
		Provider:    events,
	}
	if request.RoomVersion == "" {
		request.RoomVersion = defaultVersion
	}
	for i, eventIDs := range f.StateSets {
		stateSet := make(gomatrixstateres.StateMap, len(eventIDs))
		for _, eventID := range eventIDs {
			event := events.Get(eventID)
			if event == nil {
				return nil, fmt.Errorf("state set %d: unknown event %s", i, eventID)
			}
			if event.StateKey() == nil {
				return nil, fmt.Errorf("state set %d: event %s is not a state event", i, eventID)
			}
			if request.RoomID == "" {
				request.RoomID = event.RoomID()
			}
			stateSet[gomatrixstateres.StateKeyTuple{EventType: event.Type(), StateKey: *event.StateKey()}] = eventID
		}
		authChain, err := gomatrixstateres.AuthChain(ctx, events, eventIDs)
		if err != nil {
			return nil, fmt.Errorf("state set %d: %w", i, err)
		}
		chain := authChain.Slice()
		sort.Strings(chain)
		request.StateSets = append(request.StateSets, stateSet)
		request.AuthChainSets = append(request.AuthChainSets, chain)
	}
	return request, nil
}
