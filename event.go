/* Copyright 2016-2017 Vector Creations Ltd
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gomatrixstateres

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// A ProtoEvent is a plain, fully materialised event. It has value receivers
// so that both ProtoEvent and *ProtoEvent satisfy Event, which lets callers
// keep events in whichever form suits their storage.
type ProtoEvent struct {
	ID         string         `json:"event_id"`
	Room       string         `json:"room_id"`
	SenderID   string         `json:"sender"`
	Timestamp  spec.Timestamp `json:"origin_server_ts"`
	EventType  string         `json:"type"`
	Key        *string        `json:"state_key,omitempty"`
	RawContent spec.RawJSON   `json:"content"`
	Prev       []string       `json:"prev_events"`
	Auth       []string       `json:"auth_events"`
	Target     string         `json:"redacts,omitempty"`
	IsRejected bool           `json:"-"`
}

func (e ProtoEvent) EventID() string { return e.ID }
func (e ProtoEvent) RoomID() string { return e.Room }
func (e ProtoEvent) Sender() string { return e.SenderID }
func (e ProtoEvent) OriginServerTS() spec.Timestamp { return e.Timestamp }
func (e ProtoEvent) Type() string { return e.EventType }
func (e ProtoEvent) StateKey() *string { return e.Key }
func (e ProtoEvent) PrevEventIDs() []string { return e.Prev }
func (e ProtoEvent) AuthEventIDs() []string { return e.Auth }
func (e ProtoEvent) Redacts() string { return e.Target }
func (e ProtoEvent) Rejected() bool { return e.IsRejected }

// Content returns the event content, or an empty JSON object if none was set.
func (e ProtoEvent) Content() []byte {
	if len(e.RawContent) == 0 {
		return []byte("{}")
	}
	return e.RawContent
}

// StateKeyEquals returns true if the event is a state event with the given
// state key.
func (e ProtoEvent) StateKeyEquals(s string) bool {
	return e.Key != nil && *e.Key == s
}

// A RawEvent wraps the JSON of an event owned by someone else, typically an
// event store, and reads fields out of it on demand. The JSON is not copied
// so it must not be modified while the RawEvent is in use.
type RawEvent struct {
	eventID   string
	eventJSON []byte
	rejected  bool
}

// NewRawEvent wraps the given event JSON. Event IDs are not part of the
// event JSON from room version 3 onwards, so the caller supplies the ID it
// computed; if eventID is empty then the "event_id" key is used instead.
func NewRawEvent(eventID string, eventJSON []byte, rejected bool) (*RawEvent, error) {
	if !gjson.ValidBytes(eventJSON) {
		return nil, BadJSONError{fmt.Errorf("event %q is not valid JSON", eventID)}
	}
	root := gjson.ParseBytes(eventJSON)
	if !root.IsObject() {
		return nil, BadJSONError{fmt.Errorf("event %q is not a JSON object", eventID)}
	}
	if eventID == "" {
		id := root.Get("event_id")
		if id.Type != gjson.String || id.Str == "" {
			return nil, BadJSONError{fmt.Errorf("event has no event ID")}
		}
		eventID = id.Str
	}
	for _, key := range []string{"room_id", "sender", "type"} {
		if root.Get(key).Type != gjson.String {
			return nil, BadJSONError{fmt.Errorf("event %q: missing or invalid %q", eventID, key)}
		}
	}
	return &RawEvent{
		eventID:   eventID,
		eventJSON: eventJSON,
		rejected:  rejected,
	}, nil
}

// JSON returns the wrapped event JSON.
func (e *RawEvent) JSON() []byte {
	return e.eventJSON
}

func (e *RawEvent) get(path string) gjson.Result {
	return gjson.GetBytes(e.eventJSON, path)
}

func (e *RawEvent) EventID() string { return e.eventID }
func (e *RawEvent) RoomID() string { return e.get("room_id").Str }
func (e *RawEvent) Sender() string { return e.get("sender").Str }
func (e *RawEvent) Type() string { return e.get("type").Str }
func (e *RawEvent) Rejected() bool { return e.rejected }

// OriginServerTS returns the "origin_server_ts", or zero if it is missing or
// negative.
func (e *RawEvent) OriginServerTS() spec.Timestamp {
	ts := e.get("origin_server_ts")
	if ts.Type != gjson.Number || ts.Int() < 0 {
		return 0
	}
	return spec.Timestamp(ts.Uint())
}

func (e *RawEvent) StateKey() *string {
	sk := e.get("state_key")
	if sk.Type != gjson.String {
		return nil
	}
	stateKey := sk.Str
	return &stateKey
}

func (e *RawEvent) StateKeyEquals(s string) bool {
	sk := e.get("state_key")
	return sk.Type == gjson.String && sk.Str == s
}

// Content returns the raw "content" object, or an empty JSON object if the
// event has none.
func (e *RawEvent) Content() []byte {
	content := e.get("content")
	if !content.IsObject() {
		return []byte("{}")
	}
	if content.Index > 0 {
		return e.eventJSON[content.Index : content.Index+len(content.Raw)]
	}
	return []byte(content.Raw)
}

// Redacts returns the redaction target. Room version 11 moved "redacts" into
// the content, so both places are checked.
func (e *RawEvent) Redacts() string {
	if redacts := e.get("redacts"); redacts.Type == gjson.String {
		return redacts.Str
	}
	if redacts := e.get("content.redacts"); redacts.Type == gjson.String {
		return redacts.Str
	}
	return ""
}

func (e *RawEvent) PrevEventIDs() []string {
	return referencedEventIDs(e.get("prev_events"))
}

func (e *RawEvent) AuthEventIDs() []string {
	return referencedEventIDs(e.get("auth_events"))
}

// referencedEventIDs reads a list of event references. Room versions 1 and 2
// use [event_id, {hashes}] pairs, later versions use plain event IDs.
func referencedEventIDs(refs gjson.Result) []string {
	if !refs.IsArray() {
		return nil
	}
	items := refs.Array()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.IsArray() {
			item = item.Get("0")
		}
		if item.Type == gjson.String {
			ids = append(ids, item.Str)
		}
	}
	return ids
}
