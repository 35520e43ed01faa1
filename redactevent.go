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
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// topLevelKeys are the keys every room version keeps when redacting.
var topLevelKeys = []string{
	"event_id", "type", "room_id", "sender", "state_key", "content", "hashes",
	"signatures", "depth", "prev_events", "auth_events", "origin_server_ts",
}

// redactedContentKeys returns the content keys that survive redaction for
// an event type. Nested keys are sjson paths.
func redactedContentKeys(eventType string, rules RedactionRules) []string {
	switch eventType {
	case spec.MRoomMember:
		keys := []string{"membership"}
		if rules.KeepRoomMemberJoinAuthorisedViaUsersServer {
			keys = append(keys, "join_authorised_via_users_server")
		}
		if rules.KeepRoomMemberThirdPartyInviteSigned {
			keys = append(keys, "third_party_invite.signed")
		}
		return keys
	case spec.MRoomCreate:
		// With KeepRoomCreateContent the caller keeps the whole content.
		return []string{"creator"}
	case spec.MRoomJoinRules:
		if rules.KeepRoomJoinRulesAllow {
			return []string{"join_rule", "allow"}
		}
		return []string{"join_rule"}
	case spec.MRoomPowerLevels:
		keys := []string{
			"ban", "events", "events_default", "kick", "redact", "state_default", "users", "users_default",
		}
		if rules.KeepRoomPowerLevelsInvite {
			keys = append(keys, "invite")
		}
		return keys
	case spec.MRoomAliases:
		if rules.KeepRoomAliasesAliases {
			return []string{"aliases"}
		}
	case spec.MRoomHistoryVisibility:
		return []string{"history_visibility"}
	case spec.MRoomRedaction:
		if rules.KeepRoomRedactionRedacts {
			return []string{"redacts"}
		}
	}
	return nil
}

// RedactContent strips the user controlled keys from the content of an
// event of the given type, leaving the keys the authorisation rules need.
// https://spec.matrix.org/v1.8/rooms/v11/#redactions
func RedactContent(eventType string, content []byte, rules RedactionRules) ([]byte, error) {
	if !gjson.ValidBytes(content) {
		return nil, badJSONf("event content is not valid JSON")
	}
	root := gjson.ParseBytes(content)
	if !root.IsObject() {
		return nil, badJSONf("event content is not a JSON object")
	}
	if eventType == spec.MRoomCreate && rules.KeepRoomCreateContent {
		return CompactJSON(content, make([]byte, 0, len(content))), nil
	}

	redacted := []byte("{}")
	for _, path := range redactedContentKeys(eventType, rules) {
		value := root.Get(path)
		if !value.Exists() {
			continue
		}
		var err error
		if redacted, err = sjson.SetRawBytes(redacted, path, []byte(value.Raw)); err != nil {
			return nil, BadJSONError{err}
		}
	}
	return redacted, nil
}

// RedactEventJSON strips the user controlled fields from an event, but leaves the
// fields necessary for authenticating the event.
func RedactEventJSON(eventJSON []byte, rules RedactionRules) ([]byte, error) {
	if !gjson.ValidBytes(eventJSON) {
		return nil, badJSONf("event is not valid JSON")
	}
	root := gjson.ParseBytes(eventJSON)
	if !root.IsObject() {
		return nil, badJSONf("event is not a JSON object")
	}
	eventType := root.Get("type")
	if eventType.Type != gjson.String {
		return nil, badJSONf("event has no type")
	}

	keys := topLevelKeys
	if rules.KeepOriginMembershipAndPrevState {
		keys = append(keys[:len(keys):len(keys)], "origin", "membership", "prev_state")
	}
	redacted := []byte("{}")
	var err error
	for _, key := range keys {
		value := root.Get(gjson.Escape(key))
		if !value.Exists() {
			continue
		}
		raw := []byte(value.Raw)
		if key == "content" {
			if raw, err = RedactContent(eventType.Str, raw, rules); err != nil {
				return nil, err
			}
		}
		if redacted, err = sjson.SetRawBytes(redacted, key, raw); err != nil {
			return nil, BadJSONError{err}
		}
	}
	if !root.Get("content").Exists() {
		// Every redacted event has a content key, even if it is empty.
		if redacted, err = sjson.SetRawBytes(redacted, "content", []byte("{}")); err != nil {
			return nil, BadJSONError{err}
		}
	}
	return redacted, nil
}
