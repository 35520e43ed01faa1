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
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// The largest integer that can be represented exactly by a JSON number in
// most implementations, (2^53)-1. Power levels outside of the range are
// rejected.
const maxPowerLevel = 1<<53 - 1

// The power level of the room creator when there is no m.room.power_levels
// event in the room.
const defaultCreatorPowerLevel = 100

// contentRoot parses the content of an event. Each accessor below reads a
// single field so that malformed fields only matter to the checks that need
// them.
func contentRoot(event Event) (gjson.Result, error) {
	content := event.Content()
	if !gjson.ValidBytes(content) {
		return gjson.Result{}, badJSONf("malformed %s content in event %s", event.Type(), event.EventID())
	}
	root := gjson.ParseBytes(content)
	if !root.IsObject() {
		return gjson.Result{}, badJSONf("%s content in event %s is not an object", event.Type(), event.EventID())
	}
	return root, nil
}

// contentField returns the value of a top-level content key. The key is
// escaped so that keys with dots such as "m.federate" are read literally.
func contentField(event Event, key string) (gjson.Result, error) {
	root, err := contentRoot(event)
	if err != nil {
		return gjson.Result{}, err
	}
	return root.Get(gjson.Escape(key)), nil
}

// RoomCreateEvent reads the content of a m.room.create event.
// See https://spec.matrix.org/v1.8/client-server-api/#mroomcreate
type RoomCreateEvent struct {
	Event
}

// RoomVersion returns the "room_version" of the room. Rooms without the key
// are version 1.
func (c RoomCreateEvent) RoomVersion() (RoomVersion, error) {
	version, err := contentField(c, "room_version")
	if err != nil {
		return "", err
	}
	switch version.Type {
	case gjson.Null:
		return RoomVersionV1, nil
	case gjson.String:
		return RoomVersion(version.Str), nil
	}
	return "", badJSONf("invalid room_version in create event %s", c.EventID())
}

// Federate returns the "m.federate" flag, which defaults to true.
func (c RoomCreateEvent) Federate() (bool, error) {
	federate, err := contentField(c, "m.federate")
	if err != nil {
		return false, err
	}
	switch federate.Type {
	case gjson.Null:
		return true, nil
	case gjson.True, gjson.False:
		return federate.Bool(), nil
	}
	return false, badJSONf("invalid m.federate in create event %s", c.EventID())
}

// HasCreator returns true if the content has a "creator" key.
func (c RoomCreateEvent) HasCreator() (bool, error) {
	creator, err := contentField(c, "creator")
	if err != nil {
		return false, err
	}
	return creator.Exists(), nil
}

// Creator returns the user ID of the room creator. From room version 11 this
// is the sender of the create event, before that it is the "creator" key.
func (c RoomCreateEvent) Creator(rules AuthorizationRules) (string, error) {
	if rules.UseRoomCreateSender {
		return c.Sender(), nil
	}
	creator, err := contentField(c, "creator")
	if err != nil {
		return "", err
	}
	if creator.Type != gjson.String {
		return "", badJSONf("missing or invalid creator in create event %s", c.EventID())
	}
	if _, err = spec.ParseUserID(creator.Str); err != nil {
		return "", BadJSONError{fmt.Errorf("invalid creator in create event %s: %w", c.EventID(), err)}
	}
	return creator.Str, nil
}

// PowerLevelsIntField is one of the keys of m.room.power_levels content that
// holds a single power level.
type PowerLevelsIntField string

// Integer fields of m.room.power_levels content.
const (
	PowerLevelsUsersDefault  PowerLevelsIntField = "users_default"
	PowerLevelsEventsDefault PowerLevelsIntField = "events_default"
	PowerLevelsStateDefault  PowerLevelsIntField = "state_default"
	PowerLevelsBan           PowerLevelsIntField = "ban"
	PowerLevelsRedact        PowerLevelsIntField = "redact"
	PowerLevelsKick          PowerLevelsIntField = "kick"
	PowerLevelsInvite        PowerLevelsIntField = "invite"
)

// PowerLevelsIntFields lists every PowerLevelsIntField.
var PowerLevelsIntFields = []PowerLevelsIntField{
	PowerLevelsUsersDefault,
	PowerLevelsEventsDefault,
	PowerLevelsStateDefault,
	PowerLevelsBan,
	PowerLevelsRedact,
	PowerLevelsKick,
	PowerLevelsInvite,
}

// DefaultValue returns the value used when the field is absent.
// See https://spec.matrix.org/v1.8/client-server-api/#mroompower_levels
func (f PowerLevelsIntField) DefaultValue() int64 {
	switch f {
	case PowerLevelsStateDefault, PowerLevelsBan, PowerLevelsRedact, PowerLevelsKick:
		return 50
	default:
		return 0
	}
}

// RoomPowerLevelsEvent reads the content of a m.room.power_levels event.
// Room versions before 10 accept power levels encoded as strings.
type RoomPowerLevelsEvent struct {
	Event
}

// IntField returns the value of an integer field. The boolean is false if
// the field is absent.
func (p RoomPowerLevelsEvent) IntField(field PowerLevelsIntField, rules AuthorizationRules) (int64, bool, error) {
	value, err := contentField(p, string(field))
	if err != nil {
		return 0, false, err
	}
	if !value.Exists() {
		return 0, false, nil
	}
	level, err := parsePowerLevel(value, rules.IntegerPowerLevels)
	if err != nil {
		return 0, false, BadJSONError{fmt.Errorf("power levels event %s: %q: %w", p.EventID(), field, err)}
	}
	return level, true, nil
}

// IntFieldOrDefault returns the value of an integer field or its default.
func (p RoomPowerLevelsEvent) IntFieldOrDefault(field PowerLevelsIntField, rules AuthorizationRules) (int64, error) {
	level, ok, err := p.IntField(field, rules)
	if err != nil {
		return 0, err
	}
	if !ok {
		return field.DefaultValue(), nil
	}
	return level, nil
}

// IntFields returns all of the integer fields that are present.
func (p RoomPowerLevelsEvent) IntFields(rules AuthorizationRules) (map[PowerLevelsIntField]int64, error) {
	fields := make(map[PowerLevelsIntField]int64, len(PowerLevelsIntFields))
	for _, field := range PowerLevelsIntFields {
		level, ok, err := p.IntField(field, rules)
		if err != nil {
			return nil, err
		}
		if ok {
			fields[field] = level
		}
	}
	return fields, nil
}

// intMap reads one of the maps of power levels. An absent key gives a nil
// map.
func (p RoomPowerLevelsEvent) intMap(key string, rules AuthorizationRules, validKey func(string) error) (map[string]int64, error) {
	value, err := contentField(p, key)
	if err != nil {
		return nil, err
	}
	if !value.Exists() {
		return nil, nil
	}
	if !value.IsObject() {
		return nil, badJSONf("power levels event %s: %q is not an object", p.EventID(), key)
	}
	levels := map[string]int64{}
	value.ForEach(func(k, v gjson.Result) bool {
		if validKey != nil {
			if err = validKey(k.Str); err != nil {
				return false
			}
		}
		var level int64
		if level, err = parsePowerLevel(v, rules.IntegerPowerLevels); err != nil {
			return false
		}
		levels[k.Str] = level
		return true
	})
	if err != nil {
		return nil, BadJSONError{fmt.Errorf("power levels event %s: %q: %w", p.EventID(), key, err)}
	}
	return levels, nil
}

// Users returns the "users" map. Every key must be a valid user ID.
func (p RoomPowerLevelsEvent) Users(rules AuthorizationRules) (map[string]int64, error) {
	return p.intMap("users", rules, func(userID string) error {
		_, err := spec.ParseUserID(userID)
		return err
	})
}

// Events returns the "events" map of event types to required levels.
func (p RoomPowerLevelsEvent) Events(rules AuthorizationRules) (map[string]int64, error) {
	return p.intMap("events", rules, nil)
}

// Notifications returns the "notifications" map.
func (p RoomPowerLevelsEvent) Notifications(rules AuthorizationRules) (map[string]int64, error) {
	return p.intMap("notifications", rules, nil)
}

// UserPowerLevel returns the power level a user has in the room.
func (p RoomPowerLevelsEvent) UserPowerLevel(userID string, rules AuthorizationRules) (int64, error) {
	users, err := p.Users(rules)
	if err != nil {
		return 0, err
	}
	if level, ok := users[userID]; ok {
		return level, nil
	}
	return p.IntFieldOrDefault(PowerLevelsUsersDefault, rules)
}

// EventPowerLevel returns the power level needed to send an event of the
// given type. State events fall back to "state_default", others to
// "events_default".
func (p RoomPowerLevelsEvent) EventPowerLevel(eventType string, stateKey *string, rules AuthorizationRules) (int64, error) {
	events, err := p.Events(rules)
	if err != nil {
		return 0, err
	}
	if level, ok := events[eventType]; ok {
		return level, nil
	}
	if stateKey != nil {
		return p.IntFieldOrDefault(PowerLevelsStateDefault, rules)
	}
	return p.IntFieldOrDefault(PowerLevelsEventsDefault, rules)
}

// userPowerLevel returns the power level of a user given the current
// m.room.power_levels event, which may be nil. Without power levels the
// creator has level 100 and everyone else the default.
func userPowerLevel(powerLevels Event, userID, creator string, rules AuthorizationRules) (int64, error) {
	if powerLevels != nil {
		return RoomPowerLevelsEvent{powerLevels}.UserPowerLevel(userID, rules)
	}
	if userID == creator {
		return defaultCreatorPowerLevel, nil
	}
	return PowerLevelsUsersDefault.DefaultValue(), nil
}

// intFieldOrDefault is IntFieldOrDefault for a m.room.power_levels event
// that may be nil.
func intFieldOrDefault(powerLevels Event, field PowerLevelsIntField, rules AuthorizationRules) (int64, error) {
	if powerLevels != nil {
		return RoomPowerLevelsEvent{powerLevels}.IntFieldOrDefault(field, rules)
	}
	return field.DefaultValue(), nil
}

// eventPowerLevel is EventPowerLevel for a m.room.power_levels event that
// may be nil. Without power levels anyone may send any event.
func eventPowerLevel(powerLevels Event, eventType string, stateKey *string, rules AuthorizationRules) (int64, error) {
	if powerLevels != nil {
		return RoomPowerLevelsEvent{powerLevels}.EventPowerLevel(eventType, stateKey, rules)
	}
	return 0, nil
}

// parsePowerLevel reads a power level. JSON integers are always accepted.
// Unless integerOnly is set, strings containing an integer are accepted too,
// with surrounding whitespace and a leading "+" allowed.
func parsePowerLevel(value gjson.Result, integerOnly bool) (int64, error) {
	var level int64
	var err error
	switch value.Type {
	case gjson.Number:
		if level, err = strconv.ParseInt(value.Raw, 10, 64); err != nil {
			return 0, fmt.Errorf("%s is not an integer", value.Raw)
		}
	case gjson.String:
		if integerOnly {
			return 0, fmt.Errorf("expected an integer, got string %q", value.Str)
		}
		if level, err = strconv.ParseInt(strings.TrimSpace(value.Str), 10, 64); err != nil {
			return 0, fmt.Errorf("string %q is not an integer", value.Str)
		}
	default:
		return 0, fmt.Errorf("expected an integer, got %s", value.Type)
	}
	if level > maxPowerLevel || level < -maxPowerLevel {
		return 0, fmt.Errorf("%d is out of range", level)
	}
	return level, nil
}

// RoomMemberEvent reads the content of a m.room.member event.
// See https://spec.matrix.org/v1.8/client-server-api/#mroommember
type RoomMemberEvent struct {
	Event
}

// Membership returns the "membership" key.
func (m RoomMemberEvent) Membership() (spec.Membership, error) {
	membership, err := contentField(m, "membership")
	if err != nil {
		return "", err
	}
	if membership.Type != gjson.String {
		return "", badJSONf("missing or invalid membership in member event %s", m.EventID())
	}
	return spec.Membership(membership.Str), nil
}

// JoinAuthorisedViaUsersServer returns the user who authorised a restricted
// join, or the empty string if there is none.
func (m RoomMemberEvent) JoinAuthorisedViaUsersServer() (string, error) {
	via, err := contentField(m, "join_authorised_via_users_server")
	if err != nil {
		return "", err
	}
	switch via.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		if _, err = spec.ParseUserID(via.Str); err != nil {
			return "", BadJSONError{fmt.Errorf("invalid join_authorised_via_users_server in member event %s: %w", m.EventID(), err)}
		}
		return via.Str, nil
	}
	return "", badJSONf("invalid join_authorised_via_users_server in member event %s", m.EventID())
}

// ThirdPartyInvite returns the "third_party_invite" key, or nil if there is
// none.
func (m RoomMemberEvent) ThirdPartyInvite() (*ThirdPartyInvite, error) {
	invite, err := contentField(m, "third_party_invite")
	if err != nil {
		return nil, err
	}
	if invite.Type == gjson.Null {
		return nil, nil
	}
	signed := invite.Get("signed")
	if !signed.IsObject() {
		return nil, badJSONf("missing or invalid third_party_invite.signed in member event %s", m.EventID())
	}
	return &ThirdPartyInvite{signed: signed}, nil
}

// ThirdPartyInvite is the "third_party_invite" of a m.room.member invite.
type ThirdPartyInvite struct {
	signed gjson.Result
}

func (t *ThirdPartyInvite) signedString(key string) (string, error) {
	value := t.signed.Get(key)
	if value.Type != gjson.String {
		return "", badJSONf("missing or invalid %q in third_party_invite.signed", key)
	}
	return value.Str, nil
}

// Token returns the token, which is the state key of the matching
// m.room.third_party_invite event.
func (t *ThirdPartyInvite) Token() (string, error) {
	return t.signedString("token")
}

// MXID returns the user ID that was invited.
func (t *ThirdPartyInvite) MXID() (string, error) {
	return t.signedString("mxid")
}

// Signed returns the raw JSON of the "signed" object.
func (t *ThirdPartyInvite) Signed() []byte {
	return []byte(t.signed.Raw)
}

// membershipOf returns the membership in a m.room.member event. A missing
// member event means the user has left the room.
func membershipOf(memberEvent Event) (spec.Membership, error) {
	if memberEvent == nil {
		return spec.Leave, nil
	}
	return RoomMemberEvent{memberEvent}.Membership()
}

// RoomJoinRulesEvent reads the content of a m.room.join_rules event.
type RoomJoinRulesEvent struct {
	Event
}

// JoinRule returns the "join_rule" key.
func (j RoomJoinRulesEvent) JoinRule() (spec.JoinRule, error) {
	rule, err := contentField(j, "join_rule")
	if err != nil {
		return "", err
	}
	if rule.Type != gjson.String {
		return "", badJSONf("missing or invalid join_rule in join rules event %s", j.EventID())
	}
	return spec.JoinRule(rule.Str), nil
}

// joinRuleOf returns the join rule in a m.room.join_rules event. Rooms
// without one are invite only.
func joinRuleOf(joinRulesEvent Event) (spec.JoinRule, error) {
	if joinRulesEvent == nil {
		return spec.Invite, nil
	}
	return RoomJoinRulesEvent{joinRulesEvent}.JoinRule()
}

// RoomThirdPartyInviteEvent reads the content of a
// m.room.third_party_invite event.
type RoomThirdPartyInviteEvent struct {
	Event
}

// PublicKeys returns the base64-encoded ed25519 public keys that may have
// signed the invite: "public_key" followed by each "public_keys" entry.
func (t RoomThirdPartyInviteEvent) PublicKeys() ([]string, error) {
	root, err := contentRoot(t)
	if err != nil {
		return nil, err
	}
	var keys []string
	if key := root.Get("public_key"); key.Type == gjson.String {
		keys = append(keys, key.Str)
	}
	if list := root.Get("public_keys"); list.IsArray() {
		for _, entry := range list.Array() {
			if key := entry.Get("public_key"); key.Type == gjson.String {
				keys = append(keys, key.Str)
			}
		}
	}
	if len(keys) == 0 {
		return nil, badJSONf("third party invite event %s has no public keys", t.EventID())
	}
	return keys, nil
}
