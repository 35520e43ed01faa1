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
	"sort"
	"strings"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// A NotAllowed error is returned if an event does not pass the auth checks.
type NotAllowed struct {
	Message string
}

func (a *NotAllowed) Error() string {
	return "eventauth: " + a.Message
}

func errorf(message string, args ...interface{}) error {
	return &NotAllowed{Message: fmt.Sprintf(message, args...)}
}

// AuthCheckOption changes how the state-dependent auth rules are applied.
type AuthCheckOption func(*authCheckConfig)

type authCheckConfig struct {
	verifyThirdPartyInvites bool
}

// WithThirdPartyInviteVerification makes invites that come from a third
// party invite require a valid ed25519 signature on the "signed" object,
// made with one of the public keys of the m.room.third_party_invite event.
// Without it, the signatures are assumed to have been checked already.
func WithThirdPartyInviteVerification() AuthCheckOption {
	return func(c *authCheckConfig) {
		c.verifyThirdPartyInvites = true
	}
}

// AuthTypesForEvent returns the state needed to authorise an event with the
// given type, sender, state key and content. These are the (type, state_key)
// pairs that belong in the event's auth_events.
// https://spec.matrix.org/v1.8/server-server-api/#auth-events-selection
func AuthTypesForEvent(
	eventType, sender string, stateKey *string, content []byte, rules AuthorizationRules,
) ([]StateKeyTuple, error) {
	if eventType == spec.MRoomCreate {
		return nil, nil
	}

	result := []StateKeyTuple{
		{spec.MRoomPowerLevels, ""},
		{spec.MRoomMember, sender},
		{spec.MRoomCreate, ""},
	}
	add := func(tuple StateKeyTuple) {
		for _, t := range result {
			if t == tuple {
				return
			}
		}
		result = append(result, tuple)
	}

	if eventType != spec.MRoomMember {
		return result, nil
	}
	if stateKey == nil {
		return nil, errorf("m.room.member event has no state key")
	}
	add(StateKeyTuple{spec.MRoomMember, *stateKey})

	member := RoomMemberEvent{ProtoEvent{EventType: eventType, SenderID: sender, Key: stateKey, RawContent: content}}
	membership, err := member.Membership()
	if err != nil {
		return nil, err
	}
	switch membership {
	case spec.Join, spec.Invite, spec.Knock:
		add(StateKeyTuple{spec.MRoomJoinRules, ""})
	}
	if membership == spec.Invite {
		thirdPartyInvite, err := member.ThirdPartyInvite()
		if err != nil {
			return nil, err
		}
		if thirdPartyInvite != nil {
			token, err := thirdPartyInvite.Token()
			if err != nil {
				return nil, err
			}
			add(StateKeyTuple{spec.MRoomThirdPartyInvite, token})
		}
	}
	if membership == spec.Join && rules.RestrictedJoinRule {
		via, err := member.JoinAuthorisedViaUsersServer()
		if err != nil {
			return nil, err
		}
		if via != "" {
			add(StateKeyTuple{spec.MRoomMember, via})
		}
	}
	return result, nil
}

// CheckStateIndependentAuthRules runs the authorisation rules that do not
// depend on room state: the m.room.create rules, and the checks on the list
// of auth_events of every other event. fetchEvent returns nil for events it
// does not have. It only needs to be called once per event, when the event
// is received.
func CheckStateIndependentAuthRules(rules AuthorizationRules, event Event, fetchEvent func(eventID string) Event) error {
	if event.Type() == spec.MRoomCreate {
		return createEventAllowed(RoomCreateEvent{event}, rules)
	}

	expected, err := AuthTypesForEvent(event.Type(), event.Sender(), event.StateKey(), event.Content(), rules)
	if err != nil {
		return err
	}
	expectedSet := make(map[StateKeyTuple]struct{}, len(expected))
	for _, tuple := range expected {
		expectedSet[tuple] = struct{}{}
	}

	seen := make(map[StateKeyTuple]struct{}, len(expected))
	for _, authEventID := range event.AuthEventIDs() {
		authEvent := fetchEvent(authEventID)
		if authEvent == nil {
			return errorf("failed to find auth event %s", authEventID)
		}
		if authEvent.RoomID() != event.RoomID() {
			return errorf("auth event %s is not in room %s", authEventID, event.RoomID())
		}
		tuple, ok := stateKeyTupleOf(authEvent)
		if !ok {
			return errorf("auth event %s has no state key", authEventID)
		}
		if _, ok = seen[tuple]; ok {
			return errorf("duplicate auth event %s for (%s, %q)", authEventID, tuple.EventType, tuple.StateKey)
		}
		if _, ok = expectedSet[tuple]; !ok {
			return errorf("unexpected auth event %s for (%s, %q)", authEventID, tuple.EventType, tuple.StateKey)
		}
		if authEvent.Rejected() {
			return errorf("auth event %s was rejected", authEventID)
		}
		seen[tuple] = struct{}{}
	}

	if _, ok := seen[StateKeyTuple{spec.MRoomCreate, ""}]; !ok {
		return errorf("no m.room.create event in auth events")
	}
	return nil
}

// createEventAllowed checks whether the m.room.create event is allowed.
// It returns an error if the event is not allowed.
func createEventAllowed(create RoomCreateEvent, rules AuthorizationRules) error {
	if len(create.PrevEventIDs()) > 0 {
		return errorf("create event must be the first event in the room: found %d prev_events", len(create.PrevEventIDs()))
	}
	roomDomain, err := spec.RoomIDDomain(create.RoomID())
	if err != nil {
		return errorf("create event has an invalid room ID %q", create.RoomID())
	}
	sender, err := spec.ParseUserID(create.Sender())
	if err != nil {
		return errorf("create event sender %q is not a user ID: %s", create.Sender(), err)
	}
	if roomDomain != sender.Domain {
		return errorf("create event room ID domain does not match sender: %q != %q", roomDomain, create.Sender())
	}
	if !rules.UseRoomCreateSender {
		hasCreator, err := create.HasCreator()
		if err != nil {
			return err
		}
		if !hasCreator {
			return errorf("create event has no creator field")
		}
	}
	return nil
}

// CheckStateDependentAuthRules checks whether an event is allowed by the
// room state, typically the state before the event or the partially
// resolved state during state resolution. Every rule that
// CheckStateIndependentAuthRules does not cover is applied here.
// It returns a NotAllowed or BadJSONError error if the event is not allowed.
func CheckStateDependentAuthRules(rules AuthorizationRules, event Event, state AuthStateProvider, opts ...AuthCheckOption) error {
	if event.Type() == spec.MRoomCreate {
		return nil
	}
	a, err := newAllowerContext(rules, state, opts...)
	if err != nil {
		return err
	}
	return a.allowed(event)
}

// allowerContext holds the events most checks need, loaded once per
// authorisation.
type allowerContext struct {
	authCheckConfig
	rules AuthorizationRules
	state AuthStateProvider

	// The m.room.create event for the room.
	create RoomCreateEvent
	// The m.room.power_levels event for the room, or nil.
	powerLevels Event
}

func newAllowerContext(rules AuthorizationRules, state AuthStateProvider, opts ...AuthCheckOption) (*allowerContext, error) {
	a := &allowerContext{
		rules: rules,
		state: state,
	}
	for _, opt := range opts {
		opt(&a.authCheckConfig)
	}
	createEvent := state.StateEvent(spec.MRoomCreate, "")
	if createEvent == nil {
		return nil, errorf("no m.room.create event in current state")
	}
	a.create = RoomCreateEvent{createEvent}
	a.powerLevels = state.StateEvent(spec.MRoomPowerLevels, "")
	return a, nil
}

// membership returns the current membership of a user.
func (a *allowerContext) membership(userID string) (spec.Membership, error) {
	return membershipOf(a.state.StateEvent(spec.MRoomMember, userID))
}

// userLevel returns the current power level of a user. The creator is only
// needed when there are no power levels.
func (a *allowerContext) userLevel(userID string) (int64, error) {
	if a.powerLevels != nil {
		return RoomPowerLevelsEvent{a.powerLevels}.UserPowerLevel(userID, a.rules)
	}
	creator, err := a.create.Creator(a.rules)
	if err != nil {
		return 0, err
	}
	return userPowerLevel(nil, userID, creator, a.rules)
}

func (a *allowerContext) allowed(event Event) error {
	federate, err := a.create.Federate()
	if err != nil {
		return err
	}
	if !federate && serverNameOf(event.Sender()) != serverNameOf(a.create.Sender()) {
		return errorf("room is unfederatable and sender %q is not from %q", event.Sender(), serverNameOf(a.create.Sender()))
	}

	switch {
	case event.Type() == spec.MRoomAliases && a.rules.SpecialCaseRoomAliases:
		return aliasEventAllowed(event)
	case event.Type() == spec.MRoomMember:
		allower, err := a.newMembershipAllower(event)
		if err != nil {
			return err
		}
		return allower.membershipAllowed()
	}
	return a.defaultEventAllowed(event)
}

// aliasEventAllowed checks whether the m.room.aliases event is allowed.
// Before room version 6 the only rule is that a server can only set the
// aliases under its own name.
func aliasEventAllowed(event Event) error {
	senderDomain := serverNameOf(event.Sender())
	if !event.StateKeyEquals(string(senderDomain)) {
		return errorf("alias state_key does not match sender domain %q", senderDomain)
	}
	return nil
}

// defaultEventAllowed does the checks that are applied to all events types
// other than m.room.create, m.room.member, or m.room.aliases.
func (a *allowerContext) defaultEventAllowed(event Event) error {
	membership, err := a.membership(event.Sender())
	if err != nil {
		return err
	}
	if membership != spec.Join {
		return errorf("sender %q not in room", event.Sender())
	}

	senderLevel, err := a.userLevel(event.Sender())
	if err != nil {
		return err
	}

	if event.Type() == spec.MRoomThirdPartyInvite {
		inviteLevel, err := intFieldOrDefault(a.powerLevels, PowerLevelsInvite, a.rules)
		if err != nil {
			return err
		}
		if senderLevel < inviteLevel {
			return errorf("sender %q is not allowed to invite. %d < %d", event.Sender(), senderLevel, inviteLevel)
		}
		return nil
	}

	eventLevel, err := eventPowerLevel(a.powerLevels, event.Type(), event.StateKey(), a.rules)
	if err != nil {
		return err
	}
	if senderLevel < eventLevel {
		return errorf("sender %q is not allowed to send event. %d < %d", event.Sender(), senderLevel, eventLevel)
	}

	// Check that all state_keys that begin with '@' are only updated by users
	// with that ID.
	if stateKey := event.StateKey(); stateKey != nil && strings.HasPrefix(*stateKey, "@") && *stateKey != event.Sender() {
		return errorf("sender %q is not allowed to modify the state belonging to %q", event.Sender(), *stateKey)
	}

	switch {
	case event.Type() == spec.MRoomPowerLevels:
		return a.powerLevelsEventAllowed(event, senderLevel)
	case event.Type() == spec.MRoomRedaction && a.rules.SpecialCaseRoomRedaction:
		return a.redactEventAllowed(event, senderLevel)
	}
	return nil
}

// powerLevelsEventAllowed checks whether the m.room.power_levels event is
// allowed given the current power levels.
func (a *allowerContext) powerLevelsEventAllowed(event Event, senderLevel int64) error {
	newPowerLevels := RoomPowerLevelsEvent{event}
	newInts, err := newPowerLevels.IntFields(a.rules)
	if err != nil {
		return err
	}
	newEvents, err := newPowerLevels.Events(a.rules)
	if err != nil {
		return err
	}
	newNotifications, err := newPowerLevels.Notifications(a.rules)
	if err != nil {
		return err
	}
	newUsers, err := newPowerLevels.Users(a.rules)
	if err != nil {
		return err
	}

	// The first power levels event in a room is always allowed.
	if a.powerLevels == nil {
		return nil
	}
	oldPowerLevels := RoomPowerLevelsEvent{a.powerLevels}

	for _, field := range PowerLevelsIntFields {
		oldLevel, oldExists, err := oldPowerLevels.IntField(field, a.rules)
		if err != nil {
			return err
		}
		newLevel, newExists := newInts[field]
		if oldExists == newExists && oldLevel == newLevel {
			continue
		}
		if !oldExists {
			oldLevel = field.DefaultValue()
		}
		if !newExists {
			newLevel = field.DefaultValue()
		}
		if oldLevel > senderLevel || newLevel > senderLevel {
			return errorf(
				"sender with level %d is not allowed to change %q from %d to %d",
				senderLevel, field, oldLevel, newLevel,
			)
		}
	}

	oldEvents, err := oldPowerLevels.Events(a.rules)
	if err != nil {
		return err
	}
	if err = checkPowerLevelMaps(oldEvents, newEvents, senderLevel, func(_ string, oldLevel int64) bool {
		return oldLevel > senderLevel
	}); err != nil {
		return errorf("sender with level %d is not allowed to change the level of event type %q", senderLevel, err.Error())
	}

	if a.rules.LimitNotificationsPowerLevels {
		oldNotifications, err := oldPowerLevels.Notifications(a.rules)
		if err != nil {
			return err
		}
		if err = checkPowerLevelMaps(oldNotifications, newNotifications, senderLevel, func(_ string, oldLevel int64) bool {
			return oldLevel > senderLevel
		}); err != nil {
			return errorf("sender with level %d is not allowed to change the %q notification level", senderLevel, err.Error())
		}
	}

	oldUsers, err := oldPowerLevels.Users(a.rules)
	if err != nil {
		return err
	}
	if err = checkPowerLevelMaps(oldUsers, newUsers, senderLevel, func(userID string, oldLevel int64) bool {
		// A user is allowed to remove their own user level.
		return userID != event.Sender() && oldLevel >= senderLevel
	}); err != nil {
		return errorf("sender with level %d is not allowed to change the level of %q", senderLevel, err.Error())
	}
	return nil
}

// checkPowerLevelMaps compares two maps of power levels. Every entry that is
// added or changed must not exceed the sender's level, and every entry that
// is changed or removed must be allowed by rejectOld. The error names the
// first offending key, in sorted order.
func checkPowerLevelMaps(
	oldLevels, newLevels map[string]int64, senderLevel int64,
	rejectOld func(key string, oldLevel int64) bool,
) error {
	keys := make([]string, 0, len(oldLevels)+len(newLevels))
	for key := range oldLevels {
		keys = append(keys, key)
	}
	for key := range newLevels {
		if _, ok := oldLevels[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		oldLevel, oldExists := oldLevels[key]
		newLevel, newExists := newLevels[key]
		if oldExists == newExists && oldLevel == newLevel {
			continue
		}
		if oldExists && rejectOld(key, oldLevel) {
			return fmt.Errorf("%s", key)
		}
		if newExists && newLevel > senderLevel {
			return fmt.Errorf("%s", key)
		}
	}
	return nil
}

// redactEventAllowed checks whether the m.room.redaction event is allowed in
// room versions 1 and 2, where servers may redact their own events
// regardless of power levels.
func (a *allowerContext) redactEventAllowed(event Event, senderLevel int64) error {
	redactLevel, err := intFieldOrDefault(a.powerLevels, PowerLevelsRedact, a.rules)
	if err != nil {
		return err
	}
	if senderLevel >= redactLevel {
		return nil
	}
	redactDomain, ok := spec.EventIDDomain(event.EventID())
	redactsDomain, ok2 := spec.EventIDDomain(event.Redacts())
	if ok && ok2 && redactDomain == redactsDomain {
		return nil
	}
	return errorf(
		"%q is not allowed to redact message from %q. %d < %d",
		event.Sender(), redactsDomain, senderLevel, redactLevel,
	)
}

// A membershipAllower has the information needed to authenticate a
// m.room.member event.
type membershipAllower struct {
	*allowerContext
	event RoomMemberEvent
	// The user ID of the user whose membership is changing.
	targetID string
	// The user ID of the user who sent the membership event.
	senderID string
	// The membership of the user if this event is accepted.
	newMembership spec.Membership
}

// newMembershipAllower loads the information needed to authenticate the
// m.room.member event.
func (a *allowerContext) newMembershipAllower(event Event) (m membershipAllower, err error) {
	m.allowerContext = a
	m.event = RoomMemberEvent{event}
	stateKey := event.StateKey()
	if stateKey == nil {
		err = errorf("m.room.member must be a state event")
		return
	}
	if _, err = spec.ParseUserID(*stateKey); err != nil {
		err = errorf("m.room.member state key %q is not a user ID: %s", *stateKey, err)
		return
	}
	m.targetID = *stateKey
	m.senderID = event.Sender()
	m.newMembership, err = m.event.Membership()
	return
}

// membershipAllowed checks whether the membership event is allowed.
func (m *membershipAllower) membershipAllowed() error {
	switch m.newMembership {
	case spec.Join:
		return m.joinAllowed()
	case spec.Invite:
		return m.inviteAllowed()
	case spec.Leave:
		return m.leaveAllowed()
	case spec.Ban:
		return m.banAllowed()
	case spec.Knock:
		if m.rules.Knocking {
			return m.knockAllowed()
		}
	}
	return errorf("unknown membership %q", m.newMembership)
}

func (m *membershipAllower) joinAllowed() error {
	// Special case the first join event in the room to allow the creator to join.
	if prevEventIDs := m.event.PrevEventIDs(); len(prevEventIDs) == 1 && prevEventIDs[0] == m.create.EventID() {
		creator, err := m.create.Creator(m.rules)
		if err != nil {
			return err
		}
		if m.targetID == creator {
			return nil
		}
	}

	if m.senderID != m.targetID {
		return errorf("%q is not allowed to join as %q", m.senderID, m.targetID)
	}

	oldMembership, err := m.membership(m.targetID)
	if err != nil {
		return err
	}
	if oldMembership == spec.Ban {
		return errorf("%q is banned from the room", m.targetID)
	}

	joinRule, err := joinRuleOf(m.state.StateEvent(spec.MRoomJoinRules, ""))
	if err != nil {
		return err
	}

	wasInvitedOrJoined := oldMembership == spec.Invite || oldMembership == spec.Join
	if joinRule == spec.Invite || (m.rules.Knocking && joinRule == spec.Knock) {
		if wasInvitedOrJoined {
			return nil
		}
	}

	if (m.rules.RestrictedJoinRule && joinRule == spec.Restricted) ||
		(m.rules.KnockRestrictedJoinRule && joinRule == spec.KnockRestricted) {
		if wasInvitedOrJoined {
			return nil
		}
		return m.restrictedJoinAllowed()
	}

	if joinRule == spec.Public {
		return nil
	}
	return errorf("%q is not allowed to join a room with join rule %q", m.targetID, joinRule)
}

// restrictedJoinAllowed checks the user nominated in
// "join_authorised_via_users_server", who must be joined to the room and
// able to issue invites.
func (m *membershipAllower) restrictedJoinAllowed() error {
	via, err := m.event.JoinAuthorisedViaUsersServer()
	if err != nil {
		return err
	}
	if via == "" {
		return errorf("%q cannot join a restricted room without join_authorised_via_users_server", m.targetID)
	}
	viaMembership, err := m.membership(via)
	if err != nil {
		return err
	}
	if viaMembership != spec.Join {
		return errorf("the nominated join_authorised_via_users_server user %q is not joined to the room", via)
	}
	viaLevel, err := m.userLevel(via)
	if err != nil {
		return err
	}
	inviteLevel, err := intFieldOrDefault(m.powerLevels, PowerLevelsInvite, m.rules)
	if err != nil {
		return err
	}
	if viaLevel < inviteLevel {
		return errorf(
			"the nominated join_authorised_via_users_server user %q does not have permission to invite (%d < %d)",
			via, viaLevel, inviteLevel,
		)
	}
	return nil
}

func (m *membershipAllower) inviteAllowed() error {
	thirdPartyInvite, err := m.event.ThirdPartyInvite()
	if err != nil {
		return err
	}
	if thirdPartyInvite != nil {
		return m.thirdPartyInviteAllowed(thirdPartyInvite)
	}

	senderMembership, err := m.membership(m.senderID)
	if err != nil {
		return err
	}
	if senderMembership != spec.Join {
		return errorf("sender %q is not in the room", m.senderID)
	}
	targetMembership, err := m.membership(m.targetID)
	if err != nil {
		return err
	}
	if targetMembership == spec.Join || targetMembership == spec.Ban {
		return errorf("%q cannot be invited when their membership is %q", m.targetID, targetMembership)
	}
	senderLevel, err := m.userLevel(m.senderID)
	if err != nil {
		return err
	}
	inviteLevel, err := intFieldOrDefault(m.powerLevels, PowerLevelsInvite, m.rules)
	if err != nil {
		return err
	}
	if senderLevel < inviteLevel {
		return errorf("%q is not allowed to invite %q. %d < %d", m.senderID, m.targetID, senderLevel, inviteLevel)
	}
	return nil
}

// thirdPartyInviteAllowed checks an invite that was issued from a
// m.room.third_party_invite.
func (m *membershipAllower) thirdPartyInviteAllowed(thirdPartyInvite *ThirdPartyInvite) error {
	targetMembership, err := m.membership(m.targetID)
	if err != nil {
		return err
	}
	if targetMembership == spec.Ban {
		return errorf("%q is banned from the room", m.targetID)
	}
	token, err := thirdPartyInvite.Token()
	if err != nil {
		return err
	}
	mxid, err := thirdPartyInvite.MXID()
	if err != nil {
		return err
	}
	if mxid != m.targetID {
		return errorf("third party invite was for %q but the state key is %q", mxid, m.targetID)
	}
	inviteEvent := m.state.StateEvent(spec.MRoomThirdPartyInvite, token)
	if inviteEvent == nil {
		return errorf("no m.room.third_party_invite event with token %q", token)
	}
	if inviteEvent.Sender() != m.senderID {
		return errorf(
			"sender %q of the invite does not match sender %q of the third party invite",
			m.senderID, inviteEvent.Sender(),
		)
	}
	if !m.verifyThirdPartyInvites {
		return nil
	}
	publicKeys, err := RoomThirdPartyInviteEvent{inviteEvent}.PublicKeys()
	if err != nil {
		return err
	}
	if err = VerifyThirdPartyInviteSigned(thirdPartyInvite.Signed(), publicKeys); err != nil {
		return errorf("third party invite for %q is not signed by the inviting server: %s", m.targetID, err)
	}
	return nil
}

func (m *membershipAllower) leaveAllowed() error {
	senderMembership, err := m.membership(m.senderID)
	if err != nil {
		return err
	}

	if m.senderID == m.targetID {
		switch {
		case senderMembership == spec.Join, senderMembership == spec.Invite:
			return nil
		case m.rules.Knocking && senderMembership == spec.Knock:
			return nil
		}
		return errorf("%q cannot leave the room with membership %q", m.senderID, senderMembership)
	}

	if senderMembership != spec.Join {
		return errorf("sender %q is not in the room", m.senderID)
	}
	targetMembership, err := m.membership(m.targetID)
	if err != nil {
		return err
	}
	senderLevel, targetLevel, err := m.levels()
	if err != nil {
		return err
	}
	if targetMembership == spec.Ban {
		banLevel, err := intFieldOrDefault(m.powerLevels, PowerLevelsBan, m.rules)
		if err != nil {
			return err
		}
		if senderLevel < banLevel {
			return errorf("%q is not allowed to unban %q. %d < %d", m.senderID, m.targetID, senderLevel, banLevel)
		}
	}
	kickLevel, err := intFieldOrDefault(m.powerLevels, PowerLevelsKick, m.rules)
	if err != nil {
		return err
	}
	if senderLevel >= kickLevel && targetLevel < senderLevel {
		return nil
	}
	return errorf(
		"%q is not allowed to kick %q. sender level %d, target level %d, kick level %d",
		m.senderID, m.targetID, senderLevel, targetLevel, kickLevel,
	)
}

func (m *membershipAllower) banAllowed() error {
	senderMembership, err := m.membership(m.senderID)
	if err != nil {
		return err
	}
	if senderMembership != spec.Join {
		return errorf("sender %q is not in the room", m.senderID)
	}
	senderLevel, targetLevel, err := m.levels()
	if err != nil {
		return err
	}
	banLevel, err := intFieldOrDefault(m.powerLevels, PowerLevelsBan, m.rules)
	if err != nil {
		return err
	}
	if senderLevel >= banLevel && targetLevel < senderLevel {
		return nil
	}
	return errorf(
		"%q is not allowed to ban %q. sender level %d, target level %d, ban level %d",
		m.senderID, m.targetID, senderLevel, targetLevel, banLevel,
	)
}

func (m *membershipAllower) knockAllowed() error {
	joinRule, err := joinRuleOf(m.state.StateEvent(spec.MRoomJoinRules, ""))
	if err != nil {
		return err
	}
	if joinRule != spec.Knock && !(m.rules.KnockRestrictedJoinRule && joinRule == spec.KnockRestricted) {
		return errorf("join rule %q does not allow knocking", joinRule)
	}
	if m.senderID != m.targetID {
		return errorf("%q is not allowed to knock as %q", m.senderID, m.targetID)
	}
	senderMembership, err := m.membership(m.senderID)
	if err != nil {
		return err
	}
	switch senderMembership {
	case spec.Ban, spec.Invite, spec.Join:
		return errorf("%q cannot knock with membership %q", m.senderID, senderMembership)
	}
	return nil
}

// levels returns the power levels of the sender and the target.
func (m *membershipAllower) levels() (senderLevel, targetLevel int64, err error) {
	if senderLevel, err = m.userLevel(m.senderID); err != nil {
		return
	}
	targetLevel, err = m.userLevel(m.targetID)
	return
}
