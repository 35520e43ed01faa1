package spec

const (
	// Join is the string constant "join"
	Join = "join"
	// Ban is the string constant "ban"
	Ban = "ban"
	// Leave is the string constant "leave"
	Leave = "leave"
	// Invite is the string constant "invite"
	Invite = "invite"
	// Knock is the string constant "knock"
	Knock = "knock"
	// Restricted is the string constant "restricted"
	Restricted = "restricted"
	// KnockRestricted is the string constant "knock_restricted" (room version 10)
	KnockRestricted = "knock_restricted"
	// Public is the string constant "public"
	Public = "public"
	// Private is the string constant "private". It is reserved and behaves like
	// no join rule at all.
	Private = "private"
	// MRoomCreate https://spec.matrix.org/v1.8/client-server-api/#mroomcreate
	MRoomCreate = "m.room.create"
	// MRoomJoinRules https://spec.matrix.org/v1.8/client-server-api/#mroomjoin_rules
	MRoomJoinRules = "m.room.join_rules"
	// MRoomPowerLevels https://spec.matrix.org/v1.8/client-server-api/#mroompower_levels
	MRoomPowerLevels = "m.room.power_levels"
	// MRoomName https://spec.matrix.org/v1.8/client-server-api/#mroomname
	MRoomName = "m.room.name"
	// MRoomTopic https://spec.matrix.org/v1.8/client-server-api/#mroomtopic
	MRoomTopic = "m.room.topic"
	// MRoomAvatar https://spec.matrix.org/v1.8/client-server-api/#mroomavatar
	MRoomAvatar = "m.room.avatar"
	// MRoomMember https://spec.matrix.org/v1.8/client-server-api/#mroommember
	MRoomMember = "m.room.member"
	// MRoomThirdPartyInvite https://spec.matrix.org/v1.8/client-server-api/#mroomthird_party_invite
	MRoomThirdPartyInvite = "m.room.third_party_invite"
	// MRoomAliases https://spec.matrix.org/v1.8/rooms/v5/#authorization-rules
	MRoomAliases = "m.room.aliases"
	// MRoomCanonicalAlias https://spec.matrix.org/v1.8/client-server-api/#mroomcanonical_alias
	MRoomCanonicalAlias = "m.room.canonical_alias"
	// MRoomHistoryVisibility https://spec.matrix.org/v1.8/client-server-api/#mroomhistory_visibility
	MRoomHistoryVisibility = "m.room.history_visibility"
	// MRoomGuestAccess https://spec.matrix.org/v1.8/client-server-api/#mroomguest_access
	MRoomGuestAccess = "m.room.guest_access"
	// MRoomEncryption https://spec.matrix.org/v1.8/client-server-api/#mroomencryption
	MRoomEncryption = "m.room.encryption"
	// MRoomRedaction https://spec.matrix.org/v1.8/client-server-api/#mroomredaction
	MRoomRedaction = "m.room.redaction"
	// MRoomMessage https://spec.matrix.org/v1.8/client-server-api/#mroommessage
	MRoomMessage = "m.room.message"
	// MSpaceChild https://spec.matrix.org/v1.8/client-server-api/#mspacechild
	MSpaceChild = "m.space.child"
	// MSpaceParent https://spec.matrix.org/v1.8/client-server-api/#mspaceparent
	MSpaceParent = "m.space.parent"
)

var knownEventTypes = map[string]struct{}{
	MRoomCreate:            {},
	MRoomJoinRules:         {},
	MRoomPowerLevels:       {},
	MRoomName:              {},
	MRoomTopic:             {},
	MRoomAvatar:            {},
	MRoomMember:            {},
	MRoomThirdPartyInvite:  {},
	MRoomAliases:           {},
	MRoomCanonicalAlias:    {},
	MRoomHistoryVisibility: {},
	MRoomGuestAccess:       {},
	MRoomEncryption:        {},
	MRoomRedaction:         {},
	MRoomMessage:           {},
	MSpaceChild:            {},
	MSpaceParent:           {},
}

// An EventType is the "type" key of a matrix event. Types defined by the
// matrix specification are available as constants; any other type, such as
// one introduced by a protocol extension, is carried verbatim and reported
// by IsCustom so that it survives a round trip untouched.
type EventType string

// String returns the raw event type.
func (t EventType) String() string {
	return string(t)
}

// IsCustom returns true if the event type is not one of the well-known
// types defined in this package.
func (t EventType) IsCustom() bool {
	_, ok := knownEventTypes[string(t)]
	return !ok
}

// Membership is the "membership" key of a m.room.member event content.
type Membership string

// IsCustom returns true if the membership is not one of join, invite,
// leave, ban or knock. Authorisation rules reject unknown memberships.
func (m Membership) IsCustom() bool {
	switch m {
	case Join, Invite, Leave, Ban, Knock:
		return false
	}
	return true
}

// JoinRule is the "join_rule" key of a m.room.join_rules event content.
type JoinRule string

// IsCustom returns true if the join rule is not one defined by any room
// version.
func (j JoinRule) IsCustom() bool {
	switch j {
	case Public, Invite, Knock, Restricted, KnockRestricted, Private:
		return false
	}
	return true
}
