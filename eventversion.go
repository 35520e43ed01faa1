package gomatrixstateres

import "sort"

// RoomVersion refers to the room version for a specific room.
type RoomVersion string

// StateResAlgorithm refers to a version of the state resolution algorithm.
type StateResAlgorithm int

// EventIDFormat refers to the formatting used to generate new event IDs.
type EventIDFormat int

// RoomVersionDisposition says whether a room version is considered stable.
type RoomVersionDisposition string

// Room version constants. These are strings because the version grammar
// allows for future expansion.
// https://spec.matrix.org/v1.8/rooms/#room-version-grammar
const (
	RoomVersionV1  RoomVersion = "1"
	RoomVersionV2  RoomVersion = "2"
	RoomVersionV3  RoomVersion = "3"
	RoomVersionV4  RoomVersion = "4"
	RoomVersionV5  RoomVersion = "5"
	RoomVersionV6  RoomVersion = "6"
	RoomVersionV7  RoomVersion = "7"
	RoomVersionV8  RoomVersion = "8"
	RoomVersionV9  RoomVersion = "9"
	RoomVersionV10 RoomVersion = "10"
	RoomVersionV11 RoomVersion = "11"
)

// Event ID format constants
const (
	EventIDFormatV1 EventIDFormat = iota + 1 // $opaque:server
	EventIDFormatV2                          // standard base64 reference hash
	EventIDFormatV3                          // URL-safe base64 reference hash
)

// State resolution constants
const (
	StateResV1 StateResAlgorithm = iota + 1
	StateResV2
)

// Room version disposition constants
const (
	RoomVersionStable   RoomVersionDisposition = "stable"
	RoomVersionUnstable RoomVersionDisposition = "unstable"
)

// AuthorizationRules are the switches that select between the variants of
// the authorisation rules across room versions.
type AuthorizationRules struct {
	// Room versions 1 and 2 let servers redact events that came from their
	// own domain regardless of power levels.
	SpecialCaseRoomRedaction bool
	// Room versions 1 to 5 check that the state key of m.room.aliases
	// matches the sender's domain and skip the other checks.
	SpecialCaseRoomAliases bool
	// Room version 6 onwards rejects events whose JSON is not canonical.
	StrictCanonicalJSON bool
	// Room version 6 onwards applies power level checks to the
	// "notifications" map.
	LimitNotificationsPowerLevels bool
	// Room version 7 onwards supports the "knock" membership and join rule.
	Knocking bool
	// Room version 8 onwards supports the "restricted" join rule.
	RestrictedJoinRule bool
	// Room version 10 onwards supports the "knock_restricted" join rule.
	KnockRestrictedJoinRule bool
	// Room version 10 onwards only accepts JSON integers in power levels.
	IntegerPowerLevels bool
	// Room version 11 uses the sender of m.room.create as the creator rather
	// than the "creator" content key.
	UseRoomCreateSender bool
}

// RedactionRules select which keys survive redaction.
type RedactionRules struct {
	// Keep "aliases" in m.room.aliases (room versions 1 to 5).
	KeepRoomAliasesAliases bool
	// Keep "allow" in m.room.join_rules (room version 8 onwards).
	KeepRoomJoinRulesAllow bool
	// Keep "join_authorised_via_users_server" in m.room.member (room version
	// 9 onwards).
	KeepRoomMemberJoinAuthorisedViaUsersServer bool
	// Keep the top-level "origin", "membership" and "prev_state" keys
	// (room versions 1 to 10).
	KeepOriginMembershipAndPrevState bool
	// Keep the whole content of m.room.create rather than just "creator"
	// (room version 11).
	KeepRoomCreateContent bool
	// Keep "redacts" in the content of m.room.redaction (room version 11).
	KeepRoomRedactionRedacts bool
	// Keep "invite" in m.room.power_levels (room version 11).
	KeepRoomPowerLevelsInvite bool
	// Keep "third_party_invite.signed" in m.room.member (room version 11).
	KeepRoomMemberThirdPartyInviteSigned bool
	// "redacts" lives in the content of m.room.redaction rather than at the
	// top level (room version 11).
	ContentFieldRedacts bool
}

// EventFormatRules describe the shape of PDUs in a room version.
type EventFormatRules struct {
	// The "event_id" key is part of the PDU (room versions 1 and 2).
	RequireEventID bool
	// m.room.create carries a "room_id" key.
	RequireRoomCreateRoomID bool
	// m.room.create may be listed in auth_events.
	AllowRoomCreateInAuthEvents bool
}

// RoomVersionRules is the full set of rules for a room version. Values are
// immutable once built; GetRoomVersionRules hands out copies.
type RoomVersionRules struct {
	Version           RoomVersion
	Disposition       RoomVersionDisposition
	EventIDFormat     EventIDFormat
	StateResAlgorithm StateResAlgorithm
	Authorization     AuthorizationRules
	Redaction         RedactionRules
	EventFormat       EventFormatRules
}

// GetRoomVersionRules returns the rules for the given room version, or an
// UnsupportedRoomVersionError.
func GetRoomVersionRules(version RoomVersion) (RoomVersionRules, error) {
	rules, ok := roomVersionMeta[version]
	if !ok {
		return RoomVersionRules{}, UnsupportedRoomVersionError{Version: version}
	}
	return rules, nil
}

// MustGetRoomVersionRules is GetRoomVersionRules for constant input; it
// panics on unknown room versions.
func MustGetRoomVersionRules(version RoomVersion) RoomVersionRules {
	rules, err := GetRoomVersionRules(version)
	if err != nil {
		panic(err)
	}
	return rules
}

// KnownRoomVersion returns true if the room version has rules.
func KnownRoomVersion(version RoomVersion) bool {
	_, ok := roomVersionMeta[version]
	return ok
}

// StableRoomVersions returns the stable room versions in ascending order.
func StableRoomVersions() []RoomVersion {
	versions := make([]RoomVersion, 0, len(roomVersionMeta))
	for v, rules := range roomVersionMeta {
		if rules.Disposition == RoomVersionStable {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		if len(versions[i]) != len(versions[j]) {
			return len(versions[i]) < len(versions[j])
		}
		return versions[i] < versions[j]
	})
	return versions
}

// StateResAlgorithm returns the state resolution for the given room version.
func (v RoomVersion) StateResAlgorithm() StateResAlgorithm {
	if r, ok := roomVersionMeta[v]; ok {
		return r.StateResAlgorithm
	}
	return StateResV1
}

// EventIDFormat returns the event ID format for the given room version.
func (v RoomVersion) EventIDFormat() EventIDFormat {
	if r, ok := roomVersionMeta[v]; ok {
		return r.EventIDFormat
	}
	return EventIDFormatV1
}

var (
	authorizationRulesV1 = AuthorizationRules{
		SpecialCaseRoomRedaction: true,
		SpecialCaseRoomAliases:   true,
	}
	authorizationRulesV3 = AuthorizationRules{
		SpecialCaseRoomAliases: true,
	}
	authorizationRulesV6 = AuthorizationRules{
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
	}
	authorizationRulesV7 = withKnocking(authorizationRulesV6)
	authorizationRulesV8 = withRestrictedJoins(authorizationRulesV7)
	authorizationRulesV10 = AuthorizationRules{
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		Knocking:                      true,
		RestrictedJoinRule:            true,
		KnockRestrictedJoinRule:       true,
		IntegerPowerLevels:            true,
	}
	authorizationRulesV11 = AuthorizationRules{
		StrictCanonicalJSON:           true,
		LimitNotificationsPowerLevels: true,
		Knocking:                      true,
		RestrictedJoinRule:            true,
		KnockRestrictedJoinRule:       true,
		IntegerPowerLevels:            true,
		UseRoomCreateSender:           true,
	}

	redactionRulesV1 = RedactionRules{
		KeepRoomAliasesAliases:           true,
		KeepOriginMembershipAndPrevState: true,
	}
	redactionRulesV6 = RedactionRules{
		KeepOriginMembershipAndPrevState: true,
	}
	redactionRulesV8 = RedactionRules{
		KeepRoomJoinRulesAllow:           true,
		KeepOriginMembershipAndPrevState: true,
	}
	redactionRulesV9 = RedactionRules{
		KeepRoomJoinRulesAllow:                     true,
		KeepRoomMemberJoinAuthorisedViaUsersServer: true,
		KeepOriginMembershipAndPrevState:           true,
	}
	redactionRulesV11 = RedactionRules{
		KeepRoomJoinRulesAllow:                     true,
		KeepRoomMemberJoinAuthorisedViaUsersServer: true,
		KeepRoomCreateContent:                      true,
		KeepRoomRedactionRedacts:                   true,
		KeepRoomPowerLevelsInvite:                  true,
		KeepRoomMemberThirdPartyInviteSigned:       true,
		ContentFieldRedacts:                        true,
	}

	eventFormatV1 = EventFormatRules{
		RequireEventID:              true,
		RequireRoomCreateRoomID:     true,
		AllowRoomCreateInAuthEvents: true,
	}
	eventFormatV3 = EventFormatRules{
		RequireRoomCreateRoomID:     true,
		AllowRoomCreateInAuthEvents: true,
	}
)

func withKnocking(r AuthorizationRules) AuthorizationRules {
	r.Knocking = true
	return r
}

func withRestrictedJoins(r AuthorizationRules) AuthorizationRules {
	r.RestrictedJoinRule = true
	return r
}

var roomVersionMeta = map[RoomVersion]RoomVersionRules{
	RoomVersionV1: {
		Version:           RoomVersionV1,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV1,
		StateResAlgorithm: StateResV1,
		Authorization:     authorizationRulesV1,
		Redaction:         redactionRulesV1,
		EventFormat:       eventFormatV1,
	},
	RoomVersionV2: {
		Version:           RoomVersionV2,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV1,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV1,
		Redaction:         redactionRulesV1,
		EventFormat:       eventFormatV1,
	},
	RoomVersionV3: {
		Version:           RoomVersionV3,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV2,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV3,
		Redaction:         redactionRulesV1,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV4: {
		Version:           RoomVersionV4,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV3,
		Redaction:         redactionRulesV1,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV5: {
		Version:           RoomVersionV5,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV3,
		Redaction:         redactionRulesV1,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV6: {
		Version:           RoomVersionV6,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV6,
		Redaction:         redactionRulesV6,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV7: {
		Version:           RoomVersionV7,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV7,
		Redaction:         redactionRulesV6,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV8: {
		Version:           RoomVersionV8,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV8,
		Redaction:         redactionRulesV8,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV9: {
		Version:           RoomVersionV9,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV8,
		Redaction:         redactionRulesV9,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV10: {
		Version:           RoomVersionV10,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV10,
		Redaction:         redactionRulesV9,
		EventFormat:       eventFormatV3,
	},
	RoomVersionV11: {
		Version:           RoomVersionV11,
		Disposition:       RoomVersionStable,
		EventIDFormat:     EventIDFormatV3,
		StateResAlgorithm: StateResV2,
		Authorization:     authorizationRulesV11,
		Redaction:         redactionRulesV11,
		EventFormat:       eventFormatV3,
	},
}
