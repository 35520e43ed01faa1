package gomatrixstateres

import (
	"github.com/tidwall/gjson"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// MembershipChangeKind classifies the transition between two m.room.member
// events for the same user.
type MembershipChangeKind int

const (
	// MembershipChangeNone means the membership did not change.
	MembershipChangeNone MembershipChangeKind = iota
	// MembershipChangeError is a transition the authorisation rules never allow.
	MembershipChangeError
	MembershipChangeJoined
	MembershipChangeLeft
	MembershipChangeBanned
	MembershipChangeUnbanned
	MembershipChangeKicked
	MembershipChangeInvited
	MembershipChangeKickedAndBanned
	MembershipChangeInvitationAccepted
	MembershipChangeInvitationRejected
	MembershipChangeInvitationRevoked
	MembershipChangeKnocked
	MembershipChangeKnockAccepted
	MembershipChangeKnockRetracted
	MembershipChangeKnockDenied
	// MembershipChangeProfileChanged is a join following a join.
	MembershipChangeProfileChanged
	// MembershipChangeNotImplemented covers unknown memberships.
	MembershipChangeNotImplemented
)

var membershipChangeNames = map[MembershipChangeKind]string{
	MembershipChangeNone:               "none",
	MembershipChangeError:              "error",
	MembershipChangeJoined:             "joined",
	MembershipChangeLeft:               "left",
	MembershipChangeBanned:             "banned",
	MembershipChangeUnbanned:           "unbanned",
	MembershipChangeKicked:             "kicked",
	MembershipChangeInvited:            "invited",
	MembershipChangeKickedAndBanned:    "kicked_and_banned",
	MembershipChangeInvitationAccepted: "invitation_accepted",
	MembershipChangeInvitationRejected: "invitation_rejected",
	MembershipChangeInvitationRevoked:  "invitation_revoked",
	MembershipChangeKnocked:            "knocked",
	MembershipChangeKnockAccepted:      "knock_accepted",
	MembershipChangeKnockRetracted:     "knock_retracted",
	MembershipChangeKnockDenied:        "knock_denied",
	MembershipChangeProfileChanged:     "profile_changed",
	MembershipChangeNotImplemented:     "not_implemented",
}

func (k MembershipChangeKind) String() string {
	if name, ok := membershipChangeNames[k]; ok {
		return name
	}
	return "unknown"
}

// MembershipDetails are the parts of a m.room.member event that a
// membership change depends on.
type MembershipDetails struct {
	Membership  spec.Membership
	DisplayName *string
	AvatarURL   *string
}

// MembershipDetailsOf reads the membership details from a m.room.member
// event. A nil event is a user who has left.
func MembershipDetailsOf(memberEvent Event) (MembershipDetails, error) {
	membership, err := membershipOf(memberEvent)
	if err != nil {
		return MembershipDetails{}, err
	}
	details := MembershipDetails{Membership: membership}
	if memberEvent == nil {
		return details, nil
	}
	content := gjson.ParseBytes(memberEvent.Content())
	if displayName := content.Get("displayname"); displayName.Type == gjson.String {
		details.DisplayName = &displayName.Str
	}
	if avatarURL := content.Get("avatar_url"); avatarURL.Type == gjson.String {
		details.AvatarURL = &avatarURL.Str
	}
	return details, nil
}

// A MembershipChange describes a transition between two memberships.
type MembershipChange struct {
	Kind MembershipChangeKind
	// Set for MembershipChangeProfileChanged.
	DisplayNameChanged bool
	AvatarURLChanged   bool
}

// MembershipChangeFor classifies the change from prev to next. prev is nil
// if the user had no membership before. sender and stateKey are those of
// the event carrying next; they tell a user leaving from a user being
// removed.
func MembershipChangeFor(prev *MembershipDetails, next MembershipDetails, sender, stateKey string) MembershipChange {
	if prev == nil {
		prev = &MembershipDetails{Membership: spec.Leave}
	}
	self := sender == stateKey
	kind := MembershipChangeNotImplemented

	switch from, to := prev.Membership, next.Membership; {
	case from == to && from != spec.Join:
		kind = MembershipChangeNone
	case from == spec.Join && to == spec.Join:
		return MembershipChange{
			Kind:               MembershipChangeProfileChanged,
			DisplayNameChanged: !equalOptionalStrings(prev.DisplayName, next.DisplayName),
			AvatarURLChanged:   !equalOptionalStrings(prev.AvatarURL, next.AvatarURL),
		}
	case to == spec.Join:
		switch from {
		case spec.Invite:
			kind = MembershipChangeInvitationAccepted
		case spec.Leave, spec.Knock:
			kind = MembershipChangeJoined
		case spec.Ban:
			kind = MembershipChangeError
		}
	case to == spec.Leave:
		switch from {
		case spec.Join:
			kind = pick(self, MembershipChangeLeft, MembershipChangeKicked)
		case spec.Invite:
			kind = pick(self, MembershipChangeInvitationRejected, MembershipChangeInvitationRevoked)
		case spec.Knock:
			kind = pick(self, MembershipChangeKnockRetracted, MembershipChangeKnockDenied)
		case spec.Ban:
			kind = MembershipChangeUnbanned
		}
	case to == spec.Ban:
		switch from {
		case spec.Join:
			kind = MembershipChangeKickedAndBanned
		case spec.Invite, spec.Leave, spec.Knock:
			kind = MembershipChangeBanned
		}
	case to == spec.Invite:
		switch from {
		case spec.Leave:
			kind = MembershipChangeInvited
		case spec.Knock:
			kind = MembershipChangeKnockAccepted
		case spec.Join, spec.Ban:
			kind = MembershipChangeError
		}
	case to == spec.Knock:
		switch from {
		case spec.Leave:
			kind = MembershipChangeKnocked
		case spec.Join, spec.Invite, spec.Ban:
			kind = MembershipChangeError
		}
	}
	return MembershipChange{Kind: kind}
}

func pick(self bool, ifSelf, otherwise MembershipChangeKind) MembershipChangeKind {
	if self {
		return ifSelf
	}
	return otherwise
}

func equalOptionalStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
