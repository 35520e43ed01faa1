package gomatrixstateres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/gomatrixstateres/spec"
)

func TestMembershipDetailsOf(t *testing.T) {
	details, err := MembershipDetailsOf(nil)
	require.NoError(t, err)
	assert.Equal(t, MembershipDetails{Membership: spec.Leave}, details)

	join := stateEvent("$join:example.com", BOB, spec.MRoomMember, &BOB, 1,
		`{"membership": "join", "displayname": "Bob", "avatar_url": 12}`)
	details, err = MembershipDetailsOf(join)
	require.NoError(t, err)
	assert.Equal(t, spec.Membership(spec.Join), details.Membership)
	require.NotNil(t, details.DisplayName)
	assert.Equal(t, "Bob", *details.DisplayName)
	assert.Nil(t, details.AvatarURL, "non-string avatar URLs are ignored")

	broken := stateEvent("$broken:example.com", BOB, spec.MRoomMember, &BOB, 1, `{"membership": 1}`)
	_, err = MembershipDetailsOf(broken)
	var badJSON BadJSONError
	assert.ErrorAs(t, err, &badJSON)
}

func TestMembershipChangeFor(t *testing.T) {
	const other = "@other:example.com"
	tests := []struct {
		from, to spec.Membership
		sender   string
		want     MembershipChangeKind
	}{
		{spec.Leave, spec.Join, BOB, MembershipChangeJoined},
		{spec.Invite, spec.Join, BOB, MembershipChangeInvitationAccepted},
		{spec.Knock, spec.Join, BOB, MembershipChangeJoined},
		{spec.Ban, spec.Join, BOB, MembershipChangeError},
		{spec.Join, spec.Leave, BOB, MembershipChangeLeft},
		{spec.Join, spec.Leave, other, MembershipChangeKicked},
		{spec.Invite, spec.Leave, BOB, MembershipChangeInvitationRejected},
		{spec.Invite, spec.Leave, other, MembershipChangeInvitationRevoked},
		{spec.Knock, spec.Leave, BOB, MembershipChangeKnockRetracted},
		{spec.Knock, spec.Leave, other, MembershipChangeKnockDenied},
		{spec.Ban, spec.Leave, other, MembershipChangeUnbanned},
		{spec.Join, spec.Ban, other, MembershipChangeKickedAndBanned},
		{spec.Leave, spec.Ban, other, MembershipChangeBanned},
		{spec.Leave, spec.Invite, other, MembershipChangeInvited},
		{spec.Knock, spec.Invite, other, MembershipChangeKnockAccepted},
		{spec.Ban, spec.Invite, other, MembershipChangeError},
		{spec.Leave, spec.Knock, BOB, MembershipChangeKnocked},
		{spec.Invite, spec.Knock, BOB, MembershipChangeError},
		{spec.Leave, spec.Leave, BOB, MembershipChangeNone},
		{spec.Ban, spec.Ban, other, MembershipChangeNone},
		{spec.Leave, "custom", BOB, MembershipChangeNotImplemented},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got := MembershipChangeFor(&MembershipDetails{Membership: tt.from}, MembershipDetails{Membership: tt.to}, tt.sender, BOB)
			assert.Equal(t, tt.want, got.Kind, "got %s", got.Kind)
		})
	}
}

func TestMembershipChangeForNoPreviousMembership(t *testing.T) {
	got := MembershipChangeFor(nil, MembershipDetails{Membership: spec.Join}, BOB, BOB)
	assert.Equal(t, MembershipChangeJoined, got.Kind)
}

func TestMembershipChangeProfile(t *testing.T) {
	name, otherName := "Bob", "Robert"
	avatar := "mxc://example.com/bob"
	prev := &MembershipDetails{Membership: spec.Join, DisplayName: &name, AvatarURL: &avatar}

	got := MembershipChangeFor(prev, MembershipDetails{Membership: spec.Join, DisplayName: &otherName, AvatarURL: &avatar}, BOB, BOB)
	assert.Equal(t, MembershipChange{Kind: MembershipChangeProfileChanged, DisplayNameChanged: true}, got)

	got = MembershipChangeFor(prev, MembershipDetails{Membership: spec.Join, DisplayName: &name}, BOB, BOB)
	assert.Equal(t, MembershipChange{Kind: MembershipChangeProfileChanged, AvatarURLChanged: true}, got)
	assert.Equal(t, "profile_changed", got.Kind.String())
	assert.Equal(t, "unknown", MembershipChangeKind(-1).String())
}
