package gomatrixstateres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableRoomVersions(t *testing.T) {
	assert.Equal(t, []RoomVersion{
		RoomVersionV1, RoomVersionV2, RoomVersionV3, RoomVersionV4, RoomVersionV5, RoomVersionV6,
		RoomVersionV7, RoomVersionV8, RoomVersionV9, RoomVersionV10, RoomVersionV11,
	}, StableRoomVersions())
}

func TestRoomVersionAlgorithms(t *testing.T) {
	assert.Equal(t, StateResV1, RoomVersionV1.StateResAlgorithm())
	for _, version := range StableRoomVersions()[1:] {
		assert.Equal(t, StateResV2, version.StateResAlgorithm(), version)
	}
	assert.Equal(t, EventIDFormatV1, RoomVersionV2.EventIDFormat())
	assert.Equal(t, EventIDFormatV2, RoomVersionV3.EventIDFormat())
	assert.Equal(t, EventIDFormatV3, RoomVersionV11.EventIDFormat())
}

func TestGetRoomVersionRules(t *testing.T) {
	rules, err := GetRoomVersionRules(RoomVersionV9)
	require.NoError(t, err)
	assert.Equal(t, RoomVersionV9, rules.Version)
	assert.True(t, rules.Authorization.RestrictedJoinRule)
	assert.False(t, rules.Authorization.KnockRestrictedJoinRule)
	assert.True(t, rules.Redaction.KeepRoomMemberJoinAuthorisedViaUsersServer)

	// The rules handed out are copies.
	rules.Authorization.Knocking = false
	assert.True(t, MustGetRoomVersionRules(RoomVersionV9).Authorization.Knocking)

	_, err = GetRoomVersionRules("org.example.custom")
	var unsupported UnsupportedRoomVersionError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, RoomVersion("org.example.custom"), unsupported.Version)
	assert.False(t, KnownRoomVersion("org.example.custom"))
	assert.Panics(t, func() { MustGetRoomVersionRules("org.example.custom") })
}

func TestRoomVersionFeatures(t *testing.T) {
	tests := []struct {
		check    func(RoomVersionRules) bool
		sinceVer RoomVersion
	}{
		{check: func(r RoomVersionRules) bool { return r.Authorization.StrictCanonicalJSON }, sinceVer: RoomVersionV6},
		{check: func(r RoomVersionRules) bool { return r.Authorization.Knocking }, sinceVer: RoomVersionV7},
		{check: func(r RoomVersionRules) bool { return r.Authorization.RestrictedJoinRule }, sinceVer: RoomVersionV8},
		{check: func(r RoomVersionRules) bool { return r.Authorization.KnockRestrictedJoinRule }, sinceVer: RoomVersionV10},
		{check: func(r RoomVersionRules) bool { return r.Authorization.IntegerPowerLevels }, sinceVer: RoomVersionV10},
		{check: func(r RoomVersionRules) bool { return r.Authorization.UseRoomCreateSender }, sinceVer: RoomVersionV11},
		{check: func(r RoomVersionRules) bool { return !r.Authorization.SpecialCaseRoomAliases }, sinceVer: RoomVersionV6},
		{check: func(r RoomVersionRules) bool { return !r.Authorization.SpecialCaseRoomRedaction }, sinceVer: RoomVersionV3},
		{check: func(r RoomVersionRules) bool { return !r.EventFormat.RequireEventID }, sinceVer: RoomVersionV3},
	}
	for i, tt := range tests {
		enabled := false
		for _, version := range StableRoomVersions() {
			if version == tt.sinceVer {
				enabled = true
			}
			assert.Equal(t, enabled, tt.check(MustGetRoomVersionRules(version)), "feature %d in room version %s", i, version)
		}
	}
}
