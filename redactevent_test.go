package gomatrixstateres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redactWith(t *testing.T, version RoomVersion, eventJSON string) string {
	t.Helper()
	redacted, err := RedactEventJSON([]byte(eventJSON), MustGetRoomVersionRules(version).Redaction)
	require.NoError(t, err)
	return string(CanonicalJSONAssumeValid(redacted))
}

func canonical(eventJSON string) string {
	return string(CanonicalJSONAssumeValid([]byte(eventJSON)))
}

func TestRedactionJoinAuthorisedViaUsersServer(t *testing.T) {
	// Room version 9 keeps the `join_authorised_via_users_server` key.
	input := `{"content":{"avatar_url":"mxc://something/somewhere","displayname":"Someone","join_authorised_via_users_server":"@someoneelse:somewhere.org","membership":"join"},"origin_server_ts":1633108629915,"sender":"@someone:somewhere.org","state_key":"@someone:somewhere.org","type":"m.room.member","unsigned":{"age":539338},"room_id":"!someroom:matrix.org"}`
	expectedv8 := canonical(`{"sender":"@someone:somewhere.org","room_id":"!someroom:matrix.org","content":{"membership":"join"},"type":"m.room.member","state_key":"@someone:somewhere.org","origin_server_ts":1633108629915}`)
	expectedv9 := canonical(`{"sender":"@someone:somewhere.org","room_id":"!someroom:matrix.org","content":{"membership":"join","join_authorised_via_users_server":"@someoneelse:somewhere.org"},"type":"m.room.member","state_key":"@someone:somewhere.org","origin_server_ts":1633108629915}`)

	assert.Equal(t, expectedv8, redactWith(t, RoomVersionV8, input))
	assert.Equal(t, expectedv9, redactWith(t, RoomVersionV9, input))
	// Redacting twice changes nothing.
	assert.Equal(t, expectedv8, redactWith(t, RoomVersionV9, expectedv8))
}

func TestRedactionAliases(t *testing.T) {
	input := `{"content":{"aliases":["#a:example.com"],"other":1},"origin":"example.com","sender":"@a:example.com","state_key":"example.com","type":"m.room.aliases","room_id":"!r:example.com"}`
	assert.Equal(t,
		canonical(`{"content":{"aliases":["#a:example.com"]},"origin":"example.com","sender":"@a:example.com","state_key":"example.com","type":"m.room.aliases","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV5, input))
	assert.Equal(t,
		canonical(`{"content":{},"origin":"example.com","sender":"@a:example.com","state_key":"example.com","type":"m.room.aliases","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV6, input))
}

func TestRedactionRoomVersion11(t *testing.T) {
	create := `{"content":{"room_version":"11","m.federate":false,"extra":{"nested":true}},"origin":"example.com","sender":"@a:example.com","state_key":"","type":"m.room.create","room_id":"!r:example.com"}`
	assert.Equal(t,
		canonical(`{"content":{"extra":{"nested":true},"m.federate":false,"room_version":"11"},"sender":"@a:example.com","state_key":"","type":"m.room.create","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV11, create))
	assert.Equal(t,
		canonical(`{"content":{},"origin":"example.com","sender":"@a:example.com","state_key":"","type":"m.room.create","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV10, create))

	powerLevels := `{"content":{"invite":50,"ban":50,"historical":100},"sender":"@a:example.com","state_key":"","type":"m.room.power_levels","room_id":"!r:example.com"}`
	assert.Equal(t,
		canonical(`{"content":{"ban":50,"invite":50},"sender":"@a:example.com","state_key":"","type":"m.room.power_levels","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV11, powerLevels))
	assert.Equal(t,
		canonical(`{"content":{"ban":50},"sender":"@a:example.com","state_key":"","type":"m.room.power_levels","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV10, powerLevels))

	invite := `{"content":{"membership":"invite","third_party_invite":{"display_name":"alice","signed":{"mxid":"@b:example.com","token":"abc"}}},"sender":"@a:example.com","state_key":"@b:example.com","type":"m.room.member","room_id":"!r:example.com"}`
	assert.Equal(t,
		canonical(`{"content":{"membership":"invite","third_party_invite":{"signed":{"mxid":"@b:example.com","token":"abc"}}},"sender":"@a:example.com","state_key":"@b:example.com","type":"m.room.member","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV11, invite))
}

func TestRedactionAddsContent(t *testing.T) {
	assert.Equal(t,
		canonical(`{"content":{},"sender":"@a:example.com","type":"m.room.message","room_id":"!r:example.com"}`),
		redactWith(t, RoomVersionV10, `{"sender":"@a:example.com","type":"m.room.message","room_id":"!r:example.com"}`))
}

func TestRedactionBadJSON(t *testing.T) {
	rules := MustGetRoomVersionRules(RoomVersionV10).Redaction
	for _, input := range []string{`{`, `[]`, `{"content":{}}`} {
		_, err := RedactEventJSON([]byte(input), rules)
		var badJSON BadJSONError
		assert.ErrorAs(t, err, &badJSON, input)
	}
	_, err := RedactContent("m.room.member", []byte(`"membership"`), rules)
	assert.Error(t, err)
}
