package spec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/gomatrixstateres/spec"
)

func TestParseUserID(t *testing.T) {
	for raw, want := range map[string]spec.UserID{
		"@alice:example.com":      {Localpart: "alice", Domain: "example.com"},
		"@alice:example.com:8448": {Localpart: "alice", Domain: "example.com:8448"},
		"@a:1":                    {Localpart: "a", Domain: "1"},
		"@bob:[::1]:80":           {Localpart: "bob", Domain: "[::1]:80"},
		// Localparts from before the grammar was tightened.
		"@Alice!:example.com": {Localpart: "Alice!", Domain: "example.com"},
	} {
		userID, err := spec.ParseUserID(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, userID)
		assert.Equal(t, raw, userID.String())
	}
}

func TestParseUserIDInvalid(t *testing.T) {
	for name, raw := range map[string]string{
		"no_sigil":       "alice:example.com",
		"wrong_sigil":    "!alice:example.com",
		"no_domain":      "@alicealice",
		"empty_domain":   "@a:",
		"bad_domain":     "@alice:exa mple.com",
		"empty_local":    "@:example.com",
		"space_in_local": "@al ice:example.com",
		"non_ascii":      "@al\u00efce:example.com",
		"too_long":       "@" + strings.Repeat("a", 250) + ":example.com",
	} {
		_, err := spec.ParseUserID(raw)
		assert.Error(t, err, name)
	}
}

func TestRoomIDDomain(t *testing.T) {
	domain, err := spec.RoomIDDomain("!opaque:example.com")
	require.NoError(t, err)
	assert.Equal(t, spec.ServerName("example.com"), domain)

	// The server name is everything after the first ':'.
	domain, err = spec.RoomIDDomain("!a:b:example.com")
	require.NoError(t, err)
	assert.Equal(t, spec.ServerName("b:example.com"), domain)

	for _, bad := range []string{"opaque:example.com", "!:example.com", "!opaque", "!a:", ""} {
		_, err := spec.RoomIDDomain(bad)
		assert.Error(t, err, bad)
	}
}

func TestEventIDDomain(t *testing.T) {
	domain, ok := spec.EventIDDomain("$abc:example.com")
	assert.True(t, ok)
	assert.Equal(t, spec.ServerName("example.com"), domain)

	_, ok = spec.EventIDDomain("$acR1l0raoZnm60CBwAVgqbZqoO_mYU81xysh1u7XcJk")
	assert.False(t, ok)
	_, ok = spec.EventIDDomain("")
	assert.False(t, ok)
}

func TestServerNames(t *testing.T) {
	valid := map[spec.ServerName]struct {
		host string
		port int
	}{
		"example.com":       {"example.com", -1},
		"example.com:8448":  {"example.com", 8448},
		"1.2.3.4":           {"1.2.3.4", -1},
		"[1234:5678::abcd]": {"[1234:5678::abcd]", -1},
		"[::1]:80":          {"[::1]", 80},
	}
	for name, want := range valid {
		host, port, ok := spec.ParseAndValidateServerName(name)
		assert.True(t, ok, name)
		assert.Equal(t, want.host, host, name)
		assert.Equal(t, want.port, port, name)
	}
	for _, name := range []spec.ServerName{"", "exa_mple.com", "[::1", ":80"} {
		_, _, ok := spec.ParseAndValidateServerName(name)
		assert.False(t, ok, name)
	}
}

func TestEventTypeOpenEnum(t *testing.T) {
	assert.False(t, spec.EventType(spec.MRoomPowerLevels).IsCustom())
	custom := spec.EventType("org.example.custom")
	assert.True(t, custom.IsCustom())
	assert.Equal(t, "org.example.custom", custom.String())

	assert.False(t, spec.Membership(spec.Knock).IsCustom())
	assert.True(t, spec.Membership("xyz").IsCustom())
	assert.False(t, spec.JoinRule(spec.KnockRestricted).IsCustom())
	assert.True(t, spec.JoinRule("xyz").IsCustom())
}
