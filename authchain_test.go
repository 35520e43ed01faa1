package gomatrixstateres_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"

	"github.com/matrix-org/gomatrixstateres"
)

// A linear room version 1 room: create, join, then two messages.
var (
	createJSON   = []byte(`{"auth_events":[],"content":{"creator":"@userid:baba.is.you"},"depth":0,"event_id":"$WCraVpPZe5TtHAqs:baba.is.you","hashes":{"sha256":"EehWNbKy+oDOMC0vIvYl1FekdDxMNuabXKUVzV7DG74"},"origin":"baba.is.you","origin_server_ts":0,"prev_events":[],"prev_state":[],"room_id":"!roomid:baba.is.you","sender":"@userid:baba.is.you","signatures":{"baba.is.you":{"ed25519:auto":"08aF4/bYWKrdGPFdXmZCQU6IrOE1ulpevmWBM3kiShJPAbRbZ6Awk7buWkIxlMF6kX3kb4QpbAlZfHLQgncjCw"}},"state_key":"","type":"m.room.create"}`)
	joinJSON     = []byte(`{"auth_events":[["$WCraVpPZe5TtHAqs:baba.is.you",{"sha256":"gBxQI2xzDLMoyIjkrpCJFBXC5NnrSemepc7SninSARI"}]],"content":{"membership":"join"},"depth":1,"event_id":"$fnwGrQEpiOIUoDU2:baba.is.you","hashes":{"sha256":"DqOjdFgvFQ3V/jvQW2j3ygHL4D+t7/LaIPZ/tHTDZtI"},"origin":"baba.is.you","origin_server_ts":0,"prev_events":[["$WCraVpPZe5TtHAqs:baba.is.you",{"sha256":"gBxQI2xzDLMoyIjkrpCJFBXC5NnrSemepc7SninSARI"}]],"prev_state":[],"room_id":"!roomid:baba.is.you","sender":"@userid:baba.is.you","signatures":{"baba.is.you":{"ed25519:auto":"qBWLb42zicQVsbh333YrcKpHfKokcUOM/ytldGlrgSdXqDEDDxvpcFlfadYnyvj3Z/GjA2XZkqKHanNEh575Bw"}},"state_key":"@userid:baba.is.you","type":"m.room.member"}`)
	message1JSON = []byte(`{"auth_events":[["$WCraVpPZe5TtHAqs:baba.is.you",{"sha256":"gBxQI2xzDLMoyIjkrpCJFBXC5NnrSemepc7SninSARI"}],["$fnwGrQEpiOIUoDU2:baba.is.you",{"sha256":"gUr26K5Tt7GQlNs8BlUup92gOzAZHbT8WNEobkrEIqk"}]],"content":{"body":"Test Message"},"depth":2,"event_id":"$xOJZshi3NeKKJiCf:baba.is.you","hashes":{"sha256":"lu5fF5HE090AXdu/+NpJ/RjRVRk/2tWCUozUc5t7Ru4"},"origin":"baba.is.you","origin_server_ts":0,"prev_events":[["$fnwGrQEpiOIUoDU2:baba.is.you",{"sha256":"gUr26K5Tt7GQlNs8BlUup92gOzAZHbT8WNEobkrEIqk"}]],"room_id":"!roomid:baba.is.you","sender":"@userid:baba.is.you","signatures":{"baba.is.you":{"ed25519:auto":"5KoVSLOBesqH9vciKXDExdu95lKFDtK1I72Hq1GG/UeEsH9jx7wL3V4jGYSKDnX2aLYp/VPiBQje7DFjde+hDQ"}},"type":"m.room.message"}`)
	message2JSON = []byte(`{"auth_events":[["$WCraVpPZe5TtHAqs:baba.is.you",{"sha256":"gBxQI2xzDLMoyIjkrpCJFBXC5NnrSemepc7SninSARI"}],["$fnwGrQEpiOIUoDU2:baba.is.you",{"sha256":"gUr26K5Tt7GQlNs8BlUup92gOzAZHbT8WNEobkrEIqk"}]],"content":{"body":"Test Message"},"depth":3,"event_id":"$4Kp0G1yWZ6tNpeI7:baba.is.you","hashes":{"sha256":"B+MjcGZRh72iaGOgyNbIxgFkHDJo6NO8NQDgiKDKDBA"},"origin":"baba.is.you","origin_server_ts":0,"prev_events":[["$xOJZshi3NeKKJiCf:baba.is.you",{"sha256":"5PGENImHC863Yz9sO6IJX+bIQthZFI2RMhFZyFy+bC0"}]],"room_id":"!roomid:baba.is.you","sender":"@userid:baba.is.you","signatures":{"baba.is.you":{"ed25519:auto":"rP+Ybp17GPCqQBrTQ3yz+q6PihdaMWvNY3SngV8aDLHv8wdDlH4ULGnjsB+Az7trqYdCE3rZVo9M7Hy5tOObDg"}},"type":"m.room.message"}`)
)

const (
	createID   = "$WCraVpPZe5TtHAqs:baba.is.you"
	joinID     = "$fnwGrQEpiOIUoDU2:baba.is.you"
	message1ID = "$xOJZshi3NeKKJiCf:baba.is.you"
	message2ID = "$4Kp0G1yWZ6tNpeI7:baba.is.you"
)

func provideEvents(t *testing.T, events ...[]byte) gomatrixstateres.EventMap {
	t.Helper()
	var result []gomatrixstateres.Event
	for _, eventJSON := range events {
		event, err := gomatrixstateres.NewRawEvent("", eventJSON, false)
		require.NoError(t, err)
		result = append(result, event)
	}
	return gomatrixstateres.NewEventMap(result)
}

func verify(t *testing.T, provider gomatrixstateres.EventMap) error {
	t.Helper()
	return gomatrixstateres.VerifyEventAuthChain(
		context.Background(), gomatrixstateres.RoomVersionV1, provider.Get(message2ID), provider,
	)
}

// A basic sanity check of a linear sequence of common events
func TestVerifyEventAuthChain(t *testing.T) {
	provider := provideEvents(t, createJSON, joinJSON, message1JSON, message2JSON)
	assert.NoError(t, verify(t, provider))
}

// A basic check that missing events causes a failure, in this example the membership event.
func TestVerifyEventAuthChainMissing(t *testing.T) {
	provider := provideEvents(t, createJSON, message1JSON, message2JSON)
	err := verify(t, provider)
	var missing gomatrixstateres.MissingEventError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, joinID, missing.EventID)
	assert.Equal(t, message2ID, missing.ForEventID)
}

// A basic check that lying about which auth events are required to send the event results in failure, in this
// example lying and saying you don't need the membership event.
func TestVerifyEventAuthChainLying(t *testing.T) {
	lying, err := sjson.DeleteBytes(message2JSON, "auth_events.1")
	require.NoError(t, err)
	provider := provideEvents(t, createJSON, joinJSON, message1JSON, lying)

	err = verify(t, provider)
	var notAllowed *gomatrixstateres.NotAllowed
	assert.True(t, errors.As(err, &notAllowed), "expected NotAllowed, got %v", err)
}

// A check to make sure that, even if the original specified event passes the check, if one of its auth events
// fails the check the whole thing fails. In this example, the membership event isn't valid as the membership is
// set to leave.
func TestVerifyEventAuthChainCascadeFailure(t *testing.T) {
	leave, err := sjson.SetBytes(joinJSON, "content.membership", "leave")
	require.NoError(t, err)
	provider := provideEvents(t, createJSON, leave, message1JSON, message2JSON)

	assert.Error(t, verify(t, provider))
}

func TestAuthChain(t *testing.T) {
	provider := provideEvents(t, createJSON, joinJSON, message1JSON, message2JSON)

	chain, err := gomatrixstateres.AuthChain(context.Background(), provider, []string{message1ID, message2ID})
	require.NoError(t, err)
	ids := chain.Slice()
	sort.Strings(ids)
	assert.Equal(t, []string{createID, joinID}, ids)

	// An event is only in the result if another one needs it.
	chain, err = gomatrixstateres.AuthChain(context.Background(), provider, []string{joinID, message1ID})
	require.NoError(t, err)
	ids = chain.Slice()
	sort.Strings(ids)
	assert.Equal(t, []string{createID, joinID}, ids)

	chain, err = gomatrixstateres.AuthChain(context.Background(), provider, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, chain.Size())
}

func TestAuthChainMissing(t *testing.T) {
	provider := provideEvents(t, createJSON, message1JSON)
	_, err := gomatrixstateres.AuthChain(context.Background(), provider, []string{message1ID})
	var missing gomatrixstateres.MissingEventError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, joinID, missing.EventID)
	assert.Equal(t, message1ID, missing.ForEventID)
}

func TestAuthChainCancelled(t *testing.T) {
	provider := provideEvents(t, createJSON, joinJSON, message1JSON)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gomatrixstateres.AuthChain(ctx, provider, []string{message1ID})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAuthChainDifference(t *testing.T) {
	tests := []struct {
		name   string
		chains [][]string
		want   []string
	}{
		{"no chains", nil, nil},
		{"one chain", [][]string{{"a", "b"}}, nil},
		{"identical", [][]string{{"a", "b"}, {"b", "a"}}, nil},
		{"disjoint", [][]string{{"c", "a"}, {"b"}}, []string{"a", "b", "c"}},
		{"overlapping", [][]string{{"a", "b", "c"}, {"a", "c", "d"}, {"a", "c"}}, []string{"b", "d"}},
		{"duplicates in a chain", [][]string{{"a", "a"}, {"b"}}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gomatrixstateres.AuthChainDifference(tt.chains))
		})
	}
}
