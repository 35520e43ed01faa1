package spec

import (
	"fmt"
	"strings"
)

const (
	userSigil  = '@'
	roomSigil  = '!'
	eventSigil = '$'
)

// maxUserIDLength is the longest user ID the protocol allows, in bytes.
const maxUserIDLength = 255

// splitID splits a sigilled ID at the first ':' into the part after the
// sigil and the server name.
func splitID(sigil byte, id string) (string, ServerName, error) {
	if len(id) == 0 || id[0] != sigil {
		return "", "", fmt.Errorf("%q does not start with '%c'", id, sigil)
	}
	local, domain, found := strings.Cut(id[1:], ":")
	if !found || domain == "" {
		return "", "", fmt.Errorf("%q has no server name", id)
	}
	return local, ServerName(domain), nil
}

// A UserID is a parsed user ID of the form @localpart:server.
type UserID struct {
	Localpart string
	Domain    ServerName
}

// ParseUserID parses a user ID as found in the sender, state_key or content
// of room events. Rooms keep events from before the localpart grammar was
// tightened, so the localpart may hold any printable ASCII but ':'.
// https://spec.matrix.org/v1.8/appendices/#historical-user-ids
func ParseUserID(id string) (UserID, error) {
	if len(id) > maxUserIDLength {
		return UserID{}, fmt.Errorf("user ID is %d bytes long, more than %d", len(id), maxUserIDLength)
	}
	local, domain, err := splitID(userSigil, id)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user ID: %w", err)
	}
	if local == "" {
		return UserID{}, fmt.Errorf("invalid user ID %q: empty localpart", id)
	}
	for _, r := range local {
		if r < 0x21 || r > 0x7E {
			return UserID{}, fmt.Errorf("invalid user ID %q: localpart contains %q", id, r)
		}
	}
	if _, _, ok := ParseAndValidateServerName(domain); !ok {
		return UserID{}, fmt.Errorf("invalid user ID %q: bad server name", id)
	}
	return UserID{Localpart: local, Domain: domain}, nil
}

func (u UserID) String() string {
	return string(userSigil) + u.Localpart + ":" + string(u.Domain)
}

// RoomIDDomain returns the server name of a room ID, which is where the
// room was created. The opaque part may hold anything but must not be empty.
func RoomIDDomain(roomID string) (ServerName, error) {
	opaque, domain, err := splitID(roomSigil, roomID)
	if err != nil {
		return "", fmt.Errorf("invalid room ID: %w", err)
	}
	if opaque == "" {
		return "", fmt.Errorf("invalid room ID %q: empty opaque ID", roomID)
	}
	return domain, nil
}

// EventIDDomain returns the server name embedded in an event ID. Only event
// IDs from room versions 1 and 2 carry one; later formats are bare hashes
// and return false.
func EventIDDomain(eventID string) (ServerName, bool) {
	_, domain, err := splitID(eventSigil, eventID)
	return domain, err == nil
}

