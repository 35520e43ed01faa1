package gomatrixstateres

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/matrix-org/gomatrixstateres/spec"
)

const (
	// The event ID, room ID, sender, event type and state key fields cannot be
	// bigger than this.
	maxIDLength = 255
	// The entire event JSON, including signatures, cannot be bigger than this
	// once canonicalised.
	maxEventLength = 65535
	// The most prev_events and auth_events a PDU may reference.
	maxPrevEvents = 20
	maxAuthEvents = 10
)

// EventValidationErrorCode says which class of format check failed.
type EventValidationErrorCode int

const (
	EventValidationTooLarge EventValidationErrorCode = iota + 1
	EventValidationMissingField
	EventValidationBadField
)

// EventValidationError is returned by CheckPDUFormat.
type EventValidationError struct {
	Code    EventValidationErrorCode
	Message string
}

func (e EventValidationError) Error() string {
	return fmt.Sprintf("gomatrixstateres: invalid PDU: %s", e.Message)
}

func validationErrorf(code EventValidationErrorCode, format string, args ...interface{}) error {
	return EventValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CheckPDUFormat checks that the event JSON respects the event format of
// the room version and the size limits of the protocol. This is the first
// of the checks performed on receipt of a PDU.
// https://spec.matrix.org/v1.8/client-server-api/#size-limits
func CheckPDUFormat(eventJSON []byte, rules RoomVersionRules) error { // nolint: gocyclo
	canonical, err := EnforcedCanonicalJSON(eventJSON, rules.Authorization)
	if err != nil {
		return err
	}
	if l := len(canonical); l > maxEventLength {
		return validationErrorf(EventValidationTooLarge, "event is too long, length %d bytes > maximum %d bytes", l, maxEventLength)
	}
	pdu := gjson.ParseBytes(canonical)
	if !pdu.IsObject() {
		return validationErrorf(EventValidationBadField, "event is not a JSON object")
	}

	eventType, err := requiredStringField(pdu, "type")
	if err != nil {
		return err
	}
	if _, err = requiredStringField(pdu, "sender"); err != nil {
		return err
	}
	var roomID string
	if eventType != spec.MRoomCreate || rules.EventFormat.RequireRoomCreateRoomID {
		if roomID, err = requiredStringField(pdu, "room_id"); err != nil {
			return err
		}
	}
	if rules.EventFormat.RequireEventID {
		if _, err = requiredStringField(pdu, "event_id"); err != nil {
			return err
		}
	}
	if _, _, err = optionalStringField(pdu, "state_key"); err != nil {
		return err
	}

	if _, err = requiredArrayField(pdu, "prev_events", maxPrevEvents); err != nil {
		return err
	}
	authEvents, err := requiredArrayField(pdu, "auth_events", maxAuthEvents)
	if err != nil {
		return err
	}
	if !rules.EventFormat.AllowRoomCreateInAuthEvents && roomID != "" {
		// The room ID is the reference hash of the m.room.create event, which
		// must not be listed.
		createHash := strings.TrimPrefix(roomID, "!")
		for _, authEvent := range authEvents {
			if authEvent.Type != gjson.String || !strings.HasPrefix(authEvent.Str, "$") {
				return validationErrorf(EventValidationBadField, "unexpected format of item in auth_events")
			}
			if authEvent.Str[1:] == createHash {
				return validationErrorf(EventValidationBadField, "auth_events cannot contain the m.room.create event ID")
			}
		}
	}

	depth := pdu.Get("depth")
	switch {
	case !depth.Exists():
		return validationErrorf(EventValidationMissingField, "missing depth field")
	case depth.Type != gjson.Number || !isCanonicalInteger(depth.Raw):
		return validationErrorf(EventValidationBadField, "depth must be an integer")
	case depth.Int() < 0:
		return validationErrorf(EventValidationBadField, "depth cannot be negative")
	}
	return nil
}

func optionalStringField(pdu gjson.Result, field string) (string, bool, error) {
	value := pdu.Get(field)
	if !value.Exists() {
		return "", false, nil
	}
	if value.Type != gjson.String {
		return "", false, validationErrorf(EventValidationBadField, "%s must be a string", field)
	}
	if l := len(value.Str); l > maxIDLength {
		return "", false, validationErrorf(EventValidationTooLarge, "%s is too long, length %d bytes > maximum %d bytes", field, l, maxIDLength)
	}
	return value.Str, true, nil
}

func requiredStringField(pdu gjson.Result, field string) (string, error) {
	value, ok, err := optionalStringField(pdu, field)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", validationErrorf(EventValidationMissingField, "missing %s field", field)
	}
	return value, nil
}

func requiredArrayField(pdu gjson.Result, field string, maxLength int) ([]gjson.Result, error) {
	value := pdu.Get(field)
	if !value.Exists() {
		return nil, validationErrorf(EventValidationMissingField, "missing %s field", field)
	}
	if !value.IsArray() {
		return nil, validationErrorf(EventValidationBadField, "%s must be an array", field)
	}
	items := value.Array()
	if len(items) > maxLength {
		return nil, validationErrorf(EventValidationTooLarge, "%s has %d items > maximum %d", field, len(items), maxLength)
	}
	return items, nil
}
