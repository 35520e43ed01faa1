package gomatrixstateres

import (
	"fmt"
	"sort"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// sortable maps a signed integer onto an unsigned one with the same
// ordering, so that it can be written as fixed-width hex and compared as a
// string.
func sortable(x int64) uint64 {
	return uint64(x) ^ (1 << 63)
}

// A powerOrder is the tie-break used when sorting power events: the sender's
// power level descending, then origin_server_ts ascending, then event ID
// ascending. Working out the power level ahead of time means the sort
// itself never has to touch event content.
type powerOrder struct {
	powerLevel     int64
	originServerTS spec.Timestamp
	eventID        string
}

// key encodes the order as a string whose lexicographical order is the
// order of the events.
func (o powerOrder) key() string {
	return fmt.Sprintf("%016x%016x%s", ^sortable(o.powerLevel), sortable(int64(o.originServerTS)), o.eventID)
}

func (o powerOrder) less(other powerOrder) bool {
	if o.powerLevel != other.powerLevel {
		return o.powerLevel > other.powerLevel
	}
	if o.originServerTS != other.originServerTS {
		return o.originServerTS < other.originServerTS
	}
	return o.eventID < other.eventID
}

// A powerOrderBlock sorts a block of events by powerOrder using sort.Sort.
type powerOrderBlock []powerOrder

func (s powerOrderBlock) Len() int           { return len(s) }
func (s powerOrderBlock) Less(i, j int) bool { return s[i].less(s[j]) }
func (s powerOrderBlock) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// A mainlineOrder is the order of the non-power events: the position of
// the closest mainline power levels event ascending, then origin_server_ts
// ascending, then event ID ascending.
type mainlineOrder struct {
	mainlinePosition int
	originServerTS   spec.Timestamp
	eventID          string
}

// A mainlineOrderBlock sorts a block of events by mainlineOrder using
// sort.Sort.
type mainlineOrderBlock []mainlineOrder

func (s mainlineOrderBlock) Len() int { return len(s) }

func (s mainlineOrderBlock) Less(i, j int) bool {
	if s[i].mainlinePosition != s[j].mainlinePosition {
		return s[i].mainlinePosition < s[j].mainlinePosition
	}
	if s[i].originServerTS != s[j].originServerTS {
		return s[i].originServerTS < s[j].originServerTS
	}
	return s[i].eventID < s[j].eventID
}

func (s mainlineOrderBlock) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

func (s mainlineOrderBlock) eventIDs() []string {
	sort.Sort(s)
	ids := make([]string, len(s))
	for i := range s {
		ids[i] = s[i].eventID
	}
	return ids
}
