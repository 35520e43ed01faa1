package gomatrixstateres

import (
	"sort"

	"github.com/matrix-org/gomatrixstateres/spec"
)

// A stateResolverV1 tracks the internal state of the original state
// resolution algorithm, used by room version 1. It has 2 sections:
//
//   - Lists of blocks of conflicted events to resolve, grouped by event type
//     and state key.
//   - The partially resolved state that later blocks are authed against.
type stateResolverV1 struct {
	*resolver
	// Blocks of conflicted events to resolve:
	//   * creates, powerLevels, joinRules have empty state keys and hold at
	//     most one block each.
	//   * thirdPartyInvites, members and others hold a block per state key.
	creates           []conflictedBlock
	powerLevels       []conflictedBlock
	joinRules         []conflictedBlock
	thirdPartyInvites []conflictedBlock
	members           []conflictedBlock
	others            []conflictedBlock
	// The partially resolved state, starting with the unconflicted state.
	resolved StateMap
}

// A conflictedBlock is the set of candidate events for one slot of state.
type conflictedBlock struct {
	tuple    StateKeyTuple
	eventIDs []string
}

// resolveV1 implements the original state resolution algorithm.
// https://spec.matrix.org/v1.8/rooms/v1/#state-resolution
//
// The slots are resolved a class at a time, auth events first, so that the
// winners of each class are available when authing the next. Within a slot
// the candidates are tried in power order and the first one that passes
// the auth checks wins.
func (r *resolver) resolveV1(unconflicted StateMap, conflicted map[StateKeyTuple][]string) (StateMap, error) {
	v1 := stateResolverV1{
		resolver: r,
		resolved: unconflicted.Clone(),
	}
	v1.addConflicted(conflicted)

	for _, blocks := range [][]conflictedBlock{
		v1.creates, v1.powerLevels, v1.joinRules, v1.thirdPartyInvites, v1.members, v1.others,
	} {
		if err := v1.resolveAndAddBlocks(blocks); err != nil {
			return nil, err
		}
	}
	return v1.resolved, nil
}

// addConflicted splits up the conflicted slots into blocks, separating the
// auth events into specifically named lists because they are resolved
// first. The blocks of each list are sorted by slot.
func (r *stateResolverV1) addConflicted(conflicted map[StateKeyTuple][]string) {
	for tuple, eventIDs := range conflicted {
		block := conflictedBlock{tuple: tuple, eventIDs: eventIDs}
		// By default we add the block to the others list.
		blockList := &r.others
		switch tuple.EventType {
		case spec.MRoomCreate:
			if tuple.StateKey == "" {
				blockList = &r.creates
			}
		case spec.MRoomPowerLevels:
			if tuple.StateKey == "" {
				blockList = &r.powerLevels
			}
		case spec.MRoomJoinRules:
			if tuple.StateKey == "" {
				blockList = &r.joinRules
			}
		case spec.MRoomThirdPartyInvite:
			blockList = &r.thirdPartyInvites
		case spec.MRoomMember:
			blockList = &r.members
		}
		*blockList = append(*blockList, block)
	}
	for _, blocks := range [][]conflictedBlock{r.thirdPartyInvites, r.members, r.others} {
		sort.Slice(blocks, func(i, j int) bool {
			if blocks[i].tuple.EventType != blocks[j].tuple.EventType {
				return blocks[i].tuple.EventType < blocks[j].tuple.EventType
			}
			return blocks[i].tuple.StateKey < blocks[j].tuple.StateKey
		})
	}
}

// resolveAndAddBlocks resolves each block in a list of blocks of the same
// class. Once every block has been resolved the winners are added to the
// resolved state, so that the result doesn't depend on the order the blocks
// of a class are resolved in.
func (r *stateResolverV1) resolveAndAddBlocks(blocks []conflictedBlock) error {
	winners := make(StateMap, len(blocks))
	for _, block := range blocks {
		eventID, err := r.resolveBlock(block)
		if err != nil {
			return err
		}
		if eventID != "" {
			winners[block.tuple] = eventID
		}
	}
	for tuple, eventID := range winners {
		r.resolved[tuple] = eventID
	}
	return nil
}

// resolveBlock resolves a block of events with the same type and state key
// to a single event. The candidates are sorted by the power level of their
// sender descending, then by origin_server_ts, then by event ID, and the
// first one allowed by the partially resolved state wins. Candidates tried
// before it are rejected. If no candidate is allowed the slot is left
// empty.
func (r *stateResolverV1) resolveBlock(block conflictedBlock) (string, error) {
	candidates := make(powerOrderBlock, 0, len(block.eventIDs))
	for _, eventID := range block.eventIDs {
		event, err := r.stateEvent(block.tuple, eventID)
		if err != nil {
			return "", err
		}
		candidates = append(candidates, powerOrder{
			powerLevel:     r.senderPowerLevel(event),
			originServerTS: event.OriginServerTS(),
			eventID:        eventID,
		})
	}
	sort.Sort(candidates)

	for _, candidate := range candidates {
		allowed, err := r.authCheck(candidate.eventID, r.resolved)
		if err != nil {
			return "", err
		}
		if allowed {
			return candidate.eventID, nil
		}
		r.rejected.Insert(candidate.eventID)
	}
	r.logger.WithField("event_type", block.tuple.EventType).WithField("state_key", block.tuple.StateKey).
		Warn("No candidate for conflicted state was allowed")
	return "", nil
}
