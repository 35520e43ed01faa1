package gomatrixstateres

import (
	"context"
	"fmt"

	"github.com/matrix-org/util"
	"golang.org/x/sync/errgroup"
)

// A RoomResolution asks for the state of one room to be resolved.
type RoomResolution struct {
	RoomID        string
	RoomVersion   RoomVersion
	StateSets     []StateMap
	AuthChainSets [][]string
	Provider      EventProvider
}

// ResolveRooms resolves the state of several rooms, running up to
// concurrency resolutions at once. Rooms share nothing, so the only limit is
// the load on the providers. The results are in the order of the requests.
// The first room that fails cancels the others and its error is returned.
func ResolveRooms(
	ctx context.Context, requests []RoomResolution, concurrency int, opts ...ResolveOption,
) ([]*ResolvedState, error) {
	results := make([]*ResolvedState, len(requests))
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range requests {
		i := i
		request := requests[i]
		g.Go(func() error {
			logger := util.GetLogger(ctx).WithField("room_id", request.RoomID)
			resolved, err := Resolve(
				util.ContextWithLogger(ctx, logger), request.RoomVersion, request.StateSets,
				request.AuthChainSets, request.Provider, opts...,
			)
			if err != nil {
				return fmt.Errorf("gomatrixstateres.ResolveRooms: room %s: %w", request.RoomID, err)
			}
			results[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
