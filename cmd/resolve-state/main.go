// Command resolve-state resolves the state of rooms described by YAML
// fixtures and prints the result as JSON.
//
// Usage:
//
//	resolve-state [--config resolver.yaml] [--log-level debug] fixture.yaml...
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/matrix-org/gomatrixstateres"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type resolvedSlot struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	EventID  string `json:"event_id"`
}

type resolvedRoom struct {
	Fixture  string         `json:"fixture"`
	RoomID   string         `json:"room_id"`
	State    []resolvedSlot `json:"state"`
	Rejected []string       `json:"rejected"`
}

func run(args []string, out io.Writer) error {
	var configPath, logLevel string
	var overlay bool

	flagSet := pflag.NewFlagSet("resolve-state", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a resolver YAML config")
	flagSet.StringVar(&logLevel, "log-level", "warn", "logrus log level")
	flagSet.BoolVar(&overlay, "overlay-unconflicted", false, "apply unconflicted state without re-authorising it (overrides the config)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	fixtures := flagSet.Args()
	if len(fixtures) == 0 {
		return fmt.Errorf("no fixtures given")
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	ctx := util.ContextWithLogger(context.Background(), logrus.NewEntry(logger))

	cfg := &gomatrixstateres.ResolverConfig{}
	cfg.Defaults()
	if configPath != "" {
		if cfg, err = gomatrixstateres.LoadResolverConfig(configPath); err != nil {
			return err
		}
	}
	if flagSet.Changed("overlay-unconflicted") {
		cfg.OverlayUnconflicted = overlay
	}

	requests := make([]gomatrixstateres.RoomResolution, 0, len(fixtures))
	for _, path := range fixtures {
		f, err := loadFixture(path)
		if err != nil {
			return err
		}
		request, err := f.resolution(ctx, cfg.DefaultRoomVersion)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if request.Provider, err = cfg.EventProvider(request.Provider, nil); err != nil {
			return err
		}
		requests = append(requests, *request)
	}

	results, err := gomatrixstateres.ResolveRooms(ctx, requests, cfg.MaxConcurrentRooms, cfg.Options()...)
	if err != nil {
		return err
	}

	rooms := make([]resolvedRoom, len(results))
	for i, result := range results {
		rooms[i] = resolvedRoom{
			Fixture:  fixtures[i],
			RoomID:   requests[i].RoomID,
			State:    make([]resolvedSlot, 0, len(result.State)),
			Rejected: result.Rejected,
		}
		for tuple, eventID := range result.State {
			rooms[i].State = append(rooms[i].State, resolvedSlot{tuple.EventType, tuple.StateKey, eventID})
		}
		sort.Slice(rooms[i].State, func(a, b int) bool {
			sa, sb := rooms[i].State[a], rooms[i].State[b]
			if sa.Type != sb.Type {
				return sa.Type < sb.Type
			}
			return sa.StateKey < sb.StateKey
		})
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rooms)
}
