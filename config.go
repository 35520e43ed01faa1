package gomatrixstateres

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ResolverConfig is the YAML configuration of a resolver.
type ResolverConfig struct {
	// Check the signatures on third party invites when authorising
	// m.room.member events that carry one.
	VerifyThirdPartyInviteSignatures bool `yaml:"verify_third_party_invite_signatures"`
	// Lay unconflicted state over the resolved state without
	// re-authorising it.
	OverlayUnconflicted bool `yaml:"overlay_unconflicted"`
	// How many events EventProvider caches. 0 disables the cache.
	EventCacheSize int `yaml:"event_cache_size"`
	// How many rooms ResolveRooms resolves at once.
	MaxConcurrentRooms int `yaml:"max_concurrent_rooms"`
	// The room version assumed when a fixture does not give one.
	DefaultRoomVersion RoomVersion `yaml:"default_room_version"`
}

// Defaults sets the default values.
func (c *ResolverConfig) Defaults() {
	c.VerifyThirdPartyInviteSignatures = false
	c.OverlayUnconflicted = false
	c.EventCacheSize = DefaultEventCacheSize
	c.MaxConcurrentRooms = 4
	c.DefaultRoomVersion = RoomVersionV10
}

// Verify checks the configuration, returning every problem found.
func (c *ResolverConfig) Verify() []error {
	var errs []error
	if c.EventCacheSize < 0 {
		errs = append(errs, fmt.Errorf("event_cache_size must not be negative, got %d", c.EventCacheSize))
	}
	if c.MaxConcurrentRooms < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_rooms must be at least 1, got %d", c.MaxConcurrentRooms))
	}
	if !KnownRoomVersion(c.DefaultRoomVersion) {
		errs = append(errs, fmt.Errorf("default_room_version: %w", UnsupportedRoomVersionError{Version: c.DefaultRoomVersion}))
	}
	return errs
}

// Options returns the ResolveOptions the configuration asks for.
func (c *ResolverConfig) Options() []ResolveOption {
	var opts []ResolveOption
	if c.VerifyThirdPartyInviteSignatures {
		opts = append(opts, WithAuthCheckOptions(WithThirdPartyInviteVerification()))
	}
	if c.OverlayUnconflicted {
		opts = append(opts, WithUnconflictedOverlay())
	}
	return opts
}

// EventProvider wraps the provider in a CachingEventProvider of
// EventCacheSize events. With a size of 0 the provider is returned as is.
func (c *ResolverConfig) EventProvider(provider EventProvider, metrics *Metrics) (EventProvider, error) {
	if c.EventCacheSize == 0 {
		return provider, nil
	}
	return NewCachingEventProvider(provider, c.EventCacheSize, metrics)
}

// ParseResolverConfig parses YAML on top of the defaults and verifies the
// result.
func ParseResolverConfig(configYAML []byte) (*ResolverConfig, error) {
	var c ResolverConfig
	c.Defaults()
	if err := yaml.UnmarshalStrict(configYAML, &c); err != nil {
		return nil, fmt.Errorf("failed to parse resolver config: %w", err)
	}
	if errs := c.Verify(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid resolver config: %v", errs)
	}
	return &c, nil
}

// LoadResolverConfig reads and parses a YAML configuration file.
func LoadResolverConfig(path string) (*ResolverConfig, error) {
	configYAML, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseResolverConfig(configYAML)
}
