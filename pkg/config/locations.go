package config

import (
	"fmt"
	"path"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// LocationConfig holds the listing rules of one URL prefix.
type LocationConfig struct {
	// AutoIndex enables generated directory listings. Unset means enabled.
	AutoIndex *bool `mapstructure:"auto_index" yaml:"auto_index,omitempty"`

	// Index is a file, relative to the directory, served instead of a listing
	Index string `mapstructure:"index" yaml:"index,omitempty"`
}

// Listable reports whether a generated listing may be served.
func (l LocationConfig) Listable() bool {
	return l.AutoIndex == nil || *l.AutoIndex
}

// decodeLocations converts the raw locations section into typed rules keyed
// by normalized prefix ("/", "/docs").
func decodeLocations(raw map[string]map[string]any) (map[string]LocationConfig, error) {
	rules := make(map[string]LocationConfig, len(raw))

	for prefix, settings := range raw {
		var loc LocationConfig
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &loc,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("locations[%q]: %w", prefix, err)
		}
		if err := decoder.Decode(settings); err != nil {
			return nil, fmt.Errorf("locations[%q]: %w", prefix, err)
		}

		rules[normalizePrefix(prefix)] = loc
	}

	return rules, nil
}

// SetLocations replaces the locations section and its decoded rules.
func (c *Config) SetLocations(raw map[string]map[string]any) error {
	rules, err := decodeLocations(raw)
	if err != nil {
		return err
	}
	c.Locations = raw
	c.locationRules = rules
	return nil
}

func normalizePrefix(prefix string) string {
	return path.Clean("/" + strings.Trim(prefix, "/"))
}

// Location returns the rule with the longest prefix matching location, a
// root-relative slash path ("" for the root itself). Locations outside the
// root ("../...") never match a rule.
func (c *Config) Location(location string) (LocationConfig, bool) {
	if location == ".." || strings.HasPrefix(location, "../") {
		return LocationConfig{}, false
	}
	target := normalizePrefix(location)

	best := ""
	var found LocationConfig
	for prefix, loc := range c.locationRules {
		if !prefixMatches(prefix, target) {
			continue
		}
		if len(prefix) > len(best) {
			best = prefix
			found = loc
		}
	}

	return found, best != ""
}

func prefixMatches(prefix, target string) bool {
	if prefix == "/" || prefix == target {
		return true
	}
	return strings.HasPrefix(target, prefix+"/")
}
