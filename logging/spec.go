package logging

import (
	"fmt"
	"sort"
	"strings"
)

// Spec is a base level plus optional per-component overrides.
//
// Format: "<base-level>[,<component>=<level>]..."
//
//	"info"                          all components at info
//	"warn,switchd=debug"            vendor driver at debug, rest at warn
//	"info,bringup=trace,hal=debug"  multiple overrides
type Spec struct {
	Base       Level
	Components map[string]Level
}

// ParseSpec parses a log spec. The empty string means info with no
// overrides. A bare level is only accepted as the first element.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{Base: LevelInfo, Components: map[string]Level{}}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, isOverride := strings.Cut(part, "=")
		if !isOverride {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in spec", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.Base = level
			continue
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		level, err := ParseLevel(value)
		if err != nil {
			return spec, fmt.Errorf("invalid level for component %q: %w", name, err)
		}
		spec.Components[name] = level
	}

	return spec, nil
}

// LevelFor returns the effective level for component.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.Base
}

// String renders the spec in parseable form with components sorted.
func (s *Spec) String() string {
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{s.Base.String()}
	for _, name := range names {
		parts = append(parts, name+"="+s.Components[name].String())
	}
	return strings.Join(parts, ",")
}
