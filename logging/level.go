// Package logging builds the agent's structured loggers.
//
// Loggers are plain *slog.Logger values. Each subsystem tags its logger
// with a component attribute (see Component) and a Spec decides the
// minimum level per component, so "info,switchd=debug" turns on debug
// output for the vendor driver bring-up only.
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level extends slog's levels with a trace level below debug. The
// values for debug through error equal the slog constants.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

var levelNames = map[string]Level{
	"trace":   LevelTrace,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"err":     LevelError,
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// Slog converts l to a slog.Level.
func (l Level) Slog() slog.Level {
	return slog.Level(l)
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}
