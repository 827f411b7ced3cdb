package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar names the environment variable holding a log spec.
const EnvVar = "STRATUM_LOG"

// Format is the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text" or "json"; empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %q", s)
}

// Options configures New. The first non-empty spec in the order
// CLISpec, EnvSpec, ConfigSpec wins.
type Options struct {
	CLISpec    string
	EnvSpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New creates a logger whose records are filtered per component.
func New(opts Options) (*slog.Logger, error) {
	raw := opts.ConfigSpec
	if opts.EnvSpec != "" {
		raw = opts.EnvSpec
	}
	if opts.CLISpec != "" {
		raw = opts.CLISpec
	}

	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	// The inner handler accepts everything; componentFilter decides.
	handlerOpts := &slog.HandlerOptions{Level: LevelTrace.Slog()}
	var inner slog.Handler
	if opts.Format == FormatJSON {
		inner = slog.NewJSONHandler(out, handlerOpts)
	} else {
		inner = slog.NewTextHandler(out, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Component returns logger tagged with the component attribute. A nil
// logger yields slog.Default().
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(ComponentKey, name)
}

// Discard returns a logger that drops everything. Used by tests and
// by collaborators constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
