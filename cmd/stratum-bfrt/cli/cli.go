package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/sslauro/stratum/config"
	"github.com/sslauro/stratum/logging"
)

// CLI is the root command structure for stratum-bfrt.
type CLI struct {
	Config     string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log        string `name:"log" help:"Log spec (e.g., 'info,bringup=debug')." env:"STRATUM_LOG"`
	RuntimeDir Path   `name:"runtime-dir" help:"Runtime directory (overrides runtime.dir)."`
	Journal    Path   `name:"journal" help:"Boot journal database (overrides runtime.journal)."`

	Run   RunCmd   `cmd:"" default:"withargs" help:"Start switchd and serve (default)."`
	Boots BootsCmd `cmd:"" help:"List recorded bring-ups from the boot journal."`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("stratum-bfrt"),
		kong.Description("Stratum agent for Tofino switches driven through BfRt."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(Path{}), pathMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// Path is a filesystem path with tilde expansion.
type Path struct {
	Path string
}

// ParsePath expands a leading "~/" to the home directory.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Path{}, fmt.Errorf("path cannot be empty")
	}
	if strings.HasPrefix(s, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Path{}, fmt.Errorf("cannot expand ~: %w", err)
		}
		s = home + s[1:]
	}
	return Path{Path: s}, nil
}

func pathMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("path", &s); err != nil {
			return err
		}
		p, err := ParsePath(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(p))
		return nil
	}
}

// LoadConfig loads the configuration from the config file path and
// applies the global overrides.
func (c *CLI) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}
	if c.RuntimeDir.Path != "" {
		cfg.Runtime.Dir = c.RuntimeDir.Path
	}
	if c.Journal.Path != "" {
		cfg.Runtime.Journal = c.Journal.Path
	}
	return cfg, nil
}

// Logger creates a logger from cfg with --log taking precedence.
// Output goes to out, stdout when nil.
func (c *CLI) Logger(cfg config.Config, out io.Writer) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     out,
	})
}

// RuntimeDirs returns the runtime layout rooted at cfg.Runtime.Dir.
func (c *CLI) RuntimeDirs(cfg config.Config) (config.RuntimeDirs, error) {
	if cfg.Runtime.Dir == "" {
		return config.DefaultRuntimeDirs(), nil
	}
	return config.NewRuntimeDirs(cfg.Runtime.Dir)
}
