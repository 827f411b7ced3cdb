// Package config handles stratum-bfrt agent configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded via go:embed from default.toml)
//  2. Overlay with config file values (if the file exists)
//  3. CLI flags and environment variables override at runtime (handled by CLI layer)
//
// The TOML decoder only sets fields present in the file, leaving
// unspecified fields at their default values. A config file that
// exists but does not parse is an error; a missing one is not.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the agent config file.
const DefaultConfigPath = "/etc/stratum/stratum-bfrt.toml"

// Config is the top-level agent configuration.
type Config struct {
	Switchd  SwitchdConfig  `toml:"switchd"`
	Service  ServiceConfig  `toml:"service"`
	Security SecurityConfig `toml:"security"`
	Logging  LoggingConfig  `toml:"logging"`
	Runtime  RuntimeConfig  `toml:"runtime"`
}

// SwitchdConfig carries the vendor driver launch settings.
type SwitchdConfig struct {
	// InstallDir is the SDE install directory. Required.
	InstallDir string `toml:"install_dir"`
	// ConfFile is the bf_switchd JSON config file.
	ConfFile string `toml:"conf_file"`
	// Background runs bf_switchd without the interactive ucli shell.
	Background bool `toml:"background"`
	// KernelPacket requests the kernel packet driver. Detection of the
	// bf_kpkt module overrides a false value here.
	KernelPacket bool `toml:"kernel_packet"`
	// Sim selects the simulated platform abstraction.
	Sim bool `toml:"sim"`
}

// ServiceConfig controls the long-running service object.
type ServiceConfig struct {
	// ListenAddress is the gRPC listen address.
	ListenAddress string `toml:"listen_address"`
	// AdminAddress is the optional admin HTTP address. Empty disables it.
	AdminAddress string `toml:"admin_address"`
	// ChassisConfigFile is pushed to the switch during setup. Optional.
	ChassisConfigFile string `toml:"chassis_config_file"`
}

// SecurityConfig controls TLS material and authorization.
type SecurityConfig struct {
	CACertFile     string `toml:"ca_cert_file"`
	ServerCertFile string `toml:"server_cert_file"`
	ServerKeyFile  string `toml:"server_key_file"`
	// KeyIdentityFile is an age identity used to decrypt ServerKeyFile.
	// Empty means the key file is plain PEM.
	KeyIdentityFile string `toml:"key_identity_file"`
	// AuthorizationPolicyFile is a YAML policy. Empty allows every call.
	AuthorizationPolicyFile string `toml:"authorization_policy_file"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g., "info" or "info,bringup=debug").
	Level string `toml:"level"`
	// Format is the output format: "text" or "json".
	Format string `toml:"format"`
	// Components provides an alternative way to specify per-component levels.
	Components map[string]string `toml:"components"`
}

// RuntimeConfig controls on-host state locations.
type RuntimeConfig struct {
	// Dir is the runtime root (lock file, persistent config).
	Dir string `toml:"dir"`
	// Journal is the boot journal database path. Empty means
	// {dir}/journal/boot.db; JournalDisabled turns the journal off.
	Journal string `toml:"journal"`
}

// JournalDisabled as runtime.journal turns the boot journal off.
const JournalDisabled = "off"

// JournalPath resolves the boot journal location against dirs. It
// returns "" when the journal is disabled.
func (c *RuntimeConfig) JournalPath(dirs RuntimeDirs) string {
	switch c.Journal {
	case JournalDisabled:
		return ""
	case "":
		return dirs.JournalPath()
	}
	return c.Journal
}

// ToSpec converts the LoggingConfig to a log spec string. Level wins
// over Components when both are set.
func (c *LoggingConfig) ToSpec() string {
	if c.Level != "" {
		return c.Level
	}
	if len(c.Components) == 0 {
		return ""
	}

	names := make([]string, 0, len(c.Components))
	for name := range c.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{"info"}
	for _, name := range names {
		parts = append(parts, name+"="+c.Components[name])
	}
	return strings.Join(parts, ",")
}

// Secure reports whether any TLS material is configured.
func (c *SecurityConfig) Secure() bool {
	return c.CACertFile != "" || c.ServerCertFile != "" || c.ServerKeyFile != ""
}

// DefaultConfig returns the configuration embedded in default.toml.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is compiled in; fall back to a minimal config.
		return Config{
			Switchd: SwitchdConfig{ConfFile: "/etc/stratum/tofino_skip_p4.conf"},
			Service: ServiceConfig{ListenAddress: "0.0.0.0:9339"},
			Logging: LoggingConfig{Level: "info", Format: "text"},
			Runtime: RuntimeConfig{Dir: DefaultRuntimeBase},
		}
	}
	return cfg
}

// Load reads configuration from path with overlay semantics.
//
//   - File missing: returns the default configuration (no error)
//   - File exists and valid: overlays file values onto defaults
//   - File exists but invalid: returns an error
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown keys in config file: %v", undecoded)
	}

	return cfg, nil
}

// Validate checks cross-field consistency. The install directory is
// checked by switchd.NewLaunchConfig.
func (c *Config) Validate() error {
	s := c.Security
	if s.KeyIdentityFile != "" && s.ServerKeyFile == "" {
		return fmt.Errorf("security.key_identity_file requires security.server_key_file")
	}
	if c.Service.ListenAddress == "" {
		return fmt.Errorf("service.listen_address cannot be empty")
	}
	return nil
}
