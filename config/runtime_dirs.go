package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRuntimeBase is the production runtime root.
const DefaultRuntimeBase = "/run/stratum"

// RuntimeDirs holds the on-host paths used by the agent:
//
//	{base}/                  - runtime root
//	{base}/.lock             - single-instance lock
//	{base}/config/           - persistent config (last pushed chassis config)
//	{base}/journal/boot.db   - default boot journal location
//
// RuntimeDirs is immutable after construction. Use NewRuntimeDirs to create.
type RuntimeDirs struct {
	base    string
	lock    string
	config  string
	journal string
}

// DefaultRuntimeDirs returns RuntimeDirs rooted at DefaultRuntimeBase.
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs(DefaultRuntimeBase)
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs creates RuntimeDirs rooted at base, which must be a
// non-empty absolute path.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)

	return RuntimeDirs{
		base:    base,
		lock:    filepath.Join(base, ".lock"),
		config:  filepath.Join(base, "config"),
		journal: filepath.Join(base, "journal"),
	}, nil
}

// Base returns the runtime root path.
func (d RuntimeDirs) Base() string { return d.base }

// Lock returns the single-instance lock file path.
func (d RuntimeDirs) Lock() string { return d.lock }

// PersistentConfig returns the persistent config directory.
func (d RuntimeDirs) PersistentConfig() string { return d.config }

// Journal returns the journal directory.
func (d RuntimeDirs) Journal() string { return d.journal }

// JournalPath returns the default boot journal database path.
func (d RuntimeDirs) JournalPath() string {
	return filepath.Join(d.journal, "boot.db")
}

// ChassisConfigCopy is where the last successfully pushed chassis
// config is saved.
func (d RuntimeDirs) ChassisConfigCopy() string {
	return filepath.Join(d.config, "chassis_config.yaml")
}

// EnsureBase creates the runtime root. The service object calls this
// before taking the instance lock.
func (d RuntimeDirs) EnsureBase() error {
	if err := os.MkdirAll(d.base, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.base, err)
	}
	return nil
}

// EnsureDirectories creates every runtime directory. MkdirAll is
// idempotent, so this is safe on every start.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.config, d.journal} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
