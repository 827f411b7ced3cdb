// Package switchd starts the vendor switch driver (bf_switchd).
//
// NewLaunchConfig builds the immutable launch configuration from the
// agent's options and Initialize hands it to a Driver. The driver is
// either the SDE itself (build tag bfsde, requires cgo) or the
// in-memory software driver used for dry runs and tests.
package switchd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// ErrInstallDirRequired is returned when no SDE install directory was
// supplied. It is the only mandatory launch option.
var ErrInstallDirRequired = errors.New("flag --bf-sde-install is required")

// Options are the caller-supplied launch settings.
type Options struct {
	// InstallDir is the SDE install directory ($SDE_INSTALL).
	InstallDir string
	// ConfFile is the switchd configuration file.
	ConfFile string
	// Background runs switchd without the interactive ucli shell.
	Background bool
	// KernelPacket requests the kernel packet driver.
	KernelPacket bool
}

// LaunchConfig is the bf_switchd context. It is a value: getters only,
// and ForceKernelPacket returns a modified copy.
type LaunchConfig struct {
	installDir   string
	confFile     string
	background   bool
	shell        bool
	skipP4       bool
	kernelPacket bool
}

// NewLaunchConfig validates opts and builds the launch configuration.
// Exactly one of background and shell mode is set, and P4 loading is
// always skipped since pipelines are pushed through the bfrt layer.
func NewLaunchConfig(opts Options) (LaunchConfig, error) {
	if opts.InstallDir == "" {
		return LaunchConfig{}, ErrInstallDirRequired
	}
	return LaunchConfig{
		installDir:   opts.InstallDir,
		confFile:     opts.ConfFile,
		background:   opts.Background,
		shell:        !opts.Background,
		skipP4:       true,
		kernelPacket: opts.KernelPacket,
	}, nil
}

// InstallDir returns the SDE install directory.
func (c LaunchConfig) InstallDir() string { return c.installDir }

// ConfFile returns the switchd configuration file.
func (c LaunchConfig) ConfFile() string { return c.confFile }

// Background reports whether switchd runs in the background.
func (c LaunchConfig) Background() bool { return c.background }

// Shell reports whether the interactive ucli shell is enabled.
func (c LaunchConfig) Shell() bool { return c.shell }

// SkipP4 reports whether switchd skips loading a P4 program.
func (c LaunchConfig) SkipP4() bool { return c.skipP4 }

// KernelPacket reports whether the kernel packet driver is used.
func (c LaunchConfig) KernelPacket() bool { return c.kernelPacket }

// ForceKernelPacket returns a copy with the kernel packet driver on.
func (c LaunchConfig) ForceKernelPacket() LaunchConfig {
	c.kernelPacket = true
	return c
}

func (c LaunchConfig) String() string {
	return fmt.Sprintf("install_dir=%s conf_file=%s background=%t shell=%t skip_p4=%t kernel_pkt=%t",
		c.installDir, c.confFile, c.background, c.shell, c.skipP4, c.kernelPacket)
}

// ConfigDigest returns the hex BLAKE3 digest of the file at path.
func ConfigDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open switchd config: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read switchd config %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
