package probe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSysRoot is where sysfs is mounted.
const DefaultSysRoot = "/sys"

// TofinoVendorIDs are the PCI vendor ids used by Tofino ASICs
// (Barefoot Networks, later Intel).
var TofinoVendorIDs = []string{"0x1d1c"}

// ErrNoDevice is returned when no switch ASIC is visible in sysfs.
var ErrNoDevice = errors.New("no switch ASIC found in sysfs")

// SysfsLocator finds the ASIC without the vendor SDE. It prefers the
// class device registered by the bf kernel drivers and falls back to
// scanning PCI devices by vendor id.
type SysfsLocator struct {
	// Root is the sysfs mount point. Empty means DefaultSysRoot.
	Root string
}

func (l SysfsLocator) root() string {
	if l.Root == "" {
		return DefaultSysRoot
	}
	return l.Root
}

// DevicePath implements Locator.
func (l SysfsLocator) DevicePath() (string, error) {
	classDev := filepath.Join(l.root(), "class", "bf", "bf0", "device")
	if info, err := os.Stat(classDev); err == nil && info.IsDir() {
		return classDev, nil
	}
	return l.scanPCI()
}

func (l SysfsLocator) scanPCI() (string, error) {
	devicesDir := filepath.Join(l.root(), "bus", "pci", "devices")
	entries, err := os.ReadDir(devicesDir)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", devicesDir, err)
	}

	// Lowest PCI address first, so unit 0 is deterministic.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		dev := filepath.Join(devicesDir, name)
		if isTofino(readSysfsString(filepath.Join(dev, "vendor"))) {
			return dev, nil
		}
	}
	return "", ErrNoDevice
}

func isTofino(vendor string) bool {
	for _, id := range TofinoVendorIDs {
		if strings.EqualFold(vendor, id) {
			return true
		}
	}
	return false
}

// readSysfsString returns the trimmed contents of a sysfs attribute, or
// "" if it cannot be read.
func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
