// Package probe inspects the host for the Tofino kernel packet driver.
//
// The bf_kpkt kernel module exposes a dev_add attribute in the ASIC's
// sysfs device directory. When that file can be opened, packets to and
// from the CPU port go through the kernel driver and bf_switchd must be
// started with its kernel_pkt option, whatever the configuration says.
package probe

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

// MarkerName is the sysfs attribute created by the kernel packet driver.
const MarkerName = "dev_add"

// Locator finds the sysfs device directory of the switch ASIC.
type Locator interface {
	DevicePath() (string, error)
}

// Result is the outcome of a probe.
type Result struct {
	// DevicePath is the ASIC's sysfs directory, empty if not located.
	DevicePath string
	// MarkerPath is DevicePath + "/dev_add".
	MarkerPath string
	// KernelPacketDriver reports whether the marker could be opened.
	KernelPacketDriver bool
}

// Probe looks for the kernel packet driver marker. It never fails: a
// locator error or an unopenable marker both mean the driver is absent.
func Probe(locator Locator, logger *slog.Logger) Result {
	var res Result

	dev, err := locator.DevicePath()
	if err != nil || dev == "" {
		logger.Debug("switch sysfs path not found, assuming no kernel packet driver", "error", err)
		return res
	}
	res.DevicePath = dev
	res.MarkerPath = filepath.Join(dev, MarkerName)

	f, err := os.Open(res.MarkerPath)
	if err != nil {
		logger.Debug("kernel packet driver marker not present", "path", res.MarkerPath, "error", err)
		return res
	}
	f.Close()

	res.KernelPacketDriver = true
	logger.Info("kernel mode packet driver present, forcing kernel_pkt option", "path", res.MarkerPath)
	return res
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func() (string, error)

// DevicePath calls f.
func (f LocatorFunc) DevicePath() (string, error) { return f() }

// First returns a Locator that tries each locator in order and returns
// the first path found. The errors of failed locators are joined.
func First(locators ...Locator) Locator {
	return LocatorFunc(func() (string, error) {
		var errs []error
		for _, l := range locators {
			path, err := l.DevicePath()
			if err == nil && path != "" {
				return path, nil
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			return "", ErrNoDevice
		}
		return "", errors.Join(errs...)
	})
}
