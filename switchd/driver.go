package switchd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sslauro/stratum/bfrt"
)

// StatusNotBuilt is returned by the SDE driver of a binary built
// without the bfsde tag.
const StatusNotBuilt = -1

// PortSpeed is a front-panel port speed in bits per second.
type PortSpeed uint64

const (
	Speed10G  PortSpeed = 10_000_000_000
	Speed25G  PortSpeed = 25_000_000_000
	Speed40G  PortSpeed = 40_000_000_000
	Speed100G PortSpeed = 100_000_000_000
)

// PAL is the port abstraction layer of the vendor driver. One instance
// exists per process.
type PAL interface {
	PortAdd(ctx context.Context, unit int, port uint32, speed PortSpeed) error
	PortEnable(ctx context.Context, unit int, port uint32) error
	PortDelete(ctx context.Context, unit int, port uint32) error
}

// Driver is the vendor switch driver.
type Driver interface {
	// Init starts the driver with cfg and returns the vendor status;
	// 0 means success. It blocks until the driver is up.
	Init(cfg LaunchConfig) int
	// DeviceManager returns the driver's device manager. Valid after a
	// successful Init.
	DeviceManager() bfrt.DeviceManager
	// PAL returns the driver's port abstraction layer.
	PAL() PAL
}

// InitError reports a non-zero status from the vendor driver.
type InitError struct {
	Status int
}

func (e *InitError) Error() string {
	return fmt.Sprintf("error when starting switchd, status: %d", e.Status)
}

// Initialize starts drv with cfg. There are no retries: a failing
// driver means the install, the hardware or the device is unusable.
func Initialize(drv Driver, cfg LaunchConfig, logger *slog.Logger) error {
	logger.Debug("starting switchd", "config", cfg.String())
	if status := drv.Init(cfg); status != 0 {
		return &InitError{Status: status}
	}
	logger.Info("switchd started successfully")
	return nil
}
