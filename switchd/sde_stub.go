//go:build !(bfsde && cgo)

package switchd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sslauro/stratum/bfrt"
)

// ErrSDENotBuilt is returned by every SDE entry point of a binary built
// without the bfsde tag.
var ErrSDENotBuilt = errors.New("binary built without SDE support (build tag bfsde)")

// SDE stands in for the SDE driver in binaries built without it. Init
// always fails with StatusNotBuilt.
type SDE struct {
	logger *slog.Logger
}

// NewSDE returns the SDE driver.
func NewSDE(logger *slog.Logger) *SDE {
	return &SDE{logger: logger}
}

// Init returns StatusNotBuilt.
func (s *SDE) Init(LaunchConfig) int {
	s.logger.Error("cannot start switchd", "error", ErrSDENotBuilt)
	return StatusNotBuilt
}

// DeviceManager implements Driver.
func (s *SDE) DeviceManager() bfrt.DeviceManager { return unavailable{} }

// PAL implements Driver.
func (s *SDE) PAL() PAL { return unavailable{} }

// SDELocator asks the SDE for the ASIC's sysfs path.
type SDELocator struct{}

// DevicePath implements probe.Locator.
func (SDELocator) DevicePath() (string, error) { return "", ErrSDENotBuilt }

type unavailable struct{}

func (unavailable) LoadPipeline(context.Context, int, bfrt.PipelineConfig) (map[string]uint32, error) {
	return nil, ErrSDENotBuilt
}

func (unavailable) UnloadPipeline(context.Context, int) error { return ErrSDENotBuilt }

func (unavailable) PortAdd(context.Context, int, uint32, PortSpeed) error { return ErrSDENotBuilt }

func (unavailable) PortEnable(context.Context, int, uint32) error { return ErrSDENotBuilt }

func (unavailable) PortDelete(context.Context, int, uint32) error { return ErrSDENotBuilt }
