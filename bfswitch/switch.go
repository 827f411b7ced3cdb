// Package bfswitch is the switch facade: the platform, the PAL and the
// per-unit pipeline nodes behind one object.
package bfswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/sslauro/stratum/bfrt"
	"github.com/sslauro/stratum/chassis"
	"github.com/sslauro/stratum/phal"
	"github.com/sslauro/stratum/switchd"
)

// ErrUnknownUnit is returned for a unit without a node.
var ErrUnknownUnit = errors.New("unknown unit")

// Switch is the switch facade. It owns its unit to node map; the
// platform and PAL are shared with the rest of the process.
type Switch struct {
	platform phal.Platform
	chassis  *chassis.Manager
	nodes    map[int]*bfrt.Node
	logger   *slog.Logger
}

// New builds the facade. nodes is copied.
func New(platform phal.Platform, pal switchd.PAL, nodes map[int]*bfrt.Node, logger *slog.Logger) *Switch {
	owned := maps.Clone(nodes)
	if owned == nil {
		owned = make(map[int]*bfrt.Node)
	}
	units := slices.Sorted(maps.Keys(owned))
	return &Switch{
		platform: platform,
		chassis:  chassis.NewManager(platform, pal, units, logger),
		nodes:    owned,
		logger:   logger.With("component", "bfswitch"),
	}
}

// Platform returns the platform.
func (s *Switch) Platform() phal.Platform { return s.platform }

// Chassis returns the chassis manager.
func (s *Switch) Chassis() *chassis.Manager { return s.chassis }

// Units returns the managed units in ascending order.
func (s *Switch) Units() []int {
	return slices.Sorted(maps.Keys(s.nodes))
}

// Node returns the node of unit.
func (s *Switch) Node(unit int) (*bfrt.Node, error) {
	n, ok := s.nodes[unit]
	if !ok {
		return nil, fmt.Errorf("unit %d: %w", unit, ErrUnknownUnit)
	}
	return n, nil
}

// VerifyChassisConfig checks cfg without applying it.
func (s *Switch) VerifyChassisConfig(cfg *chassis.Config) error {
	return s.chassis.Verify(cfg)
}

// PushChassisConfig applies cfg.
func (s *Switch) PushChassisConfig(ctx context.Context, cfg *chassis.Config) error {
	if err := s.chassis.Push(ctx, cfg); err != nil {
		return fmt.Errorf("push chassis config: %w", err)
	}
	return nil
}

// PushForwardingPipelineConfig loads p on the unit of nodeID.
func (s *Switch) PushForwardingPipelineConfig(ctx context.Context, nodeID uint64, p bfrt.PipelineConfig) error {
	unit, err := s.chassis.UnitForNode(nodeID)
	if err != nil {
		return err
	}
	n, err := s.Node(unit)
	if err != nil {
		return err
	}
	if err := n.PushForwardingPipelineConfig(ctx, p); err != nil {
		return err
	}
	s.logger.Info("forwarding pipeline pushed", "node", nodeID, "unit", unit, "pipeline", p.Name)
	return nil
}

// Shutdown tears down ports, pipelines and the platform, in that order.
// Every step runs; the errors are joined.
func (s *Switch) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.chassis.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, unit := range s.Units() {
		if err := s.nodes[unit].Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.platform.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("platform shutdown: %w", err))
	}
	return errors.Join(errs...)
}
