// Package chassis owns the chassis configuration: which controller node
// id maps to which ASIC unit, and which front-panel ports are up.
package chassis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/sslauro/stratum/phal"
	"github.com/sslauro/stratum/switchd"
)

// ErrNoConfig is returned before the first successful push.
var ErrNoConfig = errors.New("no chassis config pushed")

// ErrUnknownNode is returned for a node id that is not configured.
var ErrUnknownNode = errors.New("unknown node")

// Manager applies chassis configs to the PAL.
type Manager struct {
	platform phal.Platform
	pal      switchd.PAL
	units    []int
	logger   *slog.Logger

	mu         sync.RWMutex
	cfg        *Config
	nodeToUnit map[uint64]int
	ports      map[uint32]installedPort
}

// installedPort is a port as added to the PAL. The unit is the one used
// at add time, so a push that fails halfway still deletes on the right
// unit.
type installedPort struct {
	PortConfig
	unit    int
	enabled bool
}

// NewManager creates a manager for the given units.
func NewManager(platform phal.Platform, pal switchd.PAL, units []int, logger *slog.Logger) *Manager {
	u := append([]int(nil), units...)
	sort.Ints(u)
	return &Manager{
		platform:   platform,
		pal:        pal,
		units:      u,
		logger:     logger.With("component", "chassis"),
		nodeToUnit: make(map[uint64]int),
		ports:      make(map[uint32]installedPort),
	}
}

// Platform returns the platform the manager was built with.
func (m *Manager) Platform() phal.Platform { return m.platform }

// mapNodes assigns nodes, sorted by id, to the managed units in order.
func (m *Manager) mapNodes(cfg *Config) (map[uint64]int, error) {
	if len(cfg.Nodes) > len(m.units) {
		return nil, fmt.Errorf("chassis config has %d nodes, this agent manages %d unit(s)", len(cfg.Nodes), len(m.units))
	}
	ids := make([]uint64, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[uint64]int, len(ids))
	for i, id := range ids {
		out[id] = m.units[i]
	}
	return out, nil
}

// Verify checks that cfg is valid and fits the managed units.
func (m *Manager) Verify(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("chassis config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid chassis config: %w", err)
	}
	if _, err := m.mapNodes(cfg); err != nil {
		return err
	}
	return nil
}

// Push applies cfg. Ports missing from cfg are deleted, new ports are
// added and enabled, ports whose speed or unit changed are re-added. A
// PAL failure stops the push and leaves the previous config in place
// for the ports not yet touched; ports already added are tracked and
// are deleted by the next Push or Shutdown.
func (m *Manager) Push(ctx context.Context, cfg *Config) error {
	if err := m.Verify(cfg); err != nil {
		return err
	}
	nodeToUnit, _ := m.mapNodes(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[uint32]PortConfig, len(cfg.SingletonPorts))
	for _, p := range cfg.SingletonPorts {
		want[p.ID] = p
	}

	for id, old := range m.ports {
		if p, ok := want[id]; ok && old.enabled && old.unit == nodeToUnit[p.Node] &&
			p.Node == old.Node && p.Port == old.Port && p.Speed == old.Speed {
			continue
		}
		if err := m.pal.PortDelete(ctx, old.unit, old.Port); err != nil {
			return fmt.Errorf("delete port %d: %w", id, err)
		}
		delete(m.ports, id)
		m.logger.Debug("port deleted", "port", id)
	}

	ids := make([]uint32, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := want[id]
		if _, ok := m.ports[id]; ok {
			continue
		}
		unit := nodeToUnit[p.Node]
		if err := m.pal.PortAdd(ctx, unit, p.Port, switchd.PortSpeed(p.Speed)); err != nil {
			return fmt.Errorf("add port %d: %w", id, err)
		}
		m.ports[id] = installedPort{PortConfig: p, unit: unit}
		if err := m.pal.PortEnable(ctx, unit, p.Port); err != nil {
			return fmt.Errorf("enable port %d: %w", id, err)
		}
		m.ports[id] = installedPort{PortConfig: p, unit: unit, enabled: true}
		m.logger.Debug("port up", "port", id, "unit", unit, "device_port", p.Port)
	}

	m.cfg = cfg
	m.nodeToUnit = nodeToUnit
	m.logger.Info("chassis config pushed", "nodes", len(cfg.Nodes), "ports", len(m.ports))
	return nil
}

// Config returns the last pushed config.
func (m *Manager) Config() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return nil, ErrNoConfig
	}
	return m.cfg, nil
}

// UnitForNode returns the unit of nodeID.
func (m *Manager) UnitForNode(nodeID uint64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return 0, ErrNoConfig
	}
	unit, ok := m.nodeToUnit[nodeID]
	if !ok {
		return 0, fmt.Errorf("node %d: %w", nodeID, ErrUnknownNode)
	}
	return unit, nil
}

// Shutdown deletes every port.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, p := range m.ports {
		if err := m.pal.PortDelete(ctx, p.unit, p.Port); err != nil {
			errs = append(errs, fmt.Errorf("delete port %d: %w", id, err))
			continue
		}
		delete(m.ports, id)
	}
	return errors.Join(errs...)
}
