package chassis_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sslauro/stratum/chassis"
	"github.com/sslauro/stratum/phal"
	"github.com/sslauro/stratum/switchd"
)

const twoPorts = `
description: wedge100bf
nodes:
  - id: 1
    name: tofino
    slot: 1
singleton_ports:
  - id: 1
    name: 1/0
    node: 1
    port: 132
    speed: 100G
  - id: 2
    name: 2/0
    node: 1
    port: 140
    speed: 40G
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, units ...int) (*chassis.Manager, *switchd.Software) {
	t.Helper()
	drv := switchd.NewSoftware(testLogger())
	p := phal.Select(true, phal.WithLogger(testLogger()))
	return chassis.NewManager(p, drv.PAL(), units, testLogger()), drv
}

func TestParseConfig(t *testing.T) {
	cfg, err := chassis.ParseConfig([]byte(twoPorts))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.SingletonPorts, 2)
	assert.Equal(t, chassis.Speed(switchd.Speed100G), cfg.SingletonPorts[0].Speed)
	assert.Equal(t, uint32(140), cfg.SingletonPorts[1].Port)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "nodes: []\nbogus: 1\n"},
		{"bad speed", "nodes: [{id: 1}]\nsingleton_ports: [{id: 1, node: 1, port: 1, speed: 3G}]\n"},
		{"not yaml", "nodes: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chassis.ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     chassis.Config
		wantErr string
	}{
		{"no nodes", chassis.Config{}, "at least one node"},
		{"zero node id", chassis.Config{Nodes: []chassis.NodeConfig{{Name: "x"}}}, "id is required"},
		{"duplicate node", chassis.Config{Nodes: []chassis.NodeConfig{{ID: 1}, {ID: 1}}}, "duplicate id"},
		{
			"unknown node",
			chassis.Config{
				Nodes:          []chassis.NodeConfig{{ID: 1}},
				SingletonPorts: []chassis.PortConfig{{ID: 1, Node: 2, Port: 1, Speed: chassis.Speed(switchd.Speed10G)}},
			},
			"unknown node",
		},
		{
			"device port reused",
			chassis.Config{
				Nodes: []chassis.NodeConfig{{ID: 1}},
				SingletonPorts: []chassis.PortConfig{
					{ID: 1, Node: 1, Port: 1, Speed: chassis.Speed(switchd.Speed10G)},
					{ID: 2, Node: 1, Port: 1, Speed: chassis.Speed(switchd.Speed10G)},
				},
			},
			"used twice",
		},
		{
			"missing speed",
			chassis.Config{
				Nodes:          []chassis.NodeConfig{{ID: 1}},
				SingletonPorts: []chassis.PortConfig{{ID: 1, Node: 1, Port: 1}},
			},
			"speed is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chassis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoPorts), 0o644))

	cfg, err := chassis.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wedge100bf", cfg.Description)

	out, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), "speed: 100G")

	_, err = chassis.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestManager_Push(t *testing.T) {
	ctx := context.Background()
	m, drv := newManager(t, 0)

	_, err := m.UnitForNode(1)
	require.ErrorIs(t, err, chassis.ErrNoConfig)

	cfg, err := chassis.ParseConfig([]byte(twoPorts))
	require.NoError(t, err)
	require.NoError(t, m.Push(ctx, cfg))

	unit, err := m.UnitForNode(1)
	require.NoError(t, err)
	assert.Equal(t, 0, unit)
	_, err = m.UnitForNode(7)
	require.ErrorIs(t, err, chassis.ErrUnknownNode)

	assert.Equal(t, map[uint32]switchd.PortState{
		132: {Speed: switchd.Speed100G, Enabled: true},
		140: {Speed: switchd.Speed40G, Enabled: true},
	}, drv.Ports(0))

	// Drop port 2 and change the speed of port 1.
	cfg2 := *cfg
	cfg2.SingletonPorts = []chassis.PortConfig{cfg.SingletonPorts[0]}
	cfg2.SingletonPorts[0].Speed = chassis.Speed(switchd.Speed25G)
	require.NoError(t, m.Push(ctx, &cfg2))
	assert.Equal(t, map[uint32]switchd.PortState{
		132: {Speed: switchd.Speed25G, Enabled: true},
	}, drv.Ports(0))

	got, err := m.Config()
	require.NoError(t, err)
	assert.Same(t, &cfg2, got)

	require.NoError(t, m.Shutdown(ctx))
	assert.Empty(t, drv.Ports(0))
}

func TestManager_TooManyNodes(t *testing.T) {
	m, _ := newManager(t, 0)
	cfg := &chassis.Config{Nodes: []chassis.NodeConfig{{ID: 1}, {ID: 2}}}
	err := m.Verify(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manages 1 unit")

	require.Error(t, m.Push(context.Background(), cfg))
	_, err = m.Config()
	require.ErrorIs(t, err, chassis.ErrNoConfig)
}

func TestManager_NodesMapToUnitsInIDOrder(t *testing.T) {
	m, _ := newManager(t, 1, 0)
	cfg := &chassis.Config{Nodes: []chassis.NodeConfig{{ID: 20}, {ID: 10}}}
	require.NoError(t, m.Push(context.Background(), cfg))

	u, err := m.UnitForNode(10)
	require.NoError(t, err)
	assert.Equal(t, 0, u)
	u, err = m.UnitForNode(20)
	require.NoError(t, err)
	assert.Equal(t, 1, u)
}

// failingPAL fails PortAdd for one device port and forwards everything
// else.
type failingPAL struct {
	switchd.PAL
	failPort uint32
}

func (p failingPAL) PortAdd(ctx context.Context, unit int, port uint32, speed switchd.PortSpeed) error {
	if port == p.failPort {
		return errors.New("serdes not ready")
	}
	return p.PAL.PortAdd(ctx, unit, port, speed)
}

func TestManager_FailedPushTracksAddedPorts(t *testing.T) {
	ctx := context.Background()
	drv := switchd.NewSoftware(testLogger())
	platform := phal.Select(true, phal.WithLogger(testLogger()))
	m := chassis.NewManager(platform, failingPAL{PAL: drv.PAL(), failPort: 30}, []int{3, 4}, testLogger())

	first := &chassis.Config{
		Nodes:          []chassis.NodeConfig{{ID: 1}},
		SingletonPorts: []chassis.PortConfig{{ID: 1, Name: "1/0", Node: 1, Port: 10, Speed: chassis.Speed(switchd.Speed100G)}},
	}
	require.NoError(t, m.Push(ctx, first))

	second := &chassis.Config{
		Nodes: []chassis.NodeConfig{{ID: 1}, {ID: 2}},
		SingletonPorts: []chassis.PortConfig{
			{ID: 1, Name: "1/0", Node: 1, Port: 10, Speed: chassis.Speed(switchd.Speed100G)},
			{ID: 2, Name: "2/0", Node: 2, Port: 20, Speed: chassis.Speed(switchd.Speed100G)},
			{ID: 3, Name: "3/0", Node: 2, Port: 30, Speed: chassis.Speed(switchd.Speed100G)},
		},
	}
	err := m.Push(ctx, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serdes not ready")

	got, err := m.Config()
	require.NoError(t, err)
	assert.Same(t, first, got, "a failed push keeps the previous config")
	_, err = m.UnitForNode(2)
	require.ErrorIs(t, err, chassis.ErrUnknownNode)

	assert.Len(t, drv.Ports(3), 1)
	assert.Len(t, drv.Ports(4), 1, "port 20 was added before the failure")

	// Shutdown deletes each port on the unit it was added to.
	require.NoError(t, m.Shutdown(ctx))
	assert.Empty(t, drv.Ports(3))
	assert.Empty(t, drv.Ports(4))
	assert.Empty(t, drv.Ports(0))
}
