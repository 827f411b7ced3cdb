package switchd

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/sslauro/stratum/bfrt"
)

// Software is an in-memory Driver. It accepts every launch
// configuration, hands out stable vendor ids derived from table names
// and tracks port state. It backs --dry-run and the tests.
type Software struct {
	logger *slog.Logger
	dev    *memoryDeviceManager
	pal    *memoryPAL

	mu  sync.Mutex
	cfg *LaunchConfig
}

// NewSoftware returns an uninitialised software driver.
func NewSoftware(logger *slog.Logger) *Software {
	return &Software{
		logger: logger,
		dev:    &memoryDeviceManager{pipelines: make(map[int]string)},
		pal:    &memoryPAL{ports: make(map[portKey]*PortState)},
	}
}

// Init records cfg and returns 0.
func (s *Software) Init(cfg LaunchConfig) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = &cfg
	s.logger.Info("software switch driver initialised", "config", cfg.String())
	return 0
}

// Config returns the configuration Init was called with.
func (s *Software) Config() (LaunchConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return LaunchConfig{}, false
	}
	return *s.cfg, true
}

// DeviceManager implements Driver.
func (s *Software) DeviceManager() bfrt.DeviceManager { return s.dev }

// PAL implements Driver.
func (s *Software) PAL() PAL { return s.pal }

// Ports returns the state of every added port on unit.
func (s *Software) Ports(unit int) map[uint32]PortState {
	return s.pal.snapshot(unit)
}

type memoryDeviceManager struct {
	mu        sync.Mutex
	pipelines map[int]string
}

func (m *memoryDeviceManager) LoadPipeline(ctx context.Context, unit int, p bfrt.PipelineConfig) (map[string]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make(map[string]uint32, len(p.Tables))
	for _, t := range p.Tables {
		h := fnv.New32a()
		h.Write([]byte(t.Name))
		ids[t.Name] = h.Sum32()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[unit] = p.Name
	return ids, nil
}

func (m *memoryDeviceManager) UnloadPipeline(_ context.Context, unit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, unit)
	return nil
}

// PortState is the software PAL's view of a port.
type PortState struct {
	Speed   PortSpeed
	Enabled bool
}

type portKey struct {
	unit int
	port uint32
}

type memoryPAL struct {
	mu    sync.Mutex
	ports map[portKey]*PortState
}

func (p *memoryPAL) PortAdd(_ context.Context, unit int, port uint32, speed PortSpeed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := portKey{unit, port}
	if _, ok := p.ports[k]; ok {
		return fmt.Errorf("port %d/%d already added", unit, port)
	}
	p.ports[k] = &PortState{Speed: speed}
	return nil
}

func (p *memoryPAL) PortEnable(_ context.Context, unit int, port uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.ports[portKey{unit, port}]
	if !ok {
		return fmt.Errorf("port %d/%d not added", unit, port)
	}
	st.Enabled = true
	return nil
}

func (p *memoryPAL) PortDelete(_ context.Context, unit int, port uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := portKey{unit, port}
	if _, ok := p.ports[k]; !ok {
		return fmt.Errorf("port %d/%d not added", unit, port)
	}
	delete(p.ports, k)
	return nil
}

func (p *memoryPAL) snapshot(unit int) map[uint32]PortState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint32]PortState)
	for k, st := range p.ports {
		if k.unit == unit {
			out[k.port] = *st
		}
	}
	return out
}
