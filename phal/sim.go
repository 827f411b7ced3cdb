package phal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultSimPorts is the number of front-panel ports of a Wedge100BF-32X.
const DefaultSimPorts = 32

type sim struct {
	logger *slog.Logger
	ports  int

	mu       sync.Mutex
	shutdown bool
}

func newSim(ports int, logger *slog.Logger) *sim {
	return &sim{logger: logger, ports: ports}
}

func (s *sim) Kind() Kind { return KindSim }

func (s *sim) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return ErrShutdown
	}
	return nil
}

func (s *sim) Sensors(ctx context.Context) ([]Sensor, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return []Sensor{
		{Name: "asic", MilliCelsius: 45000},
		{Name: "cpu", MilliCelsius: 38000},
		{Name: "inlet", MilliCelsius: 25000},
	}, nil
}

func (s *sim) Interfaces(ctx context.Context) ([]Interface, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]Interface, 0, s.ports)
	for i := 1; i <= s.ports; i++ {
		out = append(out, Interface{
			Name:  fmt.Sprintf("%d/0", i),
			Index: i,
			MTU:   9216,
			MAC:   fmt.Sprintf("02:00:00:00:00:%02x", i),
			Up:    true,
		})
	}
	return out, nil
}

func (s *sim) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shutdown {
		s.logger.Info("simulated platform shut down")
	}
	s.shutdown = true
	return nil
}
