// Package phal is the platform hardware abstraction: everything about
// the box that is not the forwarding pipeline. Two variants exist, a
// simulated one and one backed by the host (sysfs hwmon and netlink).
// The variant is chosen once at startup by Select.
package phal

import (
	"context"
	"fmt"
	"log/slog"
)

// Kind is the platform variant.
type Kind int

const (
	KindReal Kind = iota
	KindSim
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindSim:
		return "sim"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sensor is one temperature reading.
type Sensor struct {
	Name string
	// MilliCelsius is the reading in thousandths of a degree.
	MilliCelsius int64
}

// Interface describes one network interface known to the platform.
type Interface struct {
	Name  string
	Index int
	MTU   int
	MAC   string
	Up    bool
}

// Platform is the capability set shared by both variants.
type Platform interface {
	Kind() Kind
	Sensors(ctx context.Context) ([]Sensor, error)
	Interfaces(ctx context.Context) ([]Interface, error)
	Shutdown() error
}

// Option configures Select.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	sysRoot string
	links   LinkLister
	ports   int
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSysRoot sets the sysfs root read by the real platform.
func WithSysRoot(root string) Option {
	return func(o *options) { o.sysRoot = root }
}

// WithLinkLister replaces the netlink link lister of the real platform.
func WithLinkLister(l LinkLister) Option {
	return func(o *options) { o.links = l }
}

// WithSimPorts sets the number of simulated front-panel ports.
func WithSimPorts(n int) Option {
	return func(o *options) { o.ports = n }
}

// Select returns the simulated platform when sim is set and the real
// one otherwise.
func Select(sim bool, opts ...Option) Platform {
	o := options{
		logger:  slog.Default(),
		sysRoot: "/sys",
		links:   NetlinkLister{},
		ports:   DefaultSimPorts,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "phal")

	if sim {
		logger.Info("using simulated platform", "ports", o.ports)
		return newSim(o.ports, logger)
	}
	logger.Info("using host platform", "sysfs", o.sysRoot)
	return newReal(o.sysRoot, o.links, logger)
}
