package phal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"
)

// ErrShutdown is returned by a platform after Shutdown.
var ErrShutdown = errors.New("platform is shut down")

// LinkLister lists the host's network links.
type LinkLister interface {
	Links() ([]Interface, error)
}

// NetlinkLister lists links over rtnetlink.
type NetlinkLister struct{}

// Links implements LinkLister.
func (NetlinkLister) Links() ([]Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make([]Interface, 0, len(links))
	for _, l := range links {
		a := l.Attrs()
		out = append(out, Interface{
			Name:  a.Name,
			Index: a.Index,
			MTU:   a.MTU,
			MAC:   a.HardwareAddr.String(),
			Up:    a.Flags&net.FlagUp != 0,
		})
	}
	return out, nil
}

type host struct {
	logger  *slog.Logger
	sysRoot string
	links   LinkLister

	mu       sync.Mutex
	shutdown bool
}

func newReal(sysRoot string, links LinkLister, logger *slog.Logger) *host {
	return &host{logger: logger, sysRoot: sysRoot, links: links}
}

func (h *host) Kind() Kind { return KindReal }

func (h *host) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return ErrShutdown
	}
	return nil
}

// Sensors reads every hwmon temperature input. A sensor that cannot be
// read is skipped.
func (h *host) Sensors(ctx context.Context) ([]Sensor, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	inputs, err := filepath.Glob(filepath.Join(h.sysRoot, "class", "hwmon", "hwmon*", "temp*_input"))
	if err != nil {
		return nil, err
	}
	sort.Strings(inputs)

	var out []Sensor
	for _, in := range inputs {
		raw, err := os.ReadFile(in)
		if err != nil {
			h.logger.Debug("skipping unreadable sensor", "path", in, "error", err)
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			h.logger.Debug("skipping malformed sensor", "path", in, "error", err)
			continue
		}
		out = append(out, Sensor{Name: sensorName(in), MilliCelsius: v})
	}
	return out, nil
}

// sensorName is "<chip>/<label>", falling back to the hwmon directory
// and the input file name.
func sensorName(input string) string {
	dir := filepath.Dir(input)
	chip := filepath.Base(dir)
	if b, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
		chip = strings.TrimSpace(string(b))
	}
	label := strings.TrimSuffix(filepath.Base(input), "_input")
	if b, err := os.ReadFile(strings.TrimSuffix(input, "_input") + "_label"); err == nil {
		label = strings.TrimSpace(string(b))
	}
	return chip + "/" + label
}

func (h *host) Interfaces(ctx context.Context) ([]Interface, error) {
	if err := h.check(ctx); err != nil {
		return nil, err
	}
	ifs, err := h.links.Links()
	if err != nil {
		return nil, err
	}
	sort.Slice(ifs, func(i, j int) bool { return ifs[i].Index < ifs[j].Index })
	return ifs, nil
}

func (h *host) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = true
	return nil
}
