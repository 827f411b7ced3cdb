package hal

import (
	"context"
	"errors"
	"fmt"
	"os"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sslauro/stratum/chassis"
)

// Setup applies the on-disk configuration: runtime directories, the
// authorization policy and the chassis config. Every step is attempted;
// the failures are joined. A failed Setup leaves the service usable.
func (h *Hal) Setup(ctx context.Context) error {
	var errs []error

	if err := h.opts.Dirs.EnsureDirectories(); err != nil {
		errs = append(errs, fmt.Errorf("runtime directories: %w", err))
	}

	if path := h.opts.AuthorizationPolicyFile; path != "" {
		if err := h.checker.Load(path); err != nil {
			errs = append(errs, err)
		}
	}

	h.logInventory(ctx)

	if err := h.setupChassis(ctx); err != nil {
		h.health.SetServingStatus(ChassisService, healthpb.HealthCheckResponse_NOT_SERVING)
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	h.mu.Lock()
	h.setupErr = err
	h.mu.Unlock()
	return err
}

// logInventory reports what the platform sees. A platform that cannot
// be read does not fail Setup.
func (h *Hal) logInventory(ctx context.Context) {
	st, err := h.PlatformStatus(ctx)
	if err != nil {
		h.logger.Warn("platform inventory unavailable", "error", err)
		return
	}
	up := 0
	for _, i := range st.Interfaces {
		if i.Up {
			up++
		}
	}
	h.logger.Info("platform inventory",
		"platform", st.Kind,
		"sensors", len(st.Sensors),
		"interfaces", len(st.Interfaces),
		"interfaces_up", up)
}

// setupChassis pushes the configured chassis config, or the copy saved
// by the previous successful push when none is configured.
func (h *Hal) setupChassis(ctx context.Context) error {
	path := h.opts.ChassisConfigFile
	if path == "" {
		path = h.opts.Dirs.ChassisConfigCopy()
		if _, err := os.Stat(path); err != nil {
			h.logger.Info("no chassis config, waiting for one to be pushed")
			return nil
		}
		h.logger.Info("using saved chassis config", "path", path)
	}

	cfg, err := chassis.LoadConfig(path)
	if err != nil {
		return err
	}
	if err := h.sw.PushChassisConfig(ctx, cfg); err != nil {
		return err
	}
	h.health.SetServingStatus(ChassisService, healthpb.HealthCheckResponse_SERVING)

	if path != h.opts.Dirs.ChassisConfigCopy() {
		if err := h.saveChassisConfig(cfg); err != nil {
			h.logger.Warn("could not save chassis config", "error", err)
		}
	}
	return nil
}

func (h *Hal) saveChassisConfig(cfg *chassis.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	dst := h.opts.Dirs.ChassisConfigCopy()
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
