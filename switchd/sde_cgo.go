//go:build bfsde && cgo

package switchd

/*
#cgo CFLAGS: -I${SRCDIR}/../third_party/sde/include
#cgo LDFLAGS: -ldriver -lbfsys -lbfutils -lbf_switchd_lib -lpython3.4m
#include <stdlib.h>
#include <string.h>
#include <bf_switchd/bf_switchd.h>
#include <bf_rt/bf_rt_info.h>
#include <bf_rt/bf_rt_table.h>
#include <tofino/bf_pal/bf_pal_port_intf.h>
#include <tofino/bf_pal/dev_intf.h>

int switch_pci_sysfs_str_get(char *name, size_t name_size);

static bf_switchd_context_t *new_switchd_context(void) {
	return calloc(1, sizeof(bf_switchd_context_t));
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/sslauro/stratum/bfrt"
)

// sysfsNameSize matches the buffer the SDE fills in.
const sysfsNameSize = 128

// SDE drives the Barefoot SDE through its C API.
type SDE struct {
	logger *slog.Logger
	ctx    *C.bf_switchd_context_t
	dev    *sdeDeviceManager
	pal    sdePAL
}

// NewSDE returns the SDE driver.
func NewSDE(logger *slog.Logger) *SDE {
	return &SDE{
		logger: logger,
		dev:    &sdeDeviceManager{logger: logger},
	}
}

// Init fills a bf_switchd_context_t from cfg and calls
// bf_switchd_lib_init. The context is kept for the process lifetime;
// the SDE holds on to it.
func (s *SDE) Init(cfg LaunchConfig) int {
	ctx := C.new_switchd_context()
	if ctx == nil {
		return StatusNotBuilt
	}
	ctx.install_dir = C.CString(cfg.InstallDir())
	ctx.conf_file = C.CString(cfg.ConfFile())
	ctx.skip_p4 = C.bool(cfg.SkipP4())
	ctx.running_in_background = C.bool(cfg.Background())
	ctx.shell_set_ucli = C.bool(cfg.Shell())
	ctx.kernel_pkt = C.bool(cfg.KernelPacket())
	s.ctx = ctx
	s.dev.installDir = cfg.InstallDir()

	return int(C.bf_switchd_lib_init(ctx))
}

// DeviceManager implements Driver.
func (s *SDE) DeviceManager() bfrt.DeviceManager { return s.dev }

// PAL implements Driver.
func (s *SDE) PAL() PAL { return s.pal }

// SDELocator asks the SDE for the ASIC's sysfs path.
type SDELocator struct{}

// DevicePath implements probe.Locator.
func (SDELocator) DevicePath() (string, error) {
	buf := (*C.char)(C.malloc(sysfsNameSize))
	defer C.free(unsafe.Pointer(buf))
	C.memset(unsafe.Pointer(buf), 0, sysfsNameSize)

	if rc := C.switch_pci_sysfs_str_get(buf, sysfsNameSize); rc != 0 {
		return "", fmt.Errorf("switch_pci_sysfs_str_get: status %d", int(rc))
	}
	path := C.GoString(buf)
	if path == "" {
		return "", errors.New("switch_pci_sysfs_str_get returned an empty path")
	}
	return path, nil
}

type sdeDeviceManager struct {
	logger     *slog.Logger
	installDir string
}

// LoadPipeline writes the pipeline artifacts under the install
// directory and reprograms the device with a fast reconfig.
func (m *sdeDeviceManager) LoadPipeline(_ context.Context, unit int, p bfrt.PipelineConfig) (map[string]uint32, error) {
	dir := filepath.Join(m.installDir, "share", "stratum", "pipelines", p.Name)
	pipeDir := filepath.Join(dir, "pipe")
	if err := os.MkdirAll(pipeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pipeline dir: %w", err)
	}
	files := map[string][]byte{
		filepath.Join(dir, "bfrt.json"):        p.Info,
		filepath.Join(pipeDir, "context.json"): p.Context,
		filepath.Join(pipeDir, "tofino.bin"):   p.Binary,
	}
	for path, data := range files {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
	}

	var profile C.bf_device_profile_t
	profile.num_p4_programs = 1
	prog := &profile.p4_programs[0]
	cname := C.CString(p.Name)
	defer C.free(unsafe.Pointer(cname))
	C.strncpy(&prog.prog_name[0], cname, C.size_t(len(prog.prog_name)-1))
	prog.bfrt_json_file = C.CString(filepath.Join(dir, "bfrt.json"))
	prog.num_p4_pipelines = 1
	pipe := &prog.p4_pipelines[0]
	pname := C.CString("pipe")
	defer C.free(unsafe.Pointer(pname))
	C.strncpy(&pipe.p4_pipeline_name[0], pname, C.size_t(len(pipe.p4_pipeline_name)-1))
	pipe.runtime_context_file = C.CString(filepath.Join(pipeDir, "context.json"))
	pipe.cfg_file = C.CString(filepath.Join(pipeDir, "tofino.bin"))

	dev := C.bf_dev_id_t(unit)
	if rc := C.bf_pal_device_warm_init_begin(dev, C.BF_DEV_WARM_INIT_FAST_RECFG, C.BF_DEV_SERDES_UPD_NONE, false); rc != C.BF_SUCCESS {
		return nil, fmt.Errorf("bf_pal_device_warm_init_begin: status %d", int(rc))
	}
	if rc := C.bf_pal_device_add(dev, &profile); rc != C.BF_SUCCESS {
		return nil, fmt.Errorf("bf_pal_device_add: status %d", int(rc))
	}
	if rc := C.bf_pal_device_warm_init_end(dev); rc != C.BF_SUCCESS {
		return nil, fmt.Errorf("bf_pal_device_warm_init_end: status %d", int(rc))
	}

	var info *C.bf_rt_info_hdl
	if rc := C.bf_rt_info_get(dev, cname, &info); rc != C.BF_SUCCESS {
		return nil, fmt.Errorf("bf_rt_info_get: status %d", int(rc))
	}
	ids := make(map[string]uint32, len(p.Tables))
	for _, t := range p.Tables {
		tname := C.CString(t.Name)
		var tbl *C.bf_rt_table_hdl
		rc := C.bf_rt_table_from_name_get(info, tname, &tbl)
		C.free(unsafe.Pointer(tname))
		if rc != C.BF_SUCCESS {
			return nil, fmt.Errorf("table %q: bf_rt_table_from_name_get: status %d", t.Name, int(rc))
		}
		var id C.bf_rt_id_t
		if rc := C.bf_rt_table_id_from_handle_get(tbl, &id); rc != C.BF_SUCCESS {
			return nil, fmt.Errorf("table %q: bf_rt_table_id_from_handle_get: status %d", t.Name, int(rc))
		}
		ids[t.Name] = uint32(id)
	}
	m.logger.Info("pipeline loaded", "unit", unit, "pipeline", p.Name, "tables", len(ids))
	return ids, nil
}

func (m *sdeDeviceManager) UnloadPipeline(_ context.Context, unit int) error {
	if rc := C.bf_pal_device_warm_init_begin(C.bf_dev_id_t(unit), C.BF_DEV_WARM_INIT_FAST_RECFG, C.BF_DEV_SERDES_UPD_NONE, false); rc != C.BF_SUCCESS {
		return fmt.Errorf("bf_pal_device_warm_init_begin: status %d", int(rc))
	}
	return nil
}

type sdePAL struct{}

func sdeSpeed(s PortSpeed) (C.bf_port_speed_t, error) {
	switch s {
	case Speed10G:
		return C.BF_SPEED_10G, nil
	case Speed25G:
		return C.BF_SPEED_25G, nil
	case Speed40G:
		return C.BF_SPEED_40G, nil
	case Speed100G:
		return C.BF_SPEED_100G, nil
	}
	return 0, fmt.Errorf("unsupported port speed %d", uint64(s))
}

func (sdePAL) PortAdd(_ context.Context, unit int, port uint32, speed PortSpeed) error {
	sp, err := sdeSpeed(speed)
	if err != nil {
		return err
	}
	if rc := C.bf_pal_port_add(C.bf_dev_id_t(unit), C.bf_dev_port_t(port), sp, C.BF_FEC_TYP_NONE); rc != C.BF_SUCCESS {
		return fmt.Errorf("bf_pal_port_add %d/%d: status %d", unit, port, int(rc))
	}
	return nil
}

func (sdePAL) PortEnable(_ context.Context, unit int, port uint32) error {
	if rc := C.bf_pal_port_enable(C.bf_dev_id_t(unit), C.bf_dev_port_t(port)); rc != C.BF_SUCCESS {
		return fmt.Errorf("bf_pal_port_enable %d/%d: status %d", unit, port, int(rc))
	}
	return nil
}

func (sdePAL) PortDelete(_ context.Context, unit int, port uint32) error {
	if rc := C.bf_pal_port_del(C.bf_dev_id_t(unit), C.bf_dev_port_t(port)); rc != C.BF_SUCCESS {
		return fmt.Errorf("bf_pal_port_del %d/%d: status %d", unit, port, int(rc))
	}
	return nil
}
