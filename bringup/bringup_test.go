package bringup_test

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
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/sslauro/stratum/bfrt"
	"github.com/sslauro/stratum/bringup"
	"github.com/sslauro/stratum/config"
	"github.com/sslauro/stratum/credentials"
	"github.com/sslauro/stratum/hal"
	"github.com/sslauro/stratum/journal"
	"github.com/sslauro/stratum/phal"
	"github.com/sslauro/stratum/probe"
	"github.com/sslauro/stratum/switchd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingDriver is the software driver with an init counter and a
// configurable status.
type countingDriver struct {
	*switchd.Software
	status int
	calls  int
}

func newCountingDriver(status int) *countingDriver {
	return &countingDriver{Software: switchd.NewSoftware(testLogger()), status: status}
}

func (d *countingDriver) Init(cfg switchd.LaunchConfig) int {
	d.calls++
	if d.status != 0 {
		return d.status
	}
	return d.Software.Init(cfg)
}

type fakeService struct {
	deps     bringup.ServiceDeps
	setupErr error
	runErr   error
	setups   int
	runs     int
	// onRun is called from Run before it returns.
	onRun func()
}

func (s *fakeService) Setup(context.Context) error {
	s.setups++
	return s.setupErr
}

func (s *fakeService) Run(context.Context) error {
	s.runs++
	if s.onRun != nil {
		s.onRun()
	}
	return s.runErr
}

// harness collects what a bring-up constructed.
type harness struct {
	drv          *countingDriver
	svc          *fakeService
	svcBuilt     int
	credsBuilt   int
	platforms    []bool
	stages       []bringup.Stage
	construction []bfrt.Component
	markerDir    string
}

func newHarness(t *testing.T) *harness {
	return &harness{
		drv:       newCountingDriver(0),
		svc:       &fakeService{},
		markerDir: t.TempDir(),
	}
}

// withMarker creates the kernel packet driver marker.
func (h *harness) withMarker(t *testing.T) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.markerDir, probe.MarkerName), nil, 0o644))
}

func (h *harness) options() []bringup.Option {
	return []bringup.Option{
		bringup.WithLogger(testLogger()),
		bringup.WithDriver(h.drv),
		bringup.WithLocator(probe.LocatorFunc(func() (string, error) { return h.markerDir, nil })),
		bringup.WithPlatformFactory(func(sim bool) phal.Platform {
			h.platforms = append(h.platforms, sim)
			return phal.Select(sim, phal.WithLogger(testLogger()))
		}),
		bringup.WithCredentialsFactory(func(opts credentials.Options, logger *slog.Logger) (*credentials.Manager, error) {
			h.credsBuilt++
			return credentials.New(opts, logger)
		}),
		bringup.WithServiceFactory(func(d bringup.ServiceDeps) (bringup.Service, error) {
			h.svcBuilt++
			h.svc.deps = d
			return h.svc, nil
		}),
		bringup.WithStageHook(func(s bringup.Stage) { h.stages = append(h.stages, s) }),
		bringup.WithBuildOptions(bfrt.WithConstructionHook(func(c bfrt.Component, _ int) {
			h.construction = append(h.construction, c)
		})),
	}
}

func validConfig() bringup.Config {
	return bringup.Config{
		Switchd: switchd.Options{InstallDir: "/opt/bf-sde"},
		Sim:     true,
	}
}

func TestRun_EmptyInstallDirFailsBeforeDriver(t *testing.T) {
	h := newHarness(t)
	o := bringup.New(bringup.Config{Sim: true}, h.options()...)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, switchd.ErrInstallDirRequired.Error())
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.NotZero(t, bringup.ExitCode(err))

	assert.Zero(t, h.drv.calls)
	assert.Empty(t, h.construction)
	assert.Empty(t, h.platforms)
	assert.Zero(t, h.credsBuilt)
	assert.Zero(t, h.svcBuilt)
	assert.Nil(t, o.Platform())
	assert.Nil(t, o.Switch())
	assert.Equal(t, bringup.StateFailed, o.State())
}

func TestRun_BackgroundAndShellAreExclusive(t *testing.T) {
	for _, background := range []bool{false, true} {
		h := newHarness(t)
		cfg := validConfig()
		cfg.Switchd.Background = background
		o := bringup.New(cfg, h.options()...)
		require.NoError(t, o.Run(context.Background()))

		got, ok := h.drv.Config()
		require.True(t, ok)
		assert.Equal(t, background, got.Background())
		assert.Equal(t, !background, got.Shell())
		assert.True(t, got.SkipP4())
	}
}

func TestRun_MarkerForcesKernelPacket(t *testing.T) {
	tests := []struct {
		name      string
		requested bool
		marker    bool
		want      bool
	}{
		{name: "absent, not requested", requested: false, marker: false, want: false},
		{name: "absent, requested", requested: true, marker: false, want: true},
		{name: "present, not requested", requested: false, marker: true, want: true},
		{name: "present, requested", requested: true, marker: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.marker {
				h.withMarker(t)
			}
			cfg := validConfig()
			cfg.Switchd.KernelPacket = tt.requested
			o := bringup.New(cfg, h.options()...)
			require.NoError(t, o.Run(context.Background()))

			got, ok := h.drv.Config()
			require.True(t, ok)
			assert.Equal(t, tt.want, got.KernelPacket())
			assert.Equal(t, tt.want, o.LaunchConfig().KernelPacket())
		})
	}
}

func TestRun_LocatorFailureIsNotAnError(t *testing.T) {
	h := newHarness(t)
	opts := append(h.options(), bringup.WithLocator(probe.LocatorFunc(func() (string, error) {
		return "", errors.New("no such device")
	})))
	o := bringup.New(validConfig(), opts...)
	require.NoError(t, o.Run(context.Background()))
	assert.False(t, o.LaunchConfig().KernelPacket())
}

func TestRun_ConstructionOrder(t *testing.T) {
	h := newHarness(t)
	o := bringup.New(validConfig(), h.options()...)
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, []bfrt.Component{
		bfrt.ComponentIDMapper,
		bfrt.ComponentTableManager,
		bfrt.ComponentDeviceManager,
		bfrt.ComponentNode,
	}, h.construction)

	assert.Equal(t, []bringup.Stage{
		bringup.StageLaunchConfig,
		bringup.StageProbe,
		bringup.StageSwitchdInit,
		bringup.StagePipeline,
		bringup.StagePlatform,
		bringup.StageSwitch,
		bringup.StageAuthz,
		bringup.StageCredentials,
		bringup.StageService,
		bringup.StageSetup,
		bringup.StageRun,
	}, h.stages)
}

func TestRun_ServiceDependencies(t *testing.T) {
	h := newHarness(t)
	cfg := validConfig()
	cfg.Service.ListenAddress = "127.0.0.1:0"
	o := bringup.New(cfg, h.options()...)
	require.NoError(t, o.Run(context.Background()))

	d := h.svc.deps
	assert.Equal(t, hal.ModeStandalone, d.Mode)
	assert.Same(t, o.Switch(), d.Switch)
	assert.NotNil(t, d.Checker)
	require.NotNil(t, d.Credentials)
	assert.False(t, d.Credentials.Secure())
	assert.Equal(t, "127.0.0.1:0", d.Options.ListenAddress)
	assert.Equal(t, o.BootID(), d.Options.BootID)

	assert.Equal(t, []int{bfrt.DefaultUnit}, o.Switch().Units())
	assert.Same(t, o.Platform(), o.Switch().Platform())
}

func TestRun_CredentialsFailureSkipsService(t *testing.T) {
	h := newHarness(t)
	opts := append(h.options(), bringup.WithCredentialsFactory(func(credentials.Options, *slog.Logger) (*credentials.Manager, error) {
		h.credsBuilt++
		return nil, errors.New("malformed certificate")
	}))
	o := bringup.New(validConfig(), opts...)

	err := o.Run(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.ErrorContains(t, err, "malformed certificate")
	assert.Equal(t, 1, h.credsBuilt)
	assert.Zero(t, h.svcBuilt)
	assert.Zero(t, h.svc.setups)
	assert.Zero(t, h.svc.runs)
	assert.Equal(t, bringup.StateFailed, o.State())
}

func TestRun_RealCredentialsFailure(t *testing.T) {
	h := newHarness(t)
	opts := append(h.options(), bringup.WithCredentialsFactory(credentials.New))
	cfg := validConfig()
	cfg.Credentials = credentials.Options{ServerCertFile: filepath.Join(t.TempDir(), "missing.pem")}
	o := bringup.New(cfg, opts...)

	err := o.Run(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Zero(t, h.svcBuilt)
}

func TestRun_ServiceConstructionFailure(t *testing.T) {
	h := newHarness(t)
	opts := append(h.options(), bringup.WithServiceFactory(func(bringup.ServiceDeps) (bringup.Service, error) {
		return nil, errors.New("address in use")
	}))
	o := bringup.New(validConfig(), opts...)

	err := o.Run(context.Background())
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, bringup.StateFailed, o.State())
}

func TestRun_SetupFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	h.svc.setupErr = errors.New("chassis config: bad port")
	o := bringup.New(validConfig(), h.options()...)

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 1, h.svc.setups)
	assert.Equal(t, 1, h.svc.runs)
	assert.NotContains(t, h.stages, bringup.StageSetup)
	assert.Contains(t, h.stages, bringup.StageRun)
	assert.Equal(t, bringup.StateStopped, o.State())
}

func TestRun_StatusFromService(t *testing.T) {
	h := newHarness(t)
	h.svc.runErr = status.Error(codes.Unavailable, "listener closed")
	o := bringup.New(validConfig(), h.options()...)

	err := o.Run(context.Background())
	assert.Equal(t, int(codes.Unavailable), bringup.ExitCode(err))
	assert.Equal(t, bringup.StateStopped, o.State())
}

func TestRun_OnlyOnce(t *testing.T) {
	h := newHarness(t)
	o := bringup.New(validConfig(), h.options()...)
	require.NoError(t, o.Run(context.Background()))

	err := o.Run(context.Background())
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, 1, h.drv.calls)
	assert.Equal(t, 1, h.svc.runs)
}

// Scenario: simulated platform, no marker, Run returns OK.
func TestScenario_SimulatedBringUp(t *testing.T) {
	h := newHarness(t)
	o := bringup.New(validConfig(), h.options()...)

	err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, bringup.ExitCode(err))

	assert.Equal(t, []bool{true}, h.platforms)
	assert.Equal(t, phal.KindSim, o.Platform().Kind())
	assert.Equal(t, 1, h.drv.calls)
	assert.Equal(t, 1, h.svc.runs)
	assert.False(t, o.LaunchConfig().KernelPacket())
}

// Scenario: the switchd init status is fatal and stops the sequence.
func TestScenario_DriverInitFailure(t *testing.T) {
	h := newHarness(t)
	h.drv.status = 7
	o := bringup.New(validConfig(), h.options()...)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.NotZero(t, bringup.ExitCode(err))
	assert.ErrorContains(t, err, "status: 7")

	assert.Equal(t, 1, h.drv.calls)
	assert.Empty(t, h.construction)
	assert.Empty(t, h.platforms)
	assert.Zero(t, h.credsBuilt)
	assert.Zero(t, h.svcBuilt)
	assert.Zero(t, h.svc.runs)
}

func TestRun_JournalRecordsStages(t *testing.T) {
	ctx := context.Background()
	store, err := journal.OpenInMemory(ctx, testLogger())
	require.NoError(t, err)
	defer store.Close()

	conf := filepath.Join(t.TempDir(), "tofino.conf")
	require.NoError(t, os.WriteFile(conf, []byte(`{"chip_list": []}`), 0o644))
	digest, err := switchd.ConfigDigest(conf)
	require.NoError(t, err)

	h := newHarness(t)
	h.svc.setupErr = errors.New("no policy")
	cfg := validConfig()
	cfg.Switchd.ConfFile = conf
	o := bringup.New(cfg, append(h.options(), bringup.WithRecorder(store))...)
	require.NoError(t, o.Run(ctx))
	assert.Equal(t, store.BootID(), o.BootID())

	boots, err := store.Boots(ctx)
	require.NoError(t, err)
	require.Len(t, boots, 1)
	assert.True(t, boots[0].Finished)
	assert.Zero(t, boots[0].ExitCode)
	assert.Equal(t, digest, boots[0].ConfigDigest)

	entries, err := store.Entries(ctx, store.BootID())
	require.NoError(t, err)
	outcomes := map[string]journal.Outcome{}
	for _, e := range entries {
		outcomes[e.Stage] = e.Outcome
	}
	assert.Equal(t, journal.OutcomeOK, outcomes[string(bringup.StageSwitchdInit)])
	assert.Equal(t, journal.OutcomeAbsorbed, outcomes[string(bringup.StageSetup)])
	assert.Equal(t, journal.OutcomeOK, outcomes[string(bringup.StageRun)])
}

func TestRun_JournalRecordsFatalExit(t *testing.T) {
	ctx := context.Background()
	store, err := journal.OpenInMemory(ctx, testLogger())
	require.NoError(t, err)
	defer store.Close()

	h := newHarness(t)
	h.drv.status = 3
	o := bringup.New(validConfig(), append(h.options(), bringup.WithRecorder(store))...)
	require.Error(t, o.Run(ctx))

	boots, err := store.Boots(ctx)
	require.NoError(t, err)
	require.Len(t, boots, 1)
	assert.Equal(t, int(codes.Internal), boots[0].ExitCode)

	entries, err := store.Entries(ctx, store.BootID())
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, string(bringup.StageSwitchdInit), last.Stage)
	assert.Equal(t, journal.OutcomeFailed, last.Outcome)
}

func TestRun_JournalRecordsRunAfterShutdown(t *testing.T) {
	store, err := journal.OpenInMemory(context.Background(), testLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t)
	h.svc.onRun = cancel
	o := bringup.New(validConfig(), append(h.options(), bringup.WithRecorder(store))...)
	require.NoError(t, o.Run(ctx))
	require.Error(t, ctx.Err())

	entries, err := store.Entries(context.Background(), store.BootID())
	require.NoError(t, err)
	stages := make([]string, 0, len(entries))
	for _, e := range entries {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{
		string(bringup.StageLaunchConfig),
		string(bringup.StageProbe),
		string(bringup.StageSwitchdInit),
		string(bringup.StagePipeline),
		string(bringup.StagePlatform),
		string(bringup.StageSwitch),
		string(bringup.StageAuthz),
		string(bringup.StageCredentials),
		string(bringup.StageService),
		string(bringup.StageSetup),
		string(bringup.StageRun),
	}, stages)

	boots, err := store.Boots(context.Background())
	require.NoError(t, err)
	require.Len(t, boots, 1)
	assert.True(t, boots[0].Finished)
}

// The default service is the HAL; a cancelled context makes Run return
// as soon as it starts serving.
func TestRun_WithHal(t *testing.T) {
	dirs, err := config.NewRuntimeDirs(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)

	h := newHarness(t)
	opts := h.options()
	opts = append(opts, bringup.WithServiceFactory(func(d bringup.ServiceDeps) (bringup.Service, error) {
		h.svcBuilt++
		return hal.New(d.Mode, d.Switch, d.Checker, d.Credentials, d.Options, d.Logger)
	}))
	cfg := validConfig()
	cfg.Service = hal.Options{
		Dirs:          dirs,
		ListenAddress: "bufconn",
		Listener:      bufconn.Listen(1 << 20),
	}
	o := bringup.New(cfg, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.Run(ctx))
	assert.Equal(t, 1, h.svcBuilt)
	assert.Equal(t, bringup.StateStopped, o.State())
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "status", err: status.Error(codes.FailedPrecondition, "x"), want: int(codes.FailedPrecondition)},
		{name: "plain error", err: errors.New("boom"), want: int(codes.Unknown)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bringup.ExitCode(tt.err))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "setup_attempted", bringup.StateSetupAttempted.String())
	assert.Equal(t, "State(42)", bringup.State(42).String())
}
