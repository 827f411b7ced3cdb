// Package bringup starts the agent. One routine constructs every
// long-lived object in dependency order and hands them to the service:
//
//	switchd launch config -> kernel packet probe -> switchd init
//	-> pipeline node (ID mapper, table manager, node) -> platform
//	-> switch facade -> authorization checker -> credentials
//	-> service: Setup, then Run
//
// A failure up to and including service construction aborts the
// sequence and nothing after it is built. A Setup failure is logged and
// Run proceeds anyway. The error Run returns is the final status.
package bringup

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sslauro/stratum/authz"
	"github.com/sslauro/stratum/bfrt"
	"github.com/sslauro/stratum/bfswitch"
	"github.com/sslauro/stratum/credentials"
	"github.com/sslauro/stratum/hal"
	"github.com/sslauro/stratum/journal"
	"github.com/sslauro/stratum/phal"
	"github.com/sslauro/stratum/probe"
	"github.com/sslauro/stratum/switchd"
)

// State is the orchestrator's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateSetupAttempted
	StateRunning
	StateStopped
	// StateFailed is terminal: a fatal error stopped the sequence
	// before Run.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSetupAttempted:
		return "setup_attempted"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stage names a step of the sequence.
type Stage string

const (
	StageLaunchConfig Stage = "launch_config"
	StageProbe        Stage = "probe"
	StageSwitchdInit  Stage = "switchd_init"
	StagePipeline     Stage = "pipeline"
	StagePlatform     Stage = "platform"
	StageSwitch       Stage = "switch"
	StageAuthz        Stage = "authz"
	StageCredentials  Stage = "credentials"
	StageService      Stage = "service"
	StageSetup        Stage = "setup"
	StageRun          Stage = "run"
)

// Service is the long-running service object.
type Service interface {
	Setup(ctx context.Context) error
	Run(ctx context.Context) error
}

// ServiceDeps are handed to the service factory.
type ServiceDeps struct {
	Mode        hal.Mode
	Switch      *bfswitch.Switch
	Checker     *authz.Checker
	Credentials *credentials.Manager
	Options     hal.Options
	Logger      *slog.Logger
}

// Config is the bring-up input.
type Config struct {
	Switchd     switchd.Options
	Sim         bool
	Credentials credentials.Options
	Service     hal.Options
}

// Orchestrator runs the bring-up sequence once.
type Orchestrator struct {
	cfg Config

	driver      switchd.Driver
	locator     probe.Locator
	newPlatform func(sim bool) phal.Platform
	newCreds    func(credentials.Options, *slog.Logger) (*credentials.Manager, error)
	newService  func(ServiceDeps) (Service, error)
	recorder    journal.Recorder
	base        *slog.Logger
	logger      *slog.Logger
	buildOpts   []bfrt.BuildOption
	onStage     func(Stage)

	state        State
	launchConfig switchd.LaunchConfig
	platform     phal.Platform
	sw           *bfswitch.Switch
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDriver sets the vendor driver. The default is the SDE.
func WithDriver(d switchd.Driver) Option {
	return func(o *Orchestrator) { o.driver = d }
}

// WithLocator sets how the ASIC's sysfs directory is found.
func WithLocator(l probe.Locator) Option {
	return func(o *Orchestrator) { o.locator = l }
}

// WithPlatformFactory replaces phal.Select.
func WithPlatformFactory(f func(sim bool) phal.Platform) Option {
	return func(o *Orchestrator) { o.newPlatform = f }
}

// WithCredentialsFactory replaces credentials.New.
func WithCredentialsFactory(f func(credentials.Options, *slog.Logger) (*credentials.Manager, error)) Option {
	return func(o *Orchestrator) { o.newCreds = f }
}

// WithServiceFactory replaces hal.New.
func WithServiceFactory(f func(ServiceDeps) (Service, error)) Option {
	return func(o *Orchestrator) { o.newService = f }
}

// WithRecorder sets the boot journal.
func WithRecorder(r journal.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.base = l }
}

// WithBuildOptions passes options to bfrt.Build.
func WithBuildOptions(opts ...bfrt.BuildOption) Option {
	return func(o *Orchestrator) { o.buildOpts = append(o.buildOpts, opts...) }
}

// WithStageHook calls f when a stage completes successfully.
func WithStageHook(f func(Stage)) Option {
	return func(o *Orchestrator) { o.onStage = f }
}

// New returns an orchestrator for cfg.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		recorder: journal.NewDiscard(),
		base:     slog.Default(),
		onStage:  func(Stage) {},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.base.With("component", "bringup")
	if o.driver == nil {
		o.driver = switchd.NewSDE(o.base.With("component", "switchd"))
	}
	if o.locator == nil {
		o.locator = probe.SysfsLocator{}
	}
	if o.newPlatform == nil {
		o.newPlatform = func(sim bool) phal.Platform {
			return phal.Select(sim, phal.WithLogger(o.base))
		}
	}
	if o.newCreds == nil {
		o.newCreds = credentials.New
	}
	if o.newService == nil {
		o.newService = newHal
	}
	return o
}

func newHal(d ServiceDeps) (Service, error) {
	h, err := hal.New(d.Mode, d.Switch, d.Checker, d.Credentials, d.Options, d.Logger)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// State returns the current state.
func (o *Orchestrator) State() State { return o.state }

// LaunchConfig returns the launch configuration handed to the driver,
// after the kernel packet override.
func (o *Orchestrator) LaunchConfig() switchd.LaunchConfig { return o.launchConfig }

// Platform returns the selected platform, nil before selection.
func (o *Orchestrator) Platform() phal.Platform { return o.platform }

// Switch returns the switch facade, nil before it is built.
func (o *Orchestrator) Switch() *bfswitch.Switch { return o.sw }

// BootID returns the id of this bring-up in the boot journal.
func (o *Orchestrator) BootID() string { return o.recorder.BootID() }

func (o *Orchestrator) done(ctx context.Context, stage Stage, detail string) {
	o.record(ctx, stage, journal.OutcomeOK, detail)
	o.onStage(stage)
}

func (o *Orchestrator) record(ctx context.Context, stage Stage, outcome journal.Outcome, detail string) {
	if err := o.recorder.Stage(ctx, string(stage), outcome, detail); err != nil {
		o.logger.Warn("boot journal write failed", "stage", stage, "error", err)
	}
}

// fatal ends the sequence before Run.
func (o *Orchestrator) fatal(ctx context.Context, stage Stage, code codes.Code, err error) error {
	o.state = StateFailed
	o.record(ctx, stage, journal.OutcomeFailed, err.Error())
	o.logger.Error("startup failed", "stage", stage, "error", err)
	return status.Errorf(code, "%s: %v", stage, err)
}

// Run executes the sequence. It blocks in the service's Run and
// returns its error. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if o.state != StateCreated {
		return status.Errorf(codes.FailedPrecondition, "bring-up already ran (state %s)", o.state)
	}
	defer func() {
		if ferr := o.recorder.Finish(context.WithoutCancel(ctx), ExitCode(err)); ferr != nil {
			o.logger.Warn("boot journal write failed", "error", ferr)
		}
	}()
	o.logger.Info("starting bring-up", "boot_id", o.recorder.BootID())

	launch, err := switchd.NewLaunchConfig(o.cfg.Switchd)
	if err != nil {
		return o.fatal(ctx, StageLaunchConfig, codes.InvalidArgument, err)
	}
	o.done(ctx, StageLaunchConfig, launch.String())

	res := probe.Probe(o.locator, o.base.With("component", "probe"))
	if res.KernelPacketDriver {
		launch = launch.ForceKernelPacket()
	}
	o.launchConfig = launch
	o.done(ctx, StageProbe, fmt.Sprintf("kernel_pkt_driver=%t", res.KernelPacketDriver))

	if path := launch.ConfFile(); path != "" {
		if digest, err := switchd.ConfigDigest(path); err != nil {
			o.logger.Warn("cannot digest switchd config", "error", err)
		} else if err := o.recorder.SetConfigDigest(ctx, digest); err != nil {
			o.logger.Warn("boot journal write failed", "error", err)
		}
	}

	if err := switchd.Initialize(o.driver, launch, o.base.With("component", "switchd")); err != nil {
		return o.fatal(ctx, StageSwitchdInit, codes.Internal, err)
	}
	o.done(ctx, StageSwitchdInit, "")

	unit := bfrt.DefaultUnit
	node := bfrt.Build(unit, o.driver.DeviceManager(), o.buildOpts...)
	o.done(ctx, StagePipeline, fmt.Sprintf("unit=%d", unit))

	o.platform = o.newPlatform(o.cfg.Sim)
	o.done(ctx, StagePlatform, o.platform.Kind().String())

	o.sw = bfswitch.New(o.platform, o.driver.PAL(), map[int]*bfrt.Node{unit: node}, o.base)
	o.done(ctx, StageSwitch, "")

	checker := authz.New(o.base)
	o.done(ctx, StageAuthz, "")

	creds, err := o.newCreds(o.cfg.Credentials, o.base)
	if err != nil {
		return o.fatal(ctx, StageCredentials, codes.FailedPrecondition, err)
	}
	o.done(ctx, StageCredentials, fmt.Sprintf("secure=%t", creds.Secure()))

	svcOpts := o.cfg.Service
	if svcOpts.BootID == "" {
		svcOpts.BootID = o.recorder.BootID()
	}
	svc, err := o.newService(ServiceDeps{
		Mode:        hal.ModeStandalone,
		Switch:      o.sw,
		Checker:     checker,
		Credentials: creds,
		Options:     svcOpts,
		Logger:      o.base,
	})
	if err == nil && svc == nil {
		err = fmt.Errorf("service factory returned no service")
	}
	if err != nil {
		return o.fatal(ctx, StageService, codes.Internal, err)
	}
	o.done(ctx, StageService, "")

	o.state = StateSetupAttempted
	if err := svc.Setup(ctx); err != nil {
		o.logger.Error("Error when setting up Stratum HAL (but we will continue running)", "error", err)
		o.record(ctx, StageSetup, journal.OutcomeAbsorbed, err.Error())
	} else {
		o.done(ctx, StageSetup, "")
	}

	o.state = StateRunning
	o.onStage(StageRun)
	err = svc.Run(ctx)
	o.state = StateStopped

	outcome := journal.OutcomeOK
	detail := ""
	if err != nil {
		outcome = journal.OutcomeFailed
		detail = err.Error()
	}
	// ctx is usually cancelled by now: Run returns on shutdown.
	o.record(context.WithoutCancel(ctx), StageRun, outcome, detail)
	o.logger.Info("See you later!", "error", err)
	return err
}

// ExitCode maps a final status to a process exit code: 0 for nil, the
// gRPC status code otherwise. Errors without a status map to Unknown.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if s, ok := status.FromError(err); ok {
		return int(s.Code())
	}
	return int(codes.Unknown)
}
