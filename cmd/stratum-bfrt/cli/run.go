package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sslauro/stratum/bringup"
	"github.com/sslauro/stratum/config"
	"github.com/sslauro/stratum/credentials"
	"github.com/sslauro/stratum/hal"
	"github.com/sslauro/stratum/journal"
	"github.com/sslauro/stratum/probe"
	"github.com/sslauro/stratum/switchd"
)

// RunCmd brings the switch up and serves until interrupted.
type RunCmd struct {
	BfSdeInstall        string `name:"bf-sde-install" help:"Absolute path to the directory where the BF SDE is installed."`
	BfSwitchdCfg        string `name:"bf-switchd-cfg" help:"Path to the BF switchd json config file."`
	BfSwitchdBackground *bool  `name:"bf-switchd-background" help:"Run switchd in the background with no interactive features."`
	BfSim               *bool  `name:"bf-sim" help:"Run with the Tofino simulator."`
	KernelPacket        *bool  `name:"kernel-packet" help:"Request the kernel packet driver. Forced on when bf_kpkt is detected."`

	Listen            string `name:"listen" help:"gRPC listen address."`
	AdminAddress      string `name:"admin-address" help:"Admin HTTP address; a bare port listens on 127.0.0.1."`
	ChassisConfigFile string `name:"chassis-config-file" help:"Chassis config pushed during setup."`

	CACertFile              string `name:"ca-cert-file" help:"CA bundle used to verify client certificates."`
	ServerCertFile          string `name:"server-cert-file" help:"Server certificate."`
	ServerKeyFile           string `name:"server-key-file" help:"Server private key."`
	KeyIdentityFile         string `name:"key-identity-file" help:"age identity decrypting --server-key-file."`
	AuthorizationPolicyFile string `name:"authorization-policy-file" help:"YAML authorization policy."`

	DryRun bool `name:"dry-run" help:"Use the in-memory software driver instead of the SDE."`
}

// apply overlays the flags that were set onto cfg.
func (c *RunCmd) apply(cfg *config.Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}

	setString(&cfg.Switchd.InstallDir, c.BfSdeInstall)
	setString(&cfg.Switchd.ConfFile, c.BfSwitchdCfg)
	setBool(&cfg.Switchd.Background, c.BfSwitchdBackground)
	setBool(&cfg.Switchd.Sim, c.BfSim)
	setBool(&cfg.Switchd.KernelPacket, c.KernelPacket)

	setString(&cfg.Service.ListenAddress, c.Listen)
	setString(&cfg.Service.AdminAddress, c.AdminAddress)
	setString(&cfg.Service.ChassisConfigFile, c.ChassisConfigFile)

	setString(&cfg.Security.CACertFile, c.CACertFile)
	setString(&cfg.Security.ServerCertFile, c.ServerCertFile)
	setString(&cfg.Security.ServerKeyFile, c.ServerKeyFile)
	setString(&cfg.Security.KeyIdentityFile, c.KeyIdentityFile)
	setString(&cfg.Security.AuthorizationPolicyFile, c.AuthorizationPolicyFile)
}

// BringupConfig converts the agent configuration into the bring-up
// input.
func BringupConfig(cfg config.Config, dirs config.RuntimeDirs) bringup.Config {
	return bringup.Config{
		Switchd: switchd.Options{
			InstallDir:   cfg.Switchd.InstallDir,
			ConfFile:     cfg.Switchd.ConfFile,
			Background:   cfg.Switchd.Background,
			KernelPacket: cfg.Switchd.KernelPacket,
		},
		Sim: cfg.Switchd.Sim,
		Credentials: credentials.Options{
			CACertFile:      cfg.Security.CACertFile,
			ServerCertFile:  cfg.Security.ServerCertFile,
			ServerKeyFile:   cfg.Security.ServerKeyFile,
			KeyIdentityFile: cfg.Security.KeyIdentityFile,
		},
		Service: hal.Options{
			Dirs:                    dirs,
			ListenAddress:           cfg.Service.ListenAddress,
			AdminAddress:            cfg.Service.AdminAddress,
			ChassisConfigFile:       cfg.Service.ChassisConfigFile,
			AuthorizationPolicyFile: cfg.Security.AuthorizationPolicyFile,
		},
	}
}

// Run executes the run command. The returned error carries the gRPC
// status code used as the process exit code.
func (c *RunCmd) Run(cli *CLI) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to load config: %v", err)
	}
	c.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid config: %v", err)
	}

	logger, err := cli.Logger(cfg, os.Stdout)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "failed to create logger: %v", err)
	}

	dirs, err := cli.RuntimeDirs(cfg)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "runtime directory: %v", err)
	}

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rec := openJournal(ctx, cfg.Runtime.JournalPath(dirs), logger)
	defer rec.Close()

	opts := []bringup.Option{
		bringup.WithLogger(logger),
		bringup.WithRecorder(rec),
		bringup.WithLocator(probe.First(switchd.SDELocator{}, probe.SysfsLocator{})),
	}
	driverLogger := logger.With("component", "switchd")
	if c.DryRun {
		logger.Warn("dry run: using the in-memory software driver")
		opts = append(opts, bringup.WithDriver(switchd.NewSoftware(driverLogger)))
	} else {
		opts = append(opts, bringup.WithDriver(switchd.NewSDE(driverLogger)))
	}

	return bringup.New(BringupConfig(cfg, dirs), opts...).Run(ctx)
}

// openJournal opens the boot journal at path. An empty path or a
// journal that cannot be opened yields a Recorder that keeps nothing.
func openJournal(ctx context.Context, path string, logger *slog.Logger) journal.Recorder {
	if path == "" {
		return journal.NewDiscard()
	}
	store, err := journal.Open(ctx, path, logger)
	if err != nil {
		logger.Warn("boot journal unavailable, continuing without it", "path", path, "error", err)
		return journal.NewDiscard()
	}
	return store
}
