// Package hal is the long-running service object of the agent. It owns
// the gRPC server, applies the on-disk configuration during Setup and
// serves until its context is cancelled or a shutdown is requested.
package hal

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/sslauro/stratum/authz"
	"github.com/sslauro/stratum/bfswitch"
	"github.com/sslauro/stratum/config"
	"github.com/sslauro/stratum/credentials"
	"github.com/sslauro/stratum/lock"
)

// Mode is the operation mode of the service.
type Mode int

// ModeStandalone runs the agent on the switch itself. It is the only
// mode New accepts.
const ModeStandalone Mode = 0

func (m Mode) String() string {
	if m == ModeStandalone {
		return "standalone"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ChassisService is the health service name that reflects whether the
// chassis config was applied.
const ChassisService = "chassis"

// Options configure the service.
type Options struct {
	Dirs config.RuntimeDirs
	// ListenAddress is the gRPC address.
	ListenAddress string
	// AdminAddress is the optional admin HTTP address. A bare port
	// listens on the loopback address.
	AdminAddress string
	// ChassisConfigFile is read and pushed during Setup.
	ChassisConfigFile string
	// AuthorizationPolicyFile is loaded during Setup.
	AuthorizationPolicyFile string
	// BootID is reported on /bootz.
	BootID string
	// Listener replaces the gRPC listener; ListenAddress is then only
	// reported.
	Listener net.Listener
}

type state int

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

// Hal is the service object.
type Hal struct {
	mode    Mode
	sw      *bfswitch.Switch
	checker *authz.Checker
	creds   *credentials.Manager
	opts    Options
	logger  *slog.Logger

	lock   *lock.Instance
	server *grpc.Server
	health *health.Server

	mu       sync.Mutex
	state    state
	setupErr error

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New builds the service. Only standalone mode is supported. It takes
// the runtime lock, so a second agent on the same runtime directory
// fails here.
func New(mode Mode, sw *bfswitch.Switch, checker *authz.Checker, creds *credentials.Manager, opts Options, logger *slog.Logger) (*Hal, error) {
	if mode != ModeStandalone {
		return nil, status.Errorf(codes.InvalidArgument, "unsupported operation mode %s", mode)
	}
	if sw == nil || checker == nil || creds == nil {
		return nil, status.Error(codes.InvalidArgument, "switch, authorization checker and credentials are required")
	}
	if opts.ListenAddress == "" && opts.Listener == nil {
		return nil, status.Error(codes.InvalidArgument, "a listen address is required")
	}
	if opts.Dirs.Base() == "" {
		opts.Dirs = config.DefaultRuntimeDirs()
	}

	if err := opts.Dirs.EnsureBase(); err != nil {
		return nil, status.Errorf(codes.Internal, "runtime directory: %v", err)
	}
	inst, err := lock.Acquire(opts.Dirs.Lock())
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "%v", err)
	}

	h := &Hal{
		mode:     mode,
		sw:       sw,
		checker:  checker,
		creds:    creds,
		opts:     opts,
		logger:   logger.With("component", "hal"),
		lock:     inst,
		health:   health.NewServer(),
		shutdown: make(chan struct{}),
	}

	h.server = grpc.NewServer(
		creds.ServerOption(),
		grpc.ChainUnaryInterceptor(h.loggingInterceptor(), checker.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(checker.StreamInterceptor()),
	)
	healthpb.RegisterHealthServer(h.server, h.health)
	reflection.Register(h.server)
	h.health.SetServingStatus(ChassisService, healthpb.HealthCheckResponse_NOT_SERVING)

	h.logger.Info("service created",
		"mode", mode,
		"listen", opts.ListenAddress,
		"secure", creds.Secure(),
		"runtime_dir", opts.Dirs.Base())
	return h, nil
}

// Shutdown asks a running Run to return. It is safe to call more than
// once and before Run.
func (h *Hal) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.logger.Info("shutdown requested")
		close(h.shutdown)
	})
}

// Close releases the runtime lock of a service whose Run was never
// called. Run releases it itself.
func (h *Hal) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stateCreated {
		h.state = stateStopped
	}
	return h.lock.Release()
}

func (h *Hal) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			h.logger.ErrorContext(ctx, "grpc error", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}
