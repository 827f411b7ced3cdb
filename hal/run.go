package hal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Run serves until ctx is cancelled or Shutdown is called, then stops
// the gRPC server, tears down the switch and releases the runtime lock.
// It returns nil on a requested stop and an Unavailable status when a
// server fails. Run may be called once.
func (h *Hal) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.state != stateCreated {
		h.mu.Unlock()
		return status.Error(codes.FailedPrecondition, "service already ran")
	}
	h.state = stateRunning
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.state = stateStopped
		h.mu.Unlock()
		if err := h.lock.Release(); err != nil {
			h.logger.Warn("releasing runtime lock", "error", err)
		}
	}()

	lis := h.opts.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", h.opts.ListenAddress)
		if err != nil {
			return status.Errorf(codes.Unavailable, "failed to listen on %s: %v", h.opts.ListenAddress, err)
		}
	}

	errChan := make(chan error, 2)

	var admin *http.Server
	if h.opts.AdminAddress != "" {
		adminLis, err := net.Listen("tcp", adminAddress(h.opts.AdminAddress))
		if err != nil {
			lis.Close()
			return status.Errorf(codes.Unavailable, "failed to listen on admin address %s: %v", h.opts.AdminAddress, err)
		}
		admin = &http.Server{Handler: h.adminRouter()}
		h.logger.Info("admin HTTP server listening", "address", adminLis.Addr().String())
		go func() {
			if err := admin.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	go func() {
		h.logger.Info("gRPC server listening", "address", lis.Addr().String())
		if err := h.server.Serve(lis); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		h.logger.Info("context cancelled, shutting down")
	case <-h.shutdown:
	case err := <-errChan:
		h.logger.Error("server failed", "error", err)
		runErr = status.Error(codes.Unavailable, err.Error())
	}

	h.health.Shutdown()
	h.server.GracefulStop()
	if admin != nil {
		admin.Close()
	}
	// Teardown runs after the servers stop; ctx may already be done.
	if err := h.sw.Shutdown(context.WithoutCancel(ctx)); err != nil {
		h.logger.Error("switch shutdown", "error", err)
	}
	return runErr
}
