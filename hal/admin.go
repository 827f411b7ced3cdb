package hal

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sslauro/stratum/phal"
)

// adminAddress accepts a bare port as shorthand for the loopback
// address on that port. The admin routes are unauthenticated, so
// listening on other interfaces needs an explicit host.
func adminAddress(addr string) string {
	if p, err := strconv.Atoi(addr); err == nil {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(p))
	}
	return addr
}

// BootStatus is the /bootz document.
type BootStatus struct {
	BootID        string `json:"boot_id"`
	Mode          string `json:"mode"`
	Platform      string `json:"platform"`
	Units         []int  `json:"units"`
	Secure        bool   `json:"secure"`
	Authorization bool   `json:"authorization"`
	SetupError    string `json:"setup_error,omitempty"`
}

// Status returns the current boot status.
func (h *Hal) Status() BootStatus {
	h.mu.Lock()
	setupErr := h.setupErr
	h.mu.Unlock()

	st := BootStatus{
		BootID:        h.opts.BootID,
		Mode:          h.mode.String(),
		Platform:      h.sw.Platform().Kind().String(),
		Units:         h.sw.Units(),
		Secure:        h.creds.Secure(),
		Authorization: h.checker.Enabled(),
	}
	if setupErr != nil {
		st.SetupError = setupErr.Error()
	}
	return st
}

// PlatformStatus is the /platformz document.
type PlatformStatus struct {
	Kind       string           `json:"kind"`
	Sensors    []phal.Sensor    `json:"sensors"`
	Interfaces []phal.Interface `json:"interfaces"`
}

// PlatformStatus reads the platform's sensors and interfaces.
func (h *Hal) PlatformStatus(ctx context.Context) (PlatformStatus, error) {
	p := h.sw.Platform()
	sensors, err := p.Sensors(ctx)
	if err != nil {
		return PlatformStatus{}, fmt.Errorf("read sensors: %w", err)
	}
	ifs, err := p.Interfaces(ctx)
	if err != nil {
		return PlatformStatus{}, fmt.Errorf("list interfaces: %w", err)
	}
	return PlatformStatus{Kind: p.Kind().String(), Sensors: sensors, Interfaces: ifs}, nil
}

func (h *Hal) adminRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/bootz", h.handleBootz).Methods(http.MethodGet)
	r.HandleFunc("/platformz", h.handlePlatformz).Methods(http.MethodGet)
	r.HandleFunc("/quitquitquit", h.handleQuit).Methods(http.MethodPost)

	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	return r
}

func (h *Hal) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (h *Hal) handleBootz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
		h.logger.Warn("writing /bootz", "error", err)
	}
}

func (h *Hal) handlePlatformz(w http.ResponseWriter, r *http.Request) {
	st, err := h.PlatformStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		h.logger.Warn("writing /platformz", "error", err)
	}
}

func (h *Hal) handleQuit(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("shutdown requested over admin HTTP", "remote", r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "shutting down")
	h.Shutdown()
}

// AdminHandler exposes the admin routes for embedding and tests.
func (h *Hal) AdminHandler() http.Handler { return h.adminRouter() }
