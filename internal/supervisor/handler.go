package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kael-dev/sentryd/internal/proc"
	"github.com/kael-dev/sentryd/internal/registry"
)

// ErrUnknownProgram is returned by Start/Stop for a name not present in the
// currently loaded configuration or registry.
var ErrUnknownProgram = errors.New("no such program")

// ConfigLoader re-reads the configuration document and returns the declared
// specs. Injected rather than imported directly so this package does not
// depend on internal/config's document shape.
type ConfigLoader func() ([]proc.Spec, error)

// Handler exposes the imperative Status/Start/Stop/Reload operations
// fronted by internal/shell and internal/httpapi.
type Handler struct {
	reg     *registry.Registry
	sup     *Supervisor
	recon   *registry.Reconciler
	loadCfg ConfigLoader
}

func NewHandler(reg *registry.Registry, sup *Supervisor, recon *registry.Reconciler, loadCfg ConfigLoader) *Handler {
	return &Handler{reg: reg, sup: sup, recon: recon, loadCfg: loadCfg}
}

// Status snapshots every program's child counts under a single read lock.
func (h *Handler) Status() []registry.ProgramStatus {
	return h.reg.Status()
}

// StatusOne snapshots a single program.
func (h *Handler) StatusOne(name string) (registry.ProgramStatus, error) {
	st, ok := h.reg.StatusOne(name)
	if !ok {
		return registry.ProgramStatus{}, ErrUnknownProgram
	}
	return st, nil
}

// Start launches spec.NumProcs replicas for an already-registered program,
// resetting its retry budget.
func (h *Handler) Start(name string) error {
	job, ok := h.reg.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}
	var spec proc.Spec
	h.reg.WithWriter(func(map[string]*registry.RuntimeJob) {
		spec = job.Spec
		job.RetriesLeft = spec.StartRetries
	})
	n := spec.NumProcs
	if n <= 0 {
		n = 1
	}
	h.sup.Launch(job, n)
	return nil
}

// Stop applies the stop protocol to every child of name, leaving the spec
// intact for a later Start.
func (h *Handler) Stop(name string, wait time.Duration) error {
	job, ok := h.reg.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}
	h.sup.StopAll(job, wait)
	return nil
}

// Reload re-reads the configuration and reconciles the registry to match.
func (h *Handler) Reload(ctx context.Context) error {
	specs, err := h.loadCfg()
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return h.recon.Apply(ctx, specs)
}
