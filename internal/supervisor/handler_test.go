package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kael-dev/sentryd/internal/proc"
	"github.com/kael-dev/sentryd/internal/registry"
)

func newTestHandler(loader ConfigLoader) (*registry.Registry, *Handler) {
	reg := registry.New()
	sup := New(reg, proc.NewLauncher(), nil, nil)
	recon := registry.NewReconciler(reg, sup, sup, time.Second)
	if loader == nil {
		loader = func() ([]proc.Spec, error) { return nil, nil }
	}
	return reg, NewHandler(reg, sup, recon, loader)
}

func TestHandler_StatusEmpty(t *testing.T) {
	_, h := newTestHandler(nil)
	if sts := h.Status(); len(sts) != 0 {
		t.Fatalf("expected empty status, got %v", sts)
	}
}

func TestHandler_StatusOneUnknown(t *testing.T) {
	_, h := newTestHandler(nil)
	if _, err := h.StatusOne("ghost"); !errors.Is(err, ErrUnknownProgram) {
		t.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
}

func TestHandler_StartUnknownProgram(t *testing.T) {
	_, h := newTestHandler(nil)
	if err := h.Start("ghost"); !errors.Is(err, ErrUnknownProgram) {
		t.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
}

func TestHandler_StartKnownProgramLaunches(t *testing.T) {
	reg, h := newTestHandler(nil)
	job := reg.Ensure("demo")
	reg.WithWriter(func(map[string]*registry.RuntimeJob) {
		job.Spec = proc.Spec{Name: "demo", Command: "sleep 0.2", NumProcs: 1}.WithDefaults()
	})
	if err := h.Start("demo"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForCondition(t, time.Second, func() bool {
		st, _ := reg.StatusOne("demo")
		return st.Running+st.Starting == 1
	})
}

func TestHandler_StopUnknownProgram(t *testing.T) {
	_, h := newTestHandler(nil)
	if err := h.Stop("ghost", time.Second); !errors.Is(err, ErrUnknownProgram) {
		t.Fatalf("expected ErrUnknownProgram, got %v", err)
	}
}

func TestHandler_ReloadInvokesReconciler(t *testing.T) {
	loader := func() ([]proc.Spec, error) {
		return []proc.Spec{{Name: "demo", Command: "sleep 0.2", NumProcs: 1, Autostart: false}}, nil
	}
	reg, h := newTestHandler(loader)
	if err := h.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reg.Get("demo"); !ok {
		t.Fatalf("expected reload to register demo from loader")
	}
}

func TestHandler_ReloadPropagatesLoadError(t *testing.T) {
	boom := errors.New("boom")
	loader := func() ([]proc.Spec, error) { return nil, boom }
	_, h := newTestHandler(loader)
	if err := h.Reload(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected load error propagated, got %v", err)
	}
}
