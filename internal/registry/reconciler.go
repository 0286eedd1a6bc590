package registry

import (
	"context"
	"sort"
	"time"

	"github.com/kael-dev/sentryd/internal/metrics"
	"github.com/kael-dev/sentryd/internal/proc"
)

// JobLauncher launches n additional replicas of job.Spec, appending
// ChildRecords to job.Children and arranging for their monitoring. It is
// implemented by internal/supervisor.Supervisor.
type JobLauncher interface {
	Launch(job *RuntimeJob, n int)
}

// JobStopper applies the stop protocol to a job's children. It is
// implemented by internal/supervisor.Supervisor.
type JobStopper interface {
	StopAll(job *RuntimeJob, wait time.Duration)
	StopN(job *RuntimeJob, n int, wait time.Duration)
}

// Reconciler drives the Registry into convergence with a declared set of
// specs in one logical Apply call: removal, update/scale, then addition.
type Reconciler struct {
	reg             *Registry
	launcher        JobLauncher
	stopper         JobStopper
	defaultStopTime time.Duration
}

func NewReconciler(reg *Registry, launcher JobLauncher, stopper JobStopper, defaultStopTime time.Duration) *Reconciler {
	if defaultStopTime <= 0 {
		defaultStopTime = 10 * time.Second
	}
	return &Reconciler{reg: reg, launcher: launcher, stopper: stopper, defaultStopTime: defaultStopTime}
}

// Apply transitions the registry to match specs. See the distilled
// three-step contract: removal, update/scale, addition (priority-ordered).
func (rc *Reconciler) Apply(ctx context.Context, specs []proc.Spec) error {
	_ = ctx
	desired := make(map[string]proc.Spec, len(specs))
	for _, s := range specs {
		desired[s.Name] = s.WithDefaults()
	}

	for _, name := range rc.reg.Names() {
		if _, ok := desired[name]; ok {
			continue
		}
		job, ok := rc.reg.Get(name)
		if !ok {
			continue
		}
		rc.stopper.StopAll(job, stopTimeFor(job.Spec, rc.defaultStopTime))
		rc.reg.Delete(name)
	}

	var additions []proc.Spec
	for name, spec := range desired {
		job, ok := rc.reg.Get(name)
		if !ok {
			additions = append(additions, spec)
			continue
		}
		rc.reconcileExisting(job, spec)
	}

	sort.Slice(additions, func(i, k int) bool {
		if additions[i].Priority != additions[k].Priority {
			return additions[i].Priority < additions[k].Priority
		}
		return additions[i].Name < additions[k].Name
	})
	for _, spec := range additions {
		job := rc.reg.Ensure(spec.Name)
		rc.reg.WithWriter(func(map[string]*RuntimeJob) {
			job.Spec = spec
			job.RetriesLeft = spec.StartRetries
		})
		if spec.Autostart {
			rc.launcher.Launch(job, spec.NumProcs)
		}
	}
	metrics.IncReconcileCycle("ok")
	return nil
}

func (rc *Reconciler) reconcileExisting(job *RuntimeJob, spec proc.Spec) {
	oldSpec := job.Spec
	if !oldSpec.Equivalent(spec) {
		rc.stopper.StopAll(job, stopTimeFor(oldSpec, rc.defaultStopTime))
		rc.reg.WithWriter(func(map[string]*RuntimeJob) {
			job.Spec = spec
			job.RetriesLeft = spec.StartRetries
		})
		rc.launcher.Launch(job, spec.NumProcs)
		return
	}

	var current int
	rc.reg.WithWriter(func(map[string]*RuntimeJob) {
		job.Spec = spec
		current = job.running()
	})
	switch {
	case spec.NumProcs > current:
		rc.launcher.Launch(job, spec.NumProcs-current)
	case spec.NumProcs < current:
		rc.stopper.StopN(job, current-spec.NumProcs, stopTimeFor(spec, rc.defaultStopTime))
	}
}

func stopTimeFor(spec proc.Spec, def time.Duration) time.Duration {
	if spec.StopTime > 0 {
		return spec.StopTime
	}
	return def
}
