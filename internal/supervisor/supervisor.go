// Package supervisor drives the Child Monitor state machine for every
// replica of every program, applies the stop protocol, and exposes the
// imperative Status/Start/Stop/Reload operations used by internal/shell and
// internal/httpapi.
package supervisor

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/kael-dev/sentryd/internal/env"
	"github.com/kael-dev/sentryd/internal/history"
	"github.com/kael-dev/sentryd/internal/metrics"
	"github.com/kael-dev/sentryd/internal/proc"
	"github.com/kael-dev/sentryd/internal/registry"
	"github.com/kael-dev/sentryd/internal/store"
)

// startPollInterval bounds how often the Starting-window watchdog wakes to
// notice an early exit; it is not the sole detector of exit (cmd.Wait's own
// goroutine always observes it), just keeps the window responsive.
const startPollInterval = 50 * time.Millisecond

// restartBackoff is the pause before relaunching a crashed child, mirroring
// the distilled spec's fixed respawn delay.
const restartBackoff = 1 * time.Second

// Supervisor owns the Launcher and Registry and implements
// registry.JobLauncher / registry.JobStopper.
type Supervisor struct {
	reg             *registry.Registry
	launcher        *proc.Launcher
	envM            *env.Env
	log             *slog.Logger
	defaultStopTime time.Duration

	mu    sync.Mutex
	st    store.Store
	sinks []history.Sink
}

func New(reg *registry.Registry, launcher *proc.Launcher, envM *env.Env, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if envM == nil {
		envM = env.New()
	}
	return &Supervisor{reg: reg, launcher: launcher, envM: envM, log: log, defaultStopTime: 10 * time.Second}
}

func (s *Supervisor) SetStore(st store.Store) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Launch implements registry.JobLauncher. When index 0 is among the
// requested replicas and spec.PIDFile names a still-live process, that
// replica is adopted from the pid file instead of forked fresh, so a
// supervisor restart does not orphan a process it previously launched.
func (s *Supervisor) Launch(job *registry.RuntimeJob, n int) {
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		idx := s.nextIndex(job)
		if idx == 0 {
			if child, ok := s.launcher.Recover(job.Spec); ok {
				s.adoptOne(job, job.Spec, idx, child)
				continue
			}
		}
		s.launchOne(job, job.Spec, idx)
	}
}

func (s *Supervisor) nextIndex(job *registry.RuntimeJob) int {
	used := map[int]bool{}
	for _, c := range job.Children {
		used[c.Index] = true
	}
	i := 0
	for used[i] {
		i++
	}
	return i
}

func (s *Supervisor) launchOne(job *registry.RuntimeJob, spec proc.Spec, idx int) {
	merged := s.envM.Merge(spec.Env)
	child, err := s.launcher.Launch(spec, idx, merged)
	if err != nil {
		s.log.Error("launch failed", "program", spec.Name, "err", err)
		return
	}
	rec := &registry.ChildRecord{Child: child, Index: idx, State: registry.StateStarting}
	s.reg.WithWriter(func(map[string]*registry.RuntimeJob) {
		job.Children = append(job.Children, rec)
	})
	metrics.IncLaunch(spec.Name)
	metrics.RecordStateTransition(spec.Name, "", string(registry.StateStarting))
	s.log.Info("child started", "program", spec.Name, "pid", child.PID(), "index", idx)
	s.recordStart(spec.Name, child)
	s.updateRunningGauge(spec.Name)
	go s.monitor(job, rec, spec)
}

// adoptOne registers a Child recovered from an on-disk pid file (see
// proc.Launcher.Recover) as if it had just been launched, skipping the
// Starting-window wait since the process may have been running for a
// while already.
func (s *Supervisor) adoptOne(job *registry.RuntimeJob, spec proc.Spec, idx int, child *proc.Child) {
	rec := &registry.ChildRecord{Child: child, Index: idx, State: registry.StateRunning}
	s.reg.WithWriter(func(map[string]*registry.RuntimeJob) {
		job.Children = append(job.Children, rec)
	})
	metrics.RecordStateTransition(spec.Name, "", string(registry.StateRunning))
	s.log.Info("child recovered from pid file", "program", spec.Name, "pid", child.PID(), "index", idx)
	s.recordStart(spec.Name, child)
	s.updateRunningGauge(spec.Name)
	go func() {
		<-child.Done()
		s.onExit(job, rec, spec)
	}()
}

// updateRunningGauge drives sentryd_program_running_replicas from the
// registry's current count of Starting+Running children for name.
func (s *Supervisor) updateRunningGauge(name string) {
	if st, ok := s.reg.StatusOne(name); ok {
		metrics.SetRunningReplicas(name, st.Running+st.Starting)
	}
}

// monitor runs for the lifetime of one child: watch the Starting window,
// transition to Running, then block for exit and drive the restart decision.
func (s *Supervisor) monitor(job *registry.RuntimeJob, rec *registry.ChildRecord, spec proc.Spec) {
	if spec.StartTime > 0 {
		timer := time.NewTimer(spec.StartTime)
		ticker := time.NewTicker(startPollInterval)
	waitForStart:
		for {
			select {
			case <-rec.Child.Done():
				timer.Stop()
				ticker.Stop()
				s.onExit(job, rec, spec)
				return
			case <-timer.C:
				break waitForStart
			case <-ticker.C:
			}
		}
		ticker.Stop()
	}

	if len(spec.Detectors) > 0 && !rec.Child.DetectAlive(spec.Detectors) {
		// Log-only: per spec, auxiliary detectors never change restart
		// policy, only surface disagreement with raw pid tracking.
		s.log.Warn("detector disagrees with pid liveness", "program", spec.Name, "pid", rec.PID())
	}

	s.transition(rec, registry.StateRunning, spec.Name)
	s.log.Info("child healthy", "program", spec.Name, "pid", rec.PID())

	<-rec.Child.Done()
	s.onExit(job, rec, spec)
}

func (s *Supervisor) transition(rec *registry.ChildRecord, to registry.ChildState, name string) {
	var from registry.ChildState
	s.reg.WithWriter(func(map[string]*registry.RuntimeJob) {
		from = rec.State
		rec.State = to
	})
	metrics.RecordStateTransition(name, string(from), string(to))
}

func (s *Supervisor) onExit(job *registry.RuntimeJob, rec *registry.ChildRecord, spec proc.Spec) {
	code := rec.Child.ExitCode()

	var wasStopping bool
	var from registry.ChildState
	s.reg.WithWriter(func(jobs map[string]*registry.RuntimeJob) {
		from = rec.State
		wasStopping = rec.State == registry.StateStopping
		rec.State = registry.StateExited
		for i, c := range job.Children {
			if c == rec {
				job.Children = append(job.Children[:i], job.Children[i+1:]...)
				break
			}
		}
	})
	metrics.RecordStateTransition(spec.Name, string(from), string(registry.StateExited))
	s.log.Info("child exited", "program", spec.Name, "pid", rec.PID(), "code", code, "stopping", wasStopping)
	s.recordStop(spec.Name, rec.Child)
	s.updateRunningGauge(spec.Name)

	if wasStopping {
		return
	}
	if !proc.ShouldRestart(spec.RestartPolicy, code, spec.ExpectedExitCodes) {
		return
	}

	var doRespawn bool
	s.reg.WithWriter(func(jobs map[string]*registry.RuntimeJob) {
		if _, ok := jobs[job.Name]; !ok {
			return
		}
		if job.RetriesLeft <= 0 {
			metrics.IncRetriesExhausted(spec.Name)
			s.log.Warn("retry limit reached", "program", spec.Name)
			return
		}
		job.RetriesLeft--
		job.Restarts++
		doRespawn = true
	})
	if !doRespawn {
		return
	}
	metrics.IncRestart(spec.Name)
	time.Sleep(restartBackoff)

	var curSpec proc.Spec
	var gone bool
	s.reg.WithReader(func(jobs map[string]*registry.RuntimeJob) {
		if _, ok := jobs[job.Name]; !ok {
			gone = true
			return
		}
		curSpec = job.Spec
	})
	if gone {
		return
	}
	idx := s.nextIndex(job)
	s.launchOne(job, curSpec, idx)
}

// StopAll implements registry.JobStopper: stop every live child of job.
func (s *Supervisor) StopAll(job *registry.RuntimeJob, wait time.Duration) {
	var recs []*registry.ChildRecord
	s.reg.WithReader(func(map[string]*registry.RuntimeJob) {
		recs = append([]*registry.ChildRecord(nil), job.Children...)
	})
	s.stopRecords(job, recs, wait)
}

// StopN implements registry.JobStopper: stop the n most-recently-launched
// children (last-inserted first, a deterministic surplus selection).
func (s *Supervisor) StopN(job *registry.RuntimeJob, n int, wait time.Duration) {
	if n <= 0 {
		return
	}
	var recs []*registry.ChildRecord
	s.reg.WithReader(func(map[string]*registry.RuntimeJob) {
		all := job.Children
		if n > len(all) {
			n = len(all)
		}
		recs = append([]*registry.ChildRecord(nil), all[len(all)-n:]...)
	})
	s.stopRecords(job, recs, wait)
}

func (s *Supervisor) stopRecords(job *registry.RuntimeJob, recs []*registry.ChildRecord, wait time.Duration) {
	if wait <= 0 {
		wait = s.defaultStopTime
	}
	var wg sync.WaitGroup
	for _, rec := range recs {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.stopOne(job, rec, wait)
		}()
	}
	wg.Wait()
}

// stopOne signals rec's process group and waits up to wait for the monitor
// goroutine (blocked on rec.Child.Done()) to observe exit; past the
// deadline it escalates to SIGKILL. It does not itself mutate
// job.Children — that remains the monitor's exclusive responsibility (I3).
func (s *Supervisor) stopOne(job *registry.RuntimeJob, rec *registry.ChildRecord, wait time.Duration) {
	sig := stopSignal(job.Spec.StopSignal)
	s.reg.WithWriter(func(map[string]*registry.RuntimeJob) {
		rec.State = registry.StateStopping
	})
	s.updateRunningGauge(job.Spec.Name)
	if err := rec.Child.Signal(sig); err != nil {
		s.log.Warn("stop signal failed", "program", job.Spec.Name, "pid", rec.PID(), "err", err)
	}
	select {
	case <-rec.Child.Done():
	case <-time.After(wait):
		_ = rec.Child.Kill()
		select {
		case <-rec.Child.Done():
		case <-time.After(2 * time.Second):
		}
	}
	metrics.IncStop(job.Spec.Name)
}

func stopSignal(s proc.StopSignal) syscall.Signal {
	switch s {
	case proc.StopINT:
		return syscall.SIGINT
	case proc.StopQUIT:
		return syscall.SIGQUIT
	case proc.StopUSR1:
		return syscall.SIGUSR1
	default:
		return syscall.SIGTERM
	}
}

func (s *Supervisor) recordStart(name string, child *proc.Child) {
	s.mu.Lock()
	st := s.st
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	if st == nil && len(sinks) == 0 {
		return
	}
	rec := store.Record{Name: name, PID: child.PID(), StartedAt: child.StartedAt()}
	ctx := context.Background()
	if st != nil {
		_ = st.RecordStart(ctx, rec)
	}
	for _, sink := range sinks {
		evt := history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec}
		_ = sink.Send(ctx, evt)
	}
}

func (s *Supervisor) recordStop(name string, child *proc.Child) {
	s.mu.Lock()
	st := s.st
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	if st == nil && len(sinks) == 0 {
		return
	}
	rec := store.Record{Name: name, PID: child.PID(), StartedAt: child.StartedAt()}
	stoppedAt := time.Now().UTC()
	ctx := context.Background()
	exitErr := child.ExitErr()
	if st != nil {
		_ = st.RecordStop(ctx, rec.Key(), stoppedAt, exitErr)
	}
	if len(sinks) > 0 {
		rec.Running = false
		rec.StoppedAt = sql.NullTime{Time: stoppedAt, Valid: true}
		if exitErr != nil {
			rec.ExitErr = sql.NullString{String: exitErr.Error(), Valid: true}
		}
		evt := history.Event{Type: history.EventStop, OccurredAt: stoppedAt, Record: rec}
		for _, sink := range sinks {
			_ = sink.Send(ctx, evt)
		}
	}
}
