package proc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kael-dev/sentryd/internal/detector"
)

func TestDetectAlive_NoDetectorsTrustsOSCheck(t *testing.T) {
	requireUnix(t)
	l := NewLauncher()
	spec := Spec{Name: "da1", Command: "sleep 1"}.WithDefaults()
	child, err := l.Launch(spec, 0, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer child.Kill()
	if !child.DetectAlive(nil) {
		t.Fatalf("expected DetectAlive true for a live child with no detectors")
	}
}

func TestDetectAlive_DeadOSCheckShortCircuits(t *testing.T) {
	requireUnix(t)
	l := NewLauncher()
	spec := Spec{Name: "da2", Command: "sleep 0.05"}.WithDefaults()
	child, err := l.Launch(spec, 0, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	<-child.Done()
	// Always-alive detector must not override a dead OS-level check.
	if child.DetectAlive([]detector.Detector{alwaysAlive{}}) {
		t.Fatalf("expected DetectAlive false once the process has exited")
	}
}

func TestDetectAlive_DisagreeingDetectorFails(t *testing.T) {
	requireUnix(t)
	l := NewLauncher()
	spec := Spec{Name: "da3", Command: "sleep 1"}.WithDefaults()
	child, err := l.Launch(spec, 0, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer child.Kill()
	if child.DetectAlive([]detector.Detector{alwaysDead{}}) {
		t.Fatalf("expected DetectAlive false when a detector disagrees")
	}
}

type alwaysAlive struct{}

func (alwaysAlive) Alive() (bool, error) { return true, nil }
func (alwaysAlive) Describe() string     { return "always-alive" }

type alwaysDead struct{}

func (alwaysDead) Alive() (bool, error) { return false, nil }
func (alwaysDead) Describe() string     { return "always-dead" }

func TestRecover_NoPIDFileConfigured(t *testing.T) {
	l := NewLauncher()
	spec := Spec{Name: "r1", Command: "sleep 1"}.WithDefaults()
	if _, ok := l.Recover(spec); ok {
		t.Fatalf("expected no recovery without a configured pid_file")
	}
}

func TestRecover_MissingPIDFile(t *testing.T) {
	l := NewLauncher()
	dir := t.TempDir()
	spec := Spec{Name: "r2", Command: "sleep 1", PIDFile: filepath.Join(dir, "missing.pid")}.WithDefaults()
	if _, ok := l.Recover(spec); ok {
		t.Fatalf("expected no recovery when the pid file does not exist")
	}
}

func TestRecover_AdoptsLiveProcessAndPolls(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "web.pid")

	// Launch a real process and let the launcher write its pid file, the
	// same code path Recover expects to read back.
	l := NewLauncher()
	spec := Spec{Name: "r3", Command: "sleep 1", PIDFile: pidFile}.WithDefaults()
	child, err := l.Launch(spec, 0, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer child.Kill()

	recovered, ok := l.Recover(spec)
	if !ok {
		t.Fatalf("expected recovery of a still-live pid file process")
	}
	if recovered.PID() != child.PID() {
		t.Fatalf("expected recovered pid %d, got %d", child.PID(), recovered.PID())
	}

	child.Kill()
	select {
	case <-recovered.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("adopted child did not observe exit via polling")
	}
}

func TestRecover_RejectsReusedPID(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "web.pid")

	l := NewLauncher()
	spec := Spec{Name: "r4", Command: "sleep 1", PIDFile: pidFile}.WithDefaults()
	child, err := l.Launch(spec, 0, nil)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer child.Kill()

	// Corrupt the recorded start time so it no longer matches the real
	// process, simulating a pid recycled by an unrelated process.
	if err := detector.WritePIDFile(pidFile, child.PID(), 1); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}

	if _, ok := l.Recover(spec); ok {
		t.Fatalf("expected recovery to reject a pid whose start time no longer matches")
	}
}
