// Package proc builds and launches individual child processes from a
// declarative Spec, and tracks their liveness once running.
package proc

import (
	"os/exec"
	"strings"
	"time"

	"github.com/kael-dev/sentryd/internal/detector"
	"github.com/kael-dev/sentryd/internal/logger"
)

// RestartPolicy controls whether an exited child is relaunched.
type RestartPolicy string

const (
	RestartAlways           RestartPolicy = "always"
	RestartNever            RestartPolicy = "never"
	RestartOnUnexpectedExit RestartPolicy = "unexpected"
)

// StopSignal names a signal recognized for graceful shutdown.
type StopSignal string

const (
	StopTERM StopSignal = "TERM"
	StopINT  StopSignal = "INT"
	StopQUIT StopSignal = "QUIT"
	StopUSR1 StopSignal = "USR1"
)

// DetectorConfig is the config-file shape of an auxiliary liveness detector.
type DetectorConfig struct {
	Type    string `mapstructure:"type"`
	Path    string `mapstructure:"path"`
	Command string `mapstructure:"command"`
}

// Spec is the immutable declared description of one program. It corresponds
// to one entry under `programs` in the configuration document.
type Spec struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	WorkDir string   `mapstructure:"work_dir"`
	Env     []string `mapstructure:"env"`
	Umask   string   `mapstructure:"umask"`

	StdoutPath string `mapstructure:"stdout_path"`
	StderrPath string `mapstructure:"stderr_path"`
	Log        logger.Config `mapstructure:"log"`

	// NumProcs is the resolved desired replica count (≥0), filled in by
	// WithDefaults. NumProcsConfig carries the raw decoded value so
	// WithDefaults can tell an absent num_procs key (nil, defaults to 1)
	// from an explicit 0 (honored as zero desired replicas).
	NumProcs       int  `mapstructure:"-"`
	NumProcsConfig *int `mapstructure:"num_procs"`
	Autostart      bool `mapstructure:"autostart"`
	Priority       int  `mapstructure:"priority"`

	RestartPolicy     RestartPolicy `mapstructure:"restart_policy"`
	ExpectedExitCodes []int         `mapstructure:"expected_exit_codes"`
	StartRetries      int           `mapstructure:"start_retries"`
	StartTime         time.Duration `mapstructure:"start_time"`
	StopSignal        StopSignal    `mapstructure:"stop_signal"`
	StopTime          time.Duration `mapstructure:"stop_time"`

	PIDFile         string           `mapstructure:"pid_file"`
	DetectorConfigs []DetectorConfig `mapstructure:"detectors"`
	Detectors       []detector.Detector `mapstructure:"-"`
}

// WithDefaults returns a copy of s with zero-value fields filled in per the
// documented defaults (autostart=true, restart_policy=never,
// expected_exit_codes=[0], stop_signal=TERM).
func (s Spec) WithDefaults() Spec {
	switch {
	case s.NumProcsConfig != nil:
		s.NumProcs = *s.NumProcsConfig
		if s.NumProcs < 0 {
			s.NumProcs = 0
		}
	case s.NumProcs == 0:
		s.NumProcs = 1
	}
	if s.RestartPolicy == "" {
		s.RestartPolicy = RestartNever
	}
	if len(s.ExpectedExitCodes) == 0 {
		s.ExpectedExitCodes = []int{0}
	}
	if s.StopSignal == "" {
		s.StopSignal = StopTERM
	}
	return s
}

// Equivalent reports whether s and other would require no restart of
// existing replicas on reconciliation, i.e. they differ in num_procs or
// priority only (priority orders additions and never restarts anything).
func (s Spec) Equivalent(other Spec) bool {
	a, b := s, other
	a.NumProcs, b.NumProcs = 0, 0
	a.Priority, b.Priority = 0, 0
	if a.Command != b.Command || a.WorkDir != b.WorkDir || a.Umask != b.Umask {
		return false
	}
	if !strSliceEqual(a.Args, b.Args) || !strSliceEqual(a.Env, b.Env) {
		return false
	}
	if a.StdoutPath != b.StdoutPath || a.StderrPath != b.StderrPath {
		return false
	}
	if a.RestartPolicy != b.RestartPolicy || a.StartRetries != b.StartRetries {
		return false
	}
	if a.StartTime != b.StartTime || a.StopSignal != b.StopSignal || a.StopTime != b.StopTime {
		return false
	}
	if !intSliceEqual(a.ExpectedExitCodes, b.ExpectedExitCodes) {
		return false
	}
	if a.Autostart != b.Autostart || a.PIDFile != b.PIDFile || a.Log != b.Log {
		return false
	}
	if len(a.DetectorConfigs) != len(b.DetectorConfigs) {
		return false
	}
	for i := range a.DetectorConfigs {
		if a.DetectorConfigs[i] != b.DetectorConfigs[i] {
			return false
		}
	}
	return true
}

func strSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BuildCommand constructs an *exec.Cmd for the spec's Command/Args.
// When Args is empty and Command contains shell metacharacters or an
// explicit "sh -c" prefix, it is handed to /bin/sh -c verbatim rather than
// wrapped a second time.
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes so BuildCommand
// does not wrap an already-explicit shell invocation a second time.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

