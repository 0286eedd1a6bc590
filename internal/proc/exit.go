package proc

import (
	"os"
	"os/exec"
	"syscall"
)

// ExitCode encodes a terminated process's exit status in shell convention:
// a normal exit keeps its code, a signal-induced exit is encoded as
// 128+signal so OnUnexpectedExit policies compare uniformly against
// ExpectedExitCodes regardless of how the child went down.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if !asExitError(err, &ee) {
		return -1
	}
	return exitCodeFromState(ee.ProcessState)
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

func exitCodeFromState(st *os.ProcessState) int {
	if st == nil {
		return -1
	}
	ws, ok := st.Sys().(syscall.WaitStatus)
	if !ok {
		return st.ExitCode()
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

// ShouldRestart applies a RestartPolicy to an exit code, using the
// shell-convention signal encoding from ExitCode/exitCodeFromState.
func ShouldRestart(policy RestartPolicy, code int, expected []int) bool {
	switch policy {
	case RestartAlways:
		return true
	case RestartNever:
		return false
	case RestartOnUnexpectedExit:
		for _, e := range expected {
			if e == code {
				return false
			}
		}
		return true
	default:
		return false
	}
}
