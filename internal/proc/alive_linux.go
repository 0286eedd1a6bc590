//go:build linux

package proc

import (
	"bytes"
	"os"
	"strconv"
	"syscall"
)

// Alive reports whether the OS still considers the child process live.
// A zombie (exited but not yet reaped) is reported as not alive so callers
// don't mistake it for a healthy process; this matters because cmd.Wait
// runs in a separate goroutine and may not have observed the exit yet.
func (c *Child) Alive() bool {
	select {
	case <-c.waitDone:
		return false
	default:
	}
	if isZombie(c.pid) {
		return false
	}
	return syscall.Kill(c.pid, 0) == nil
}

func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
