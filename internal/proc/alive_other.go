//go:build !linux

package proc

import (
	"syscall"

	gpu "github.com/shirou/gopsutil/v4/process"
)

// Alive on non-Linux Unix platforms falls back to gopsutil, which already
// accounts for zombie/defunct states through the process status field.
func (c *Child) Alive() bool {
	select {
	case <-c.waitDone:
		return false
	default:
	}
	p, err := gpu.NewProcess(int32(c.pid))
	if err != nil {
		return syscall.Kill(-c.pid, 0) == nil
	}
	running, err := p.IsRunning()
	if err != nil {
		return syscall.Kill(-c.pid, 0) == nil
	}
	return running
}
