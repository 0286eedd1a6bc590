package proc

import (
	"time"

	"github.com/kael-dev/sentryd/internal/detector"
)

// recoveryPollInterval bounds how often an adopted child (one this
// supervisor did not fork itself) is polled for liveness, since Wait only
// works on processes this process actually started.
const recoveryPollInterval = 2 * time.Second

// DetectAlive combines the cheap OS-level liveness check with any
// configured auxiliary detectors. It trusts a negative OS-level result
// outright; when the OS still considers the pid alive, every configured
// detector must also agree. This catches what Alive alone cannot, most
// notably an OS-recycled pid that raw pid tracking would misreport as
// still belonging to this child.
func (c *Child) DetectAlive(detectors []detector.Detector) bool {
	if !c.Alive() {
		return false
	}
	for _, d := range detectors {
		ok, err := d.Alive()
		if err != nil {
			continue
		}
		if !ok {
			return false
		}
	}
	return true
}

// adopt builds a Child for a pid recovered from an on-disk pid file rather
// than forked by this process. Its liveness is polled instead of observed
// through cmd.Wait, and ExitErr/ExitCode report a clean exit once the poll
// loop notices it gone, since the real exit status is unobservable for a
// process this supervisor never parented.
func adopt(name string, pid int, startedAt time.Time) *Child {
	c := &Child{
		name:      name,
		pid:       pid,
		groupID:   pid,
		startedAt: startedAt,
		waitDone:  make(chan struct{}),
	}
	go c.pollUntilDead(recoveryPollInterval)
	return c
}

func (c *Child) pollUntilDead(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if c.Alive() {
			continue
		}
		c.mu.Lock()
		select {
		case <-c.waitDone:
		default:
			close(c.waitDone)
		}
		c.mu.Unlock()
		return
	}
}

// Recover looks for a still-live process recorded in spec.PIDFile and, if
// found, adopts it as this program's replica 0 instead of launching a
// duplicate across a supervisor restart. ok is false when no pid file is
// configured, none exists yet, or the recorded pid is no longer alive
// (including a pid reused by an unrelated process, rejected via its
// recorded start time).
func (l *Launcher) Recover(spec Spec) (*Child, bool) {
	if spec.PIDFile == "" {
		return nil, false
	}
	pid, startUnix, err := detector.ParsePIDFile(spec.PIDFile)
	if err != nil || pid <= 0 {
		return nil, false
	}
	alive, err := (detector.PIDFileDetector{PIDFile: spec.PIDFile}).Alive()
	if err != nil || !alive {
		return nil, false
	}
	startedAt := time.Now()
	if startUnix > 0 {
		startedAt = time.Unix(startUnix, 0)
	}
	name := instanceName(spec.Name, 0, spec.NumProcs)
	return adopt(name, pid, startedAt), true
}
