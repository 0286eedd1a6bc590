package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParsePIDFile reads the fixed two-line pidfile format the launcher writes
// after each launch: line 1 is the bare pid, line 2 (optional)
// is a JSON {"start_unix": N} used to reject a reused pid. startUnix is 0
// when the second line is absent or unparsable.
func ParsePIDFile(path string) (pid int, startUnix int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	lines := strings.SplitN(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n", 2)
	pidStr := strings.TrimSpace(lines[0])
	pid, err = strconv.Atoi(pidStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) == 2 {
		var meta pidMeta
		if jerr := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta); jerr == nil {
			startUnix = meta.StartUnix
		}
	}
	return pid, startUnix, nil
}

// WritePIDFile writes the fixed two-line pidfile format: the bare pid, then
// a JSON {"start_unix": N} line used later to reject a reused pid after a
// host reboot or an unrelated process reclaiming the number. startUnix may
// be 0 when the platform-native start-time lookup is unavailable.
func WritePIDFile(path string, pid int, startUnix int64) error {
	body := fmt.Sprintf("%d\n{\"start_unix\":%d}\n", pid, startUnix)
	// #nosec G306
	return os.WriteFile(path, []byte(body), 0o644)
}

// ProcessStartUnix exposes the platform-specific process start-time lookup
// (Unix seconds, 0 if unavailable) to callers outside this package, namely
// internal/proc's launcher when it stamps a pid file for later reuse
// detection.
func ProcessStartUnix(pid int) int64 {
	return getProcStartUnix(pid)
}
