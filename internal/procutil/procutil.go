// Package procutil provides helpers for finding and signalling Linux
// processes.
package procutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ParsePIDs parses whitespace-separated process ids, as printed by pgrep.
// Empty input yields an empty slice; any non-numeric field is an error.
func ParsePIDs(out []byte) ([]int, error) {
	fields := strings.Fields(string(out))
	pids := make([]int, 0, len(fields))
	for _, f := range fields {
		pid, err := strconv.Atoi(f)
		if err != nil || pid <= 0 {
			return nil, fmt.Errorf("invalid pid %q", f)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// ReadComm reads the process name from /proc/<pid>/comm.
// Returns empty string on error.
func ReadComm(pid int32) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ReadExe resolves /proc/<pid>/exe.
// Returns empty string on error, including for other users' processes.
func ReadExe(pid int) string {
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return ""
	}
	return exe
}

// Terminate sends SIGTERM to pid.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return unix.Kill(pid, unix.SIGTERM)
}

// TerminateGroup sends SIGTERM to the whole process group of pid.
func TerminateGroup(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return fmt.Errorf("getpgid %d: %w", pid, err)
	}
	return unix.Kill(-pgid, unix.SIGTERM)
}

// IsAlive reports whether a process with the given pid exists.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
