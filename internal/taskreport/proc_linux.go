//go:build linux

package taskreport

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

// enumerateProcesses reads the process table from /proc. Swapped out in
// tests.
var enumerateProcesses = func() ([]procInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	var procs []procInfo
	for _, ent := range entries {
		pid, err := strconv.Atoi(ent.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", ent.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			continue
		}
		cmd := string(bytes.ReplaceAll(bytes.TrimRight(raw, "\x00"), []byte{0}, []byte{' '}))
		info := procInfo{pid: pid, command: cmd}
		// The /proc/<pid> directory mtime approximates process start.
		if st, err := os.Stat(filepath.Join("/proc", ent.Name())); err == nil {
			info.started = st.ModTime()
		}
		procs = append(procs, info)
	}
	return procs, nil
}
