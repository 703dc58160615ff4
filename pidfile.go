package udhcp

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// WritePidFile writes the current process id to path. An empty path is a no-op.
func WritePidFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("pidfile %s: %w", path, err)
	}
	return nil
}

// RemovePidFile deletes path if it still holds our pid.
func RemovePidFile(path string) {
	if path == "" {
		return
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(b))); err != nil || pid != os.Getpid() {
		return
	}
	if err := os.Remove(path); err != nil {
		Logger.Msg("failed to remove pidfile").String("file", path).Error("error", err).Write()
	}
}
