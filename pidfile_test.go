package udhcp

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestPidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.pid")
	if err := WritePidFile(file); err != nil {
		t.Fatal("WritePidFile() failed", err)
	}
	b, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(b)); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("WritePidFile() invalid content got=%s want=%d", got, os.Getpid())
	}
	RemovePidFile(file)
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Errorf("RemovePidFile() file still present err=%v", err)
	}

	// another process owns the file
	if err := os.WriteFile(file, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	RemovePidFile(file)
	if _, err := os.Stat(file); err != nil {
		t.Errorf("RemovePidFile() removed foreign pidfile err=%v", err)
	}

	if err := WritePidFile(""); err != nil {
		t.Errorf("WritePidFile() empty path got=%v", err)
	}
}
