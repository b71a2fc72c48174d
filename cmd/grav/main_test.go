package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebas/grav/internal/grav/config"
)

func TestInitLoggingFileClosedByCleanup(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "grav.log")
	closeLog, err := initLogging(&config.Config{LogLevel: "warn", LogFile: path})
	if err != nil {
		t.Fatalf("initLogging: %v", err)
	}

	slog.Debug("[Registry] Session created", "address", "239.1.1.1/5004")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[DEBUG] [Registry] Session created address=239.1.1.1/5004") {
		t.Errorf("log file = %q, want the debug line", data)
	}

	// Writes after cleanup are dropped by the closed file.
	slog.Error("after close")
	data, _ = os.ReadFile(path)
	if strings.Contains(string(data), "after close") {
		t.Error("log file still open after cleanup")
	}
}

func TestInitLoggingBadPath(t *testing.T) {
	cfg := &config.Config{LogFile: filepath.Join(t.TempDir(), "missing", "grav.log")}
	if _, err := initLogging(cfg); err == nil {
		t.Error("expected error for unwritable log file")
	}
}
