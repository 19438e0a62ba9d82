package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	log, err := New(Config{FilePath: logFile})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Close()

	log.Info("test message", "key", "value", "count", 3)

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("Log file missing message: %s", content)
	}
	if !strings.Contains(content, `"key":"value"`) {
		t.Errorf("Log file missing string field: %s", content)
	}
	if !strings.Contains(content, `"count":3`) {
		t.Errorf("Log file missing int field: %s", content)
	}
}

func TestNew_DebugSuppressedByDefault(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	log, err := New(Config{FilePath: logFile})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Close()

	log.Debug("hidden message")

	data, _ := os.ReadFile(logFile)
	if strings.Contains(string(data), "hidden message") {
		t.Error("Debug message logged without verbose")
	}
}

func TestNew_VerboseEnablesDebug(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	log, err := New(Config{FilePath: logFile, Verbose: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Close()

	log.Debug("visible message")

	data, _ := os.ReadFile(logFile)
	if !strings.Contains(string(data), "visible message") {
		t.Error("Debug message not logged with verbose")
	}
}

func TestNew_CreatesLogDirectory(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

	log, err := New(Config{FilePath: logFile})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Close()

	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("Log file was not created: %v", err)
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Info("dropped")
	log.Error("dropped", "key", "value")
	if err := log.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
