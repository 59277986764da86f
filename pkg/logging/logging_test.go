package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestFileLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	f, logger, err := FileLogger(logrus.InfoLevel, path)
	if err != nil {
		t.Fatalf("FileLogger: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })

	logger.Info("hello from the test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello from the test") {
		t.Fatalf("log file missing entry: %q", data)
	}
}

func TestConsoleLogger_LevelAndFormat(t *testing.T) {
	logger := ConsoleLogger(logrus.DebugLevel)
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("formatter = %T, want text", logger.Formatter)
	}
}
