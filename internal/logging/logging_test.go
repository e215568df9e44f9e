package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PipeOpsHQ/vnc-use-go/internal/config"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "vnc-use.log")
	logger := New(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "vnc-use",
		LogFile:     logFile,
		MaxSize:     1,
	}, zapcore.AddSync(&console))

	logger.Named("agent").Debug("round started", zap.Int("step", 3))
	_ = logger.Sync()

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(console.Bytes()), &line); err != nil {
		t.Fatalf("console output is not json: %v: %q", err, console.String())
	}
	if line["logger"] != "vnc-use.agent" || line["msg"] != "round started" || line["level"] != "DEBUG" {
		t.Fatalf("unexpected entry %v", line)
	}

	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"step":3`) {
		t.Fatalf("file sink missing entry: %s", raw)
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var console bytes.Buffer
	logger := New(config.LoggerConfig{Level: "not-a-level", Format: "console"}, zapcore.AddSync(&console))
	logger.Debug("hidden")
	logger.Info("shown")
	_ = logger.Sync()
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Fatalf("expected info level fallback, got %q", console.String())
	}
}
