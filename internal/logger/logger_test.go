package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, want := range cases {
		if got := parseLevel(raw); got != want {
			t.Fatalf("parseLevel(%q)=%v, want %v", raw, got, want)
		}
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Config{
		Level: "info",
		File:  FileConfig{Enabled: true, Path: dir, Name: "client.log"},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	log.Info("hello", zap.String("k", "v"))
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "client.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file empty, want an entry")
	}
}

func TestForTerminalDisablesStdout(t *testing.T) {
	cfg := ForTerminal(Config{Stdout: true})
	if cfg.Stdout {
		t.Fatal("Stdout=true, want false")
	}
	if !cfg.File.Enabled {
		t.Fatal("File.Enabled=false, want true")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil)=nil, want logger")
	}
}
