package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConf(t, "server:\n  url: ws://example.test/xiaozhi/v1/\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Server.URL != "ws://example.test/xiaozhi/v1/" {
		t.Fatalf("server.url=%q, want ws://example.test/xiaozhi/v1/", cfg.Server.URL)
	}
	if cfg.Reconnect.Interval != 5*time.Second {
		t.Fatalf("reconnect.interval=%v, want 5s", cfg.Reconnect.Interval)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Fatalf("reconnect.max_attempts=%d, want 10", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Music.MaxBufferSize != 256*1024 || cfg.Music.MinBufferSize != 32*1024 {
		t.Fatalf("music buffer=%d/%d, want %d/%d", cfg.Music.MinBufferSize, cfg.Music.MaxBufferSize, 32*1024, 256*1024)
	}
	if cfg.Server.SessionTimeout != 600*time.Second {
		t.Fatalf("server.session_timeout=%v, want 600s", cfg.Server.SessionTimeout)
	}
	if cfg.Server.DeviceID == "" || cfg.Server.ClientID == "" {
		t.Fatal("device/client id empty, want generated values")
	}
	if cfg.RootDir != filepath.Dir(path) {
		t.Fatalf("root=%q, want %q", cfg.RootDir, filepath.Dir(path))
	}
	if want := filepath.Join(cfg.RootDir, "data", "settings"); cfg.Settings.Dir != want {
		t.Fatalf("settings.dir=%q, want %q", cfg.Settings.Dir, want)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConf(t, "reconnect:\n  max_attempts: 3\n")
	t.Setenv("XZ_RECONNECT_MAX_ATTEMPTS", "0")
	t.Setenv("XZ_MUSIC_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Reconnect.MaxAttempts != 0 {
		t.Fatalf("reconnect.max_attempts=%d, want 0", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Music.APIKey != "secret" {
		t.Fatalf("music.api_key=%q, want secret", cfg.Music.APIKey)
	}
}

func TestLoadConfigRejectsInvertedBufferBounds(t *testing.T) {
	path := writeConf(t, "music:\n  min_buffer_size: 524288\n  max_buffer_size: 262144\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig error=nil, want buffer bound error")
	}
}

func TestResolvePath(t *testing.T) {
	if got := resolvePath("/root", "", "data"); got != filepath.Join("/root", "data") {
		t.Fatalf("resolvePath fallback=%q", got)
	}
	if got := resolvePath("/root", "/abs/dir", "data"); got != "/abs/dir" {
		t.Fatalf("resolvePath abs=%q, want /abs/dir", got)
	}
}
