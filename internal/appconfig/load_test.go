package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion || cfg.Core.Addr == "" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsValues(t *testing.T) {
	t.Setenv("CORE_SOCK_DIR", "/run/core")
	path := writeConfig(t, `
config_version: 1
core:
  addr: unix://$CORE_SOCK_DIR/core.sock
  call_timeout_seconds: 9
reconnect:
  delay_ms: 500
  multiplier: 2
connect:
  config_file: /etc/corectl/config.json
metrics:
  addr: 127.0.0.1:9464
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Core.Addr != "unix:///run/core/core.sock" {
		t.Fatalf("expected expanded addr, got %q", cfg.Core.Addr)
	}
	if cfg.Core.DialTimeoutSeconds != 5 {
		t.Fatalf("expected default dial timeout, got %d", cfg.Core.DialTimeoutSeconds)
	}
	if cfg.ClientConfig().CallTimeout != 9*time.Second {
		t.Fatalf("unexpected call timeout %s", cfg.ClientConfig().CallTimeout)
	}
	policy := cfg.ReconnectPolicy()
	if policy.Delay != 500*time.Millisecond || policy.Multiplier != 2 || policy.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if cfg.Connect.ConfigFile != "/etc/corectl/config.json" || cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
core:
  addr: 127.0.0.1:1
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 3
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRejectsInvalidReconnect(t *testing.T) {
	cases := map[string]string{
		"multiplier": "reconnect:\n  multiplier: 0.5",
		"jitter":     "reconnect:\n  jitter: 2",
		"delays":     "reconnect:\n  delay_ms: -1",
	}
	for name, body := range cases {
		path := writeConfig(t, "config_version: 1\n"+body)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "reconnect") {
			t.Fatalf("%s: expected reconnect error, got %v", name, err)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") {
		t.Fatalf("expected UID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
