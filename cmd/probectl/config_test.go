package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/probectl/internal/session"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "probectl.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSessionConfigPartialOverride(t *testing.T) {
	path := writeConfig(t, `
addr = "10.0.0.5:2345"
connect_timeout = "2s"
request_timeout = "750ms"

[tls]
enabled = true
ca_file = "/etc/probectl/ca.crt"
server_name = "agent.internal"
`)
	cfg, addr, err := loadSessionConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if addr != "10.0.0.5:2345" {
		t.Fatalf("profile addr not returned: %q", addr)
	}
	if cfg.ConnectTimeout != 2*time.Second {
		t.Fatalf("connect_timeout not applied: %v", cfg.ConnectTimeout)
	}
	if cfg.RequestTimeout != 750*time.Millisecond {
		t.Fatalf("request_timeout not applied: %v", cfg.RequestTimeout)
	}
	if !cfg.TLS.Enabled || cfg.TLS.CAFile != "/etc/probectl/ca.crt" || cfg.TLS.ServerName != "agent.internal" {
		t.Fatalf("tls section not applied: %+v", cfg.TLS)
	}

	def := session.DefaultConfig()
	if cfg.HandshakeTimeout != def.HandshakeTimeout {
		t.Fatalf("absent key should keep default, got %v", cfg.HandshakeTimeout)
	}
	if cfg.Backoff != def.Backoff {
		t.Fatalf("absent backoff section should keep defaults: %+v", cfg.Backoff)
	}
}

func TestLoadSessionConfigBackoffSection(t *testing.T) {
	path := writeConfig(t, `
[backoff]
initial_delay = "100ms"
multiplier = 3.0
jitter = false
`)
	cfg, addr, err := loadSessionConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if addr != "" {
		t.Fatalf("profile without addr should return empty, got %q", addr)
	}
	if cfg.Backoff.InitialDelay != 100*time.Millisecond || cfg.Backoff.Multiplier != 3.0 || cfg.Backoff.Jitter {
		t.Fatalf("backoff overrides not applied: %+v", cfg.Backoff)
	}
	if cfg.Backoff.MaxDelay != session.DefaultConfig().Backoff.MaxDelay {
		t.Fatalf("absent max_delay should keep default: %v", cfg.Backoff.MaxDelay)
	}
}

func TestLoadSessionConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `connect_timeout = "soon"`)
	if _, _, err := loadSessionConfig(path); err == nil {
		t.Fatalf("expected parse error for bad duration")
	}
}

func TestLoadSessionConfigRejectsPlaintextProduction(t *testing.T) {
	path := writeConfig(t, `security_mode = "production"`)
	if _, _, err := loadSessionConfig(path); !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
}

func TestLoadSessionConfigMissingFile(t *testing.T) {
	if _, _, err := loadSessionConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
