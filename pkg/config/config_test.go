package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if cfg.ServerURL != want.ServerURL {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, want.ServerURL)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %s, want 30s", cfg.RequestTimeout)
	}
	if !cfg.ListenForUpdates {
		t.Error("ListenForUpdates = false, want true")
	}
	if cfg.Bus != BusLocal {
		t.Errorf("Bus = %q, want local", cfg.Bus)
	}
	if cfg.ConfigPath != "" {
		t.Errorf("ConfigPath = %q for missing file", cfg.ConfigPath)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server-url: http://neon.example:9090/neon
host: mongo1
database-type: mongo
request-timeout: 5s
listen-for-updates: false
bus: relay
socket-path: /tmp/relay.sock
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://neon.example:9090/neon" || cfg.Host != "mongo1" || cfg.DatabaseType != "mongo" {
		t.Errorf("got %+v", cfg)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.ListenForUpdates {
		t.Errorf("got timeout %s listen %v", cfg.RequestTimeout, cfg.ListenForUpdates)
	}
	if cfg.Bus != BusRelay || cfg.SocketPath != "/tmp/relay.sock" {
		t.Errorf("got bus %q socket %q", cfg.Bus, cfg.SocketPath)
	}
	if cfg.ConfigPath != path {
		t.Errorf("ConfigPath = %q, want %q", cfg.ConfigPath, path)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "host: from-file\n")
	t.Setenv("DASHWIRE_HOST", "from-env")
	t.Setenv("DASHWIRE_REQUEST_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "from-env" {
		t.Errorf("Host = %q, want from-env", cfg.Host)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %s, want 2s", cfg.RequestTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad bus", "bus: carrier-pigeon\n", "invalid bus"},
		{"negative timeout", "request-timeout: -1s\n", "negative request-timeout"},
		{"zero retry", "update-retry: 0s\n", "update-retry"},
		{"malformed yaml", "host: [\n", "config: read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}
