package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://crm.example.com
  token: tok-123
  user_id: user-42
channel:
  broker: tcp://broker.example.com:1883
  client_id: device-7
  topic_prefix: crm
feed:
  host: 192.168.1.200
  port: 7400
recordings:
  directories:
    - /sdcard/Recordings/Call
  window: 90s
  skew: 2s
  settle_delay: 5s
upload:
  max_attempts: 5
  base_delay: 1s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.BaseURL != "https://crm.example.com" {
		t.Errorf("unexpected base_url %s", cfg.Server.BaseURL)
	}
	if cfg.Feed.Addr() != "192.168.1.200:7400" {
		t.Errorf("expected addr=192.168.1.200:7400, got %s", cfg.Feed.Addr())
	}
	if len(cfg.Recordings.Directories) != 1 || cfg.Recordings.Directories[0] != "/sdcard/Recordings/Call" {
		t.Errorf("expected user directories to replace defaults, got %v", cfg.Recordings.Directories)
	}
	if cfg.Recordings.Window.Std() != 90*time.Second {
		t.Errorf("expected window=90s, got %v", cfg.Recordings.Window.Std())
	}
	if cfg.Recordings.SettleDelay.Std() != 5*time.Second {
		t.Errorf("expected settle_delay=5s, got %v", cfg.Recordings.SettleDelay.Std())
	}
	if cfg.Upload.MaxAttempts != 5 {
		t.Errorf("expected max_attempts=5, got %d", cfg.Upload.MaxAttempts)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  base_url: https://crm.example.com
  user_id: user-42
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Channel.Broker != "tcp://localhost:1883" {
		t.Errorf("expected default broker, got %s", cfg.Channel.Broker)
	}
	if cfg.Feed.Port != 7379 {
		t.Errorf("expected default feed port 7379, got %d", cfg.Feed.Port)
	}
	if len(cfg.Recordings.Directories) == 0 {
		t.Error("expected built-in candidate directories")
	}
	if cfg.Recordings.Window.Std() != 2*time.Minute {
		t.Errorf("expected default window 2m, got %v", cfg.Recordings.Window.Std())
	}
	if cfg.Recordings.Skew.Std() != 5*time.Second {
		t.Errorf("expected default skew 5s, got %v", cfg.Recordings.Skew.Std())
	}
	if cfg.Recordings.SettleDelay.Std() != 3*time.Second {
		t.Errorf("expected default settle delay 3s, got %v", cfg.Recordings.SettleDelay.Std())
	}
	if cfg.Upload.MaxAttempts != 3 {
		t.Errorf("expected default max_attempts 3, got %d", cfg.Upload.MaxAttempts)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing base_url",
			"server:\n  user_id: u1\n",
			"server.base_url",
		},
		{
			"missing user_id",
			"server:\n  base_url: https://crm.example.com\n",
			"server.user_id",
		},
		{
			"bad feed port",
			"server:\n  base_url: https://crm.example.com\n  user_id: u1\nfeed:\n  port: 99999\n",
			"feed.port",
		},
		{
			"empty directories",
			"server:\n  base_url: https://crm.example.com\n  user_id: u1\nrecordings:\n  directories: []\n",
			"recordings.directories",
		},
		{
			"zero max_attempts",
			"server:\n  base_url: https://crm.example.com\n  user_id: u1\nupload:\n  max_attempts: 0\n",
			"upload.max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestBadDurationString(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  base_url: https://crm.example.com
  user_id: u1
recordings:
  window: "two minutes"
`))
	if err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}
