package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
version: 1
chat:
  homeserver_url: "https://matrix.example.org"
  server_name: "example.org"
  access_token: "secret"
`

func TestLoadConfig(t *testing.T) {
	configContent := `
version: 1

bridge:
  grpc_addr: "0.0.0.0:9500"
  http_addr: "0.0.0.0:9501"
  sender_id: "@oam:example.org"
  room_list_refresh: 30s

chat:
  homeserver_url: "https://matrix.example.org"
  server_name: "example.org"
  access_token: "secret"
  request_timeout: 5s

logging:
  level: debug
  format: json

daemons:
  metrics:
    initial_delay: 1m
    period: 45s
    timeout: 40s
  notifications:
    period: 5s

escalation:
  enabled: true
  smtp_host: "smtp.example.org"
  from: "oam@example.org"
  email_recipients:
    - "ops@example.org"
  sms_recipients:
    - "5551234@sms.example.org"

election:
  enabled: true
  node_id: "bridge-1"
  endpoints:
    - "10.0.0.1:2379"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Bridge.GRPCAddr != "0.0.0.0:9500" || cfg.Bridge.HTTPAddr != "0.0.0.0:9501" {
		t.Errorf("unexpected bridge addresses: %+v", cfg.Bridge)
	}
	if cfg.Bridge.RoomListRefresh != 30*time.Second {
		t.Errorf("expected room_list_refresh 30s, got %v", cfg.Bridge.RoomListRefresh)
	}
	if cfg.Bridge.PostTimeout != DefaultPostTimeout {
		t.Errorf("expected default post timeout, got %v", cfg.Bridge.PostTimeout)
	}
	if cfg.Chat.RequestTimeout != 5*time.Second {
		t.Errorf("expected request_timeout 5s, got %v", cfg.Chat.RequestTimeout)
	}
	if cfg.Chat.Preset != DefaultRoomPreset {
		t.Errorf("expected default preset, got %q", cfg.Chat.Preset)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}

	m := cfg.Daemons.Metrics
	if m.InitialDelay != time.Minute || m.Period != 45*time.Second || m.Timeout != 40*time.Second {
		t.Errorf("unexpected metrics daemon config: %+v", m)
	}
	n := cfg.Daemons.Notifications
	if n.InitialDelay != 90*time.Second || n.Period != 5*time.Second || n.Timeout != 5*time.Second {
		t.Errorf("notifications daemon should keep default delay and use period as timeout: %+v", n)
	}
	if cfg.Daemons.Topology != (DaemonConfig{InitialDelay: 60 * time.Second, Period: 30 * time.Second, Timeout: 30 * time.Second}) {
		t.Errorf("unexpected topology daemon defaults: %+v", cfg.Daemons.Topology)
	}

	if cfg.Escalation.SMTPPort != DefaultSMTPPort {
		t.Errorf("expected default smtp port, got %d", cfg.Escalation.SMTPPort)
	}
	if len(cfg.Escalation.SMSRecipients) != 1 {
		t.Errorf("expected one sms recipient, got %v", cfg.Escalation.SMSRecipients)
	}
	if cfg.Election.Prefix != DefaultElectionPrefix || cfg.Election.SessionTTL != DefaultElectionTTL {
		t.Errorf("unexpected election defaults: %+v", cfg.Election)
	}
	if len(cfg.Election.Endpoints) != 1 || cfg.Election.Endpoints[0] != "10.0.0.1:2379" {
		t.Errorf("unexpected election endpoints: %v", cfg.Election.Endpoints)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Bridge.GRPCAddr != DefaultGRPCAddr || cfg.Bridge.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("expected default addresses, got %+v", cfg.Bridge)
	}
	if cfg.Bridge.RoomListRefresh != DefaultRoomListRefresh {
		t.Errorf("expected default room list refresh, got %v", cfg.Bridge.RoomListRefresh)
	}
	if cfg.Daemons.Subscriptions.InitialDelay != 180*time.Second {
		t.Errorf("expected default subscriptions delay, got %v", cfg.Daemons.Subscriptions.InitialDelay)
	}
	if cfg.Escalation.Enabled || cfg.Election.Enabled {
		t.Error("escalation and election should be disabled by default")
	}
	if len(cfg.Election.Endpoints) != 0 {
		t.Errorf("disabled election should not get endpoints, got %v", cfg.Election.Endpoints)
	}
}

func TestLoadConfig_FileErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(path, []byte("version: [1"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid minimal",
			mutate: func(*Config) {},
		},
		{
			name:    "wrong version",
			mutate:  func(c *Config) { c.Version = 2 },
			wantErr: "unsupported config version",
		},
		{
			name:    "missing homeserver",
			mutate:  func(c *Config) { c.Chat.HomeserverURL = "" },
			wantErr: "homeserver_url is required",
		},
		{
			name:    "relative homeserver",
			mutate:  func(c *Config) { c.Chat.HomeserverURL = "matrix.example.org" },
			wantErr: "not an absolute URL",
		},
		{
			name:    "missing server name",
			mutate:  func(c *Config) { c.Chat.ServerName = "" },
			wantErr: "server_name is required",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Chat.AccessToken = "" },
			wantErr: "access_token is required",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "unsupported logging format",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Daemons.Metrics.InitialDelay = -time.Second },
			wantErr: "daemon metrics",
		},
		{
			name:    "escalation without host",
			mutate:  func(c *Config) { c.Escalation = EscalationConfig{Enabled: true, From: "a@b", EmailRecipients: []string{"c@d"}} },
			wantErr: "smtp_host",
		},
		{
			name:    "escalation without recipients",
			mutate:  func(c *Config) { c.Escalation = EscalationConfig{Enabled: true, SMTPHost: "h", From: "a@b"} },
			wantErr: "recipient",
		},
		{
			name:    "election without node id",
			mutate:  func(c *Config) { c.Election.Enabled = true },
			wantErr: "node_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimalConfig))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
