package bridgeconfig

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xiaonanln/oambridge/config"
)

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader(flag.NewFlagSet("test", flag.ContinueOnError))
	l.getenv = func(k string) string { return env[k] }
	return l
}

func TestLoaderWithCLIFlags(t *testing.T) {
	loader := newTestLoader(nil)
	args := []string{
		"-grpc-addr", ":9081",
		"-http-addr", ":9080",
		"-homeserver", "https://matrix.example.org",
		"-server-name", "example.org",
		"-access-token", "tok",
		"-sender-id", "@oam:example.org",
		"-log-format", "json",
		"-etcd-addr", "etcd.local:2379",
		"-node-id", "bridge-1",
	}

	cfg, err := loader.Load(args)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.GRPCAddr != ":9081" || cfg.Bridge.HTTPAddr != ":9080" {
		t.Errorf("unexpected addresses: %+v", cfg.Bridge)
	}
	if cfg.Chat.AccessToken != "tok" || cfg.Chat.ServerName != "example.org" {
		t.Errorf("unexpected chat config: %+v", cfg.Chat)
	}
	if cfg.Bridge.SenderID != "@oam:example.org" {
		t.Errorf("expected sender id, got %q", cfg.Bridge.SenderID)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json log format, got %s", cfg.Logging.Format)
	}
	if !cfg.Election.Enabled || cfg.Election.NodeID != "bridge-1" || cfg.Election.Endpoints[0] != "etcd.local:2379" {
		t.Errorf("unexpected election config: %+v", cfg.Election)
	}
	if cfg.Daemons.Metrics.Period != config.DefaultDaemons().Metrics.Period {
		t.Errorf("expected default daemon schedule, got %+v", cfg.Daemons.Metrics)
	}
}

func TestLoaderTokenFromEnvironment(t *testing.T) {
	loader := newTestLoader(map[string]string{AccessTokenEnv: "from-env"})
	cfg, err := loader.Load([]string{"-homeserver", "https://m.example.org", "-server-name", "example.org"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.AccessToken != "from-env" {
		t.Errorf("expected token from environment, got %q", cfg.Chat.AccessToken)
	}
	if cfg.Election.Enabled {
		t.Error("election should be disabled without --etcd-addr")
	}
}

func TestLoaderMissingRequired(t *testing.T) {
	loader := newTestLoader(nil)
	_, err := loader.Load([]string{})
	if err == nil || !strings.Contains(err.Error(), "homeserver_url") {
		t.Fatalf("expected missing homeserver error, got %v", err)
	}
}

func TestLoaderWithConfigFile(t *testing.T) {
	configContent := `
version: 1
bridge:
  grpc_addr: ":7000"
chat:
  homeserver_url: "https://matrix.example.org"
  server_name: "example.org"
  access_token: "secret"
`
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := newTestLoader(nil).Load([]string{"-config", configPath})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bridge.GRPCAddr != ":7000" {
		t.Errorf("expected grpc addr from file, got %s", cfg.Bridge.GRPCAddr)
	}
	if cfg.Bridge.HTTPAddr != config.DefaultHTTPAddr {
		t.Errorf("expected default http addr, got %s", cfg.Bridge.HTTPAddr)
	}
}

func TestLoaderConfigFileForbidsOtherFlags(t *testing.T) {
	tests := [][]string{
		{"-config", "x.yml", "-grpc-addr", ":1"},
		{"-config", "x.yml", "-access-token", "t"},
		{"-config", "x.yml", "-log-level", "info"},
	}
	for _, args := range tests {
		_, err := newTestLoader(nil).Load(args)
		if err == nil || !strings.Contains(err.Error(), "cannot be used with --config") {
			t.Errorf("args %v: expected conflict error, got %v", args, err)
		}
	}
}

func TestLoaderConfigFileMissing(t *testing.T) {
	_, err := newTestLoader(nil).Load([]string{"-config", filepath.Join(t.TempDir(), "nope.yml")})
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Fatalf("expected load error, got %v", err)
	}
}
