package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultGRPCAddr         = ":9470"
	DefaultHTTPAddr         = ":9471"
	DefaultRoomListRefresh  = 10 * time.Second
	DefaultPostTimeout      = 10 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
	DefaultRoomPreset       = "private_chat"
	DefaultEscalateTimeout  = 30 * time.Second
	DefaultElectionPrefix   = "/oambridge/provisioning-leader"
	DefaultElectionTTL      = 10
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
	DefaultSMTPPort         = 587
	DefaultElectionEndpoint = "localhost:2379"
)

// BridgeConfig holds the listen addresses and forwarding parameters.
type BridgeConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	SenderID        string        `yaml:"sender_id"`
	RoomListRefresh time.Duration `yaml:"room_list_refresh"`
	PostTimeout     time.Duration `yaml:"post_timeout"`
	EnablePprof     bool          `yaml:"enable_pprof"`
}

// ChatConfig holds the chat homeserver connection.
type ChatConfig struct {
	HomeserverURL  string        `yaml:"homeserver_url"`
	ServerName     string        `yaml:"server_name"`
	AccessToken    string        `yaml:"access_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Preset         string        `yaml:"preset"`
}

// LoggingConfig selects the log level and output format (console or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DaemonConfig schedules one forwarder daemon. A zero Timeout means the period.
type DaemonConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Period       time.Duration `yaml:"period"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DaemonsConfig schedules every forwarder daemon.
type DaemonsConfig struct {
	Topology      DaemonConfig `yaml:"topology"`
	Metrics       DaemonConfig `yaml:"metrics"`
	Notifications DaemonConfig `yaml:"notifications"`
	TaskReports   DaemonConfig `yaml:"task_reports"`
	Subscriptions DaemonConfig `yaml:"subscriptions"`
}

// EscalationConfig configures the email/SMS side channel for failures.
type EscalationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SMTPHost        string        `yaml:"smtp_host"`
	SMTPPort        int           `yaml:"smtp_port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	From            string        `yaml:"from"`
	FromName        string        `yaml:"from_name"`
	EmailRecipients []string      `yaml:"email_recipients"`
	SMSRecipients   []string      `yaml:"sms_recipients"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ElectionConfig enables etcd-based election of the single replica allowed
// to create rooms.
type ElectionConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Endpoints  []string `yaml:"endpoints"`
	Prefix     string   `yaml:"prefix"`
	NodeID     string   `yaml:"node_id"`
	SessionTTL int      `yaml:"session_ttl"` // seconds
}

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Chat       ChatConfig       `yaml:"chat"`
	Logging    LoggingConfig    `yaml:"logging"`
	Daemons    DaemonsConfig    `yaml:"daemons"`
	Escalation EscalationConfig `yaml:"escalation"`
	Election   ElectionConfig   `yaml:"election"`
}

// DefaultDaemons returns the standard schedule: staggered startup delays so
// rooms are provisioned before the other daemons start posting.
func DefaultDaemons() DaemonsConfig {
	return DaemonsConfig{
		Topology:      DaemonConfig{InitialDelay: 60 * time.Second, Period: 30 * time.Second},
		Metrics:       DaemonConfig{InitialDelay: 120 * time.Second, Period: 20 * time.Second},
		Notifications: DaemonConfig{InitialDelay: 90 * time.Second, Period: 15 * time.Second},
		TaskReports:   DaemonConfig{InitialDelay: 150 * time.Second, Period: 15 * time.Second},
		Subscriptions: DaemonConfig{InitialDelay: 180 * time.Second, Period: 30 * time.Second},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	if c.Bridge.GRPCAddr == "" {
		c.Bridge.GRPCAddr = DefaultGRPCAddr
	}
	if c.Bridge.HTTPAddr == "" {
		c.Bridge.HTTPAddr = DefaultHTTPAddr
	}
	if c.Bridge.RoomListRefresh <= 0 {
		c.Bridge.RoomListRefresh = DefaultRoomListRefresh
	}
	if c.Bridge.PostTimeout <= 0 {
		c.Bridge.PostTimeout = DefaultPostTimeout
	}
	if c.Chat.RequestTimeout <= 0 {
		c.Chat.RequestTimeout = DefaultRequestTimeout
	}
	if c.Chat.Preset == "" {
		c.Chat.Preset = DefaultRoomPreset
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	defaults := DefaultDaemons()
	fillDaemon(&c.Daemons.Topology, defaults.Topology)
	fillDaemon(&c.Daemons.Metrics, defaults.Metrics)
	fillDaemon(&c.Daemons.Notifications, defaults.Notifications)
	fillDaemon(&c.Daemons.TaskReports, defaults.TaskReports)
	fillDaemon(&c.Daemons.Subscriptions, defaults.Subscriptions)

	if c.Escalation.SMTPPort == 0 {
		c.Escalation.SMTPPort = DefaultSMTPPort
	}
	if c.Escalation.Timeout <= 0 {
		c.Escalation.Timeout = DefaultEscalateTimeout
	}

	if c.Election.Prefix == "" {
		c.Election.Prefix = DefaultElectionPrefix
	}
	if c.Election.SessionTTL <= 0 {
		c.Election.SessionTTL = DefaultElectionTTL
	}
	if c.Election.Enabled && len(c.Election.Endpoints) == 0 {
		c.Election.Endpoints = []string{DefaultElectionEndpoint}
	}
}

func fillDaemon(d *DaemonConfig, def DaemonConfig) {
	if d.InitialDelay == 0 {
		d.InitialDelay = def.InitialDelay
	}
	if d.Period <= 0 {
		d.Period = def.Period
	}
	if d.Timeout <= 0 {
		d.Timeout = d.Period
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	if c.Chat.HomeserverURL == "" {
		return fmt.Errorf("chat homeserver_url is required")
	}
	if u, err := url.Parse(c.Chat.HomeserverURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("chat homeserver_url %q is not an absolute URL", c.Chat.HomeserverURL)
	}
	if c.Chat.ServerName == "" {
		return fmt.Errorf("chat server_name is required")
	}
	if c.Chat.AccessToken == "" {
		return fmt.Errorf("chat access_token is required")
	}

	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported logging format: %s (expected console or json)", c.Logging.Format)
	}

	daemons := map[string]DaemonConfig{
		"topology":      c.Daemons.Topology,
		"metrics":       c.Daemons.Metrics,
		"notifications": c.Daemons.Notifications,
		"task_reports":  c.Daemons.TaskReports,
		"subscriptions": c.Daemons.Subscriptions,
	}
	for name, d := range daemons {
		if d.InitialDelay < 0 {
			return fmt.Errorf("daemon %s: initial_delay must not be negative", name)
		}
		if d.Period < 0 {
			return fmt.Errorf("daemon %s: period must not be negative", name)
		}
	}

	if c.Escalation.Enabled {
		if c.Escalation.SMTPHost == "" {
			return fmt.Errorf("escalation smtp_host is required when escalation is enabled")
		}
		if c.Escalation.From == "" {
			return fmt.Errorf("escalation from is required when escalation is enabled")
		}
		if len(c.Escalation.EmailRecipients) == 0 && len(c.Escalation.SMSRecipients) == 0 {
			return fmt.Errorf("escalation needs at least one email or sms recipient")
		}
	}

	if c.Election.Enabled && c.Election.NodeID == "" {
		return fmt.Errorf("election node_id is required when election is enabled")
	}

	return nil
}
