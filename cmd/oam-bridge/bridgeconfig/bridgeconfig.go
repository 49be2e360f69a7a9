// Package bridgeconfig handles command-line flags and config file loading
// for the oam-bridge process, returning a config.Config.
package bridgeconfig

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xiaonanln/oambridge/config"
)

// AccessTokenEnv is read when --access-token is not given in CLI mode.
const AccessTokenEnv = "OAMBRIDGE_ACCESS_TOKEN"

// Loader handles parsing of command-line flags and config file loading.
// It can be instantiated with a custom FlagSet for testing.
type Loader struct {
	fs            *flag.FlagSet
	getenv        func(string) string
	configPath    *string
	grpcAddr      *string
	httpAddr      *string
	homeserverURL *string
	serverName    *string
	accessToken   *string
	senderID      *string
	logLevel      *string
	logFormat     *string
	etcdAddr      *string
	nodeID        *string
}

// NewLoader creates a new Loader with flags registered on the provided FlagSet.
// If fs is nil, the default flag.CommandLine is used.
func NewLoader(fs *flag.FlagSet) *Loader {
	if fs == nil {
		fs = flag.CommandLine
	}
	l := &Loader{fs: fs, getenv: os.Getenv}
	l.configPath = fs.String("config", "", "Path to YAML config file")
	l.grpcAddr = fs.String("grpc-addr", config.DefaultGRPCAddr, "gRPC listen address for component reports")
	l.httpAddr = fs.String("http-addr", config.DefaultHTTPAddr, "HTTP listen address for status and metrics")
	l.homeserverURL = fs.String("homeserver", "", "Chat homeserver base URL")
	l.serverName = fs.String("server-name", "", "Chat server name used in room aliases")
	l.accessToken = fs.String("access-token", "", "Chat access token (default $"+AccessTokenEnv+")")
	l.senderID = fs.String("sender-id", "", "User ID messages are posted as (optional)")
	l.logLevel = fs.String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	l.logFormat = fs.String("log-format", config.DefaultLogFormat, "Log format: console or json")
	l.etcdAddr = fs.String("etcd-addr", "", "etcd address; enables provisioning leader election")
	l.nodeID = fs.String("node-id", "", "Replica ID for leader election (default hostname)")
	return l
}

// Load parses the flags (if not already parsed) and returns a Config.
// When --config is provided, other flags are forbidden.
// When --config is not provided, CLI flags are used.
// Returns an error if configuration is invalid.
func (l *Loader) Load(args []string) (*config.Config, error) {
	if !l.fs.Parsed() {
		if err := l.fs.Parse(args); err != nil {
			return nil, fmt.Errorf("failed to parse flags: %w", err)
		}
	}

	if *l.configPath != "" {
		var extra []string
		l.fs.Visit(func(f *flag.Flag) {
			if f.Name != "config" {
				extra = append(extra, "--"+f.Name)
			}
		})
		if len(extra) > 0 {
			sort.Strings(extra)
			return nil, fmt.Errorf("%s cannot be used with --config; configure in config file instead", strings.Join(extra, ", "))
		}
		cfg, err := config.LoadConfig(*l.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	token := *l.accessToken
	if token == "" {
		token = l.getenv(AccessTokenEnv)
	}
	cfg := &config.Config{
		Version: 1,
		Bridge: config.BridgeConfig{
			GRPCAddr: *l.grpcAddr,
			HTTPAddr: *l.httpAddr,
			SenderID: *l.senderID,
		},
		Chat: config.ChatConfig{
			HomeserverURL: *l.homeserverURL,
			ServerName:    *l.serverName,
			AccessToken:   token,
		},
		Logging: config.LoggingConfig{Level: *l.logLevel, Format: *l.logFormat},
	}
	if *l.etcdAddr != "" {
		nodeID := *l.nodeID
		if nodeID == "" {
			nodeID, _ = os.Hostname()
		}
		cfg.Election = config.ElectionConfig{
			Enabled:   true,
			Endpoints: []string{*l.etcdAddr},
			NodeID:    nodeID,
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Get is a convenience function that creates a Loader with default flags,
// parses os.Args[1:], and returns the Config.
// It panics on error.
func Get() *config.Config {
	loader := NewLoader(nil)
	cfg, err := loader.Load(os.Args[1:])
	if err != nil {
		panic(fmt.Sprintf("Failed to load oam-bridge config: %v", err))
	}
	return cfg
}
