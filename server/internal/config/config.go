package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPort           = 3000
	DefaultSendBuffer     = 16
	DefaultWelcomeMessage = "Connected to RUBIS TV Live Viewer Server"
	DefaultAdminHeader    = "x-api-key"
	DefaultLogLevel       = "info"
)

// PortEnv overrides server.port when set, for platforms that assign the
// listening port through the environment.
const PortEnv = "PORT"

// Config holds the viewer tracker configuration parsed from config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds all listener and hub settings.
type ServerConfig struct {
	// Host is the interface the HTTP/WebSocket listener binds to. Empty means
	// all interfaces.
	Host string `yaml:"host"`

	// Port is the HTTP port serving /ws, /api/* and /metrics (default 3000).
	Port int `yaml:"port"`

	// AdminPort is the gRPC admin port exposing grpc.health.v1. 0 disables it.
	AdminPort int `yaml:"admin_port"`

	// WelcomeMessage is sent to every client in its welcome frame.
	WelcomeMessage string `yaml:"welcome_message"`

	// SendBuffer is the per-client outgoing frame queue depth. A client whose
	// queue fills is disconnected.
	SendBuffer int `yaml:"send_buffer"`

	// ChannelIdleTTL is how long a channel with zero viewers stays listed
	// before it is pruned. 0 keeps channels forever.
	ChannelIdleTTL time.Duration `yaml:"channel_idle_ttl"`

	// AdminAuth protects the gRPC admin port.
	AdminAuth AdminAuthConfig `yaml:"admin_auth"`
}

// Addr returns the host:port the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AdminAddr returns the host:port of the gRPC admin listener.
func (s ServerConfig) AdminAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.AdminPort))
}

// AdminAuthConfig controls API key checks on the admin gRPC port.
type AdminAuthConfig struct {
	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Empty leaves the admin port open.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AdminAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, lowercased for gRPC
// metadata, or the default "x-api-key".
func (a AdminAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultAdminHeader
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level. Validation guarantees Level parses.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults and PORT from the environment wins over server.port.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return finish(cfg)
}

// LoadOptional behaves like Load but returns the defaults when path does not
// exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(Defaults())
	}
	return cfg, err
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			WelcomeMessage: DefaultWelcomeMessage,
			SendBuffer:     DefaultSendBuffer,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func finish(cfg *Config) (*Config, error) {
	if v := os.Getenv(PortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: %s=%q is not a port number", PortEnv, v)
		}
		cfg.Server.Port = port
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port)
	}
	if cfg.Server.AdminPort < 0 || cfg.Server.AdminPort > 65535 {
		return fmt.Errorf("server.admin_port %d is out of range [0, 65535]", cfg.Server.AdminPort)
	}
	if cfg.Server.AdminPort != 0 && cfg.Server.AdminPort == cfg.Server.Port {
		return fmt.Errorf("server.admin_port must differ from server.port")
	}
	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive")
	}
	if cfg.Server.ChannelIdleTTL < 0 {
		return fmt.Errorf("server.channel_idle_ttl must not be negative")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	return nil
}
