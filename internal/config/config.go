// Package config provides the client settings and the servers file store.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mcphub-go/internal/mcperr"
)

const (
	DefaultPort            = 37373
	DefaultHubCommand      = "mcp-hub"
	DefaultRequiredVersion = "4.1"
	DefaultDataDir         = ".mcphub"
	ServersFileName        = "servers.json"
	SettingsFileName       = "settings.json"
)

// ClientConfig holds the settings of one hub client
type ClientConfig struct {
	Port       int    `json:"port" mapstructure:"port"`
	ConfigPath string `json:"config" mapstructure:"config"`

	// Hub process
	HubCommand       string        `json:"hub_command" mapstructure:"hub-command"`
	HubArgs          []string      `json:"hub_args,omitempty" mapstructure:"hub-args"`
	RequiredVersion  string        `json:"required_version" mapstructure:"required-version"`
	SkipVersionCheck bool          `json:"skip_version_check" mapstructure:"skip-version-check"`
	AutoShutdown     bool          `json:"auto_shutdown" mapstructure:"auto-shutdown"`
	ShutdownDelay    time.Duration `json:"shutdown_delay" mapstructure:"shutdown-delay"`

	// Timeouts
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request-timeout"` // control-plane calls
	CallTimeout    time.Duration `json:"call_timeout" mapstructure:"call-timeout"`       // tool/resource calls
	StartupTimeout time.Duration `json:"startup_timeout" mapstructure:"startup-timeout"` // spawn until ready

	// State
	DataDir        string        `json:"data_dir" mapstructure:"data-dir"`
	MarketplaceTTL time.Duration `json:"marketplace_ttl" mapstructure:"marketplace-ttl"`
	MaxErrors      int           `json:"max_errors" mapstructure:"max-errors"`
	MaxLogs        int           `json:"max_logs" mapstructure:"max-logs"`

	// Observability
	MetricsListen string         `json:"metrics_listen,omitempty" mapstructure:"metrics-listen"`
	Logging       *LogConfig     `json:"logging,omitempty" mapstructure:"logging"`
	Tracing       *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// TracingConfig configures OpenTelemetry export. Disabled by default.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp-endpoint"`
	ServiceName  string  `json:"service_name" mapstructure:"service-name"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// DefaultLogConfig returns the default logging settings
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:         "info",
		EnableFile:    false,
		EnableConsole: true,
		Filename:      "mcphub.log",
		MaxSize:       10, // 10MB
		MaxBackups:    5,
		MaxAge:        30, // 30 days
		Compress:      true,
		JSONFormat:    false,
	}
}

// DefaultClientConfig returns a config with every default filled in
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Port:            DefaultPort,
		HubCommand:      DefaultHubCommand,
		RequiredVersion: DefaultRequiredVersion,
		AutoShutdown:    true,
		ShutdownDelay:   10 * time.Minute,
		RequestTimeout:  time.Second,
		CallTimeout:     30 * time.Second,
		StartupTimeout:  30 * time.Second,
		MarketplaceTTL:  time.Hour,
		MaxErrors:       100,
		MaxLogs:         500,
		Logging:         DefaultLogConfig(),
		Tracing: &TracingConfig{
			ServiceName: "mcphub",
			SampleRate:  1.0,
		},
	}
}

// Validate checks settings that would make setup impossible
func (c *ClientConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return mcperr.Setup(mcperr.CodeInvalidPort, fmt.Sprintf("invalid port %d", c.Port),
			map[string]any{"port": c.Port})
	}
	if c.ConfigPath == "" {
		return mcperr.Setup(mcperr.CodeInvalidConfig, "config path is required", nil)
	}
	if c.HubCommand == "" {
		return mcperr.Setup(mcperr.CodeInvalidConfig, "hub command is required", nil)
	}
	if c.RequestTimeout <= 0 || c.CallTimeout <= 0 || c.StartupTimeout <= 0 {
		return mcperr.Setup(mcperr.CodeInvalidConfig, "timeouts must be positive", map[string]any{
			"request_timeout": c.RequestTimeout.String(),
			"call_timeout":    c.CallTimeout.String(),
			"startup_timeout": c.StartupTimeout.String(),
		})
	}
	return nil
}

// BaseURL returns the hub API root for the configured port
func (c *ClientConfig) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/api", c.Port)
}

// CachePath returns the marketplace cache database location
func (c *ClientConfig) CachePath() string {
	return filepath.Join(c.DataDir, "cache.db")
}

// ResolveDataDir returns the data dir, defaulting to ~/.mcphub
func ResolveDataDir(dataDir string) (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DefaultDataDir), nil
}
