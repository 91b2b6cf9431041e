package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mcphub-go/internal/mcperr"
)

// EnvPrefix prefixes every environment override, e.g. MCPHUB_PORT
const EnvPrefix = "MCPHUB"

// flagKeys maps flag names to nested viper keys where they differ
var flagKeys = map[string]string{
	"log-level":     "logging.level",
	"log-to-file":   "logging.enable-file",
	"log-dir":       "logging.log-dir",
	"log-json":      "logging.json-format",
	"tracing":       "tracing.enabled",
	"otlp-endpoint": "tracing.otlp-endpoint",
}

// RegisterFlags adds the client settings flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	defaults := DefaultClientConfig()

	fs.Int("port", defaults.Port, "Hub port")
	fs.String("config", "", "Path to the servers config file")
	fs.String("settings", "", "Path to the client settings file")
	fs.String("hub-command", defaults.HubCommand, "Hub executable")
	fs.StringSlice("hub-args", nil, "Extra arguments passed to the hub process")
	fs.String("required-version", defaults.RequiredVersion, "Required hub version: same major, at least this minor (major.minor)")
	fs.Bool("skip-version-check", false, "Do not check the hub version before spawning it")
	fs.Bool("auto-shutdown", defaults.AutoShutdown, "Let the hub stop itself once no clients remain")
	fs.Duration("shutdown-delay", defaults.ShutdownDelay, "Grace period before the hub auto-shutdown")
	fs.Duration("request-timeout", defaults.RequestTimeout, "Timeout for control-plane requests")
	fs.Duration("call-timeout", defaults.CallTimeout, "Timeout for tool and resource calls")
	fs.Duration("startup-timeout", defaults.StartupTimeout, "Time to wait for a spawned hub to become ready")
	fs.String("data-dir", "", "Data directory (default ~/.mcphub)")
	fs.String("metrics-listen", "", "Address for the Prometheus /metrics listener (disabled when empty)")

	fs.String("log-level", defaults.Logging.Level, "Log level (debug, info, warn, error)")
	fs.Bool("log-to-file", defaults.Logging.EnableFile, "Also write logs to a rotating file")
	fs.String("log-dir", "", "Custom log directory")
	fs.Bool("log-json", defaults.Logging.JSONFormat, "Use JSON log encoding")
	fs.Bool("tracing", false, "Enable OpenTelemetry tracing")
	fs.String("otlp-endpoint", "", "OTLP/HTTP endpoint for traces")
}

// Load builds the client config from defaults, an optional settings file,
// MCPHUB_* environment variables and the flags in fs (which may be nil).
func Load(fs *pflag.FlagSet) (*ClientConfig, error) {
	v := viper.New()
	setupViper(v)

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeInvalidConfig, "failed to bind flags", err, nil)
		}
	}

	if settings := v.GetString("settings"); settings != "" {
		v.SetConfigFile(settings)
		if err := v.ReadInConfig(); err != nil {
			return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeInvalidConfig, "failed to read settings file", err,
				map[string]any{"path": settings})
		}
	}

	cfg := DefaultClientConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeInvalidConfig, "failed to decode settings", err, nil)
	}

	dataDir, err := ResolveDataDir(cfg.DataDir)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeSetupFailed, "failed to resolve data directory", err, nil)
	}
	cfg.DataDir = dataDir
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeSetupFailed,
			fmt.Sprintf("failed to create data directory %s", cfg.DataDir), err, nil)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(cfg.DataDir, ServersFileName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := DefaultClientConfig()
	v.SetDefault("port", d.Port)
	v.SetDefault("config", "")
	v.SetDefault("settings", "")
	v.SetDefault("hub-command", d.HubCommand)
	v.SetDefault("hub-args", []string{})
	v.SetDefault("required-version", d.RequiredVersion)
	v.SetDefault("skip-version-check", false)
	v.SetDefault("auto-shutdown", d.AutoShutdown)
	v.SetDefault("shutdown-delay", d.ShutdownDelay)
	v.SetDefault("request-timeout", d.RequestTimeout)
	v.SetDefault("call-timeout", d.CallTimeout)
	v.SetDefault("startup-timeout", d.StartupTimeout)
	v.SetDefault("data-dir", "")
	v.SetDefault("marketplace-ttl", d.MarketplaceTTL)
	v.SetDefault("max-errors", d.MaxErrors)
	v.SetDefault("max-logs", d.MaxLogs)
	v.SetDefault("metrics-listen", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.enable-file", d.Logging.EnableFile)
	v.SetDefault("logging.enable-console", d.Logging.EnableConsole)
	v.SetDefault("logging.filename", d.Logging.Filename)
	v.SetDefault("logging.log-dir", "")
	v.SetDefault("logging.max-size", d.Logging.MaxSize)
	v.SetDefault("logging.max-backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max-age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.json-format", d.Logging.JSONFormat)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp-endpoint", "")
	v.SetDefault("tracing.service-name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample-rate", d.Tracing.SampleRate)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key := f.Name
		if nested, ok := flagKeys[f.Name]; ok {
			key = nested
		}
		bindErr = v.BindPFlag(key, f)
	})
	return bindErr
}
