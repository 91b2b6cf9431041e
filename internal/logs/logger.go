package logs

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"mcphub-go/internal/config"
	"mcphub-go/internal/contracts"
)

// Log level constants
const (
	LogLevelTrace = "trace"
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// ParseLevel maps a configured level name to a zap level, defaulting to info
func ParseLevel(name string) zapcore.Level {
	switch name {
	case LogLevelTrace, LogLevelDebug:
		return zap.DebugLevel
	case LogLevelWarn, "warning":
		return zap.WarnLevel
	case LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger creates a logger with file and console outputs based on configuration.
// All outputs are wrapped in a SecretSanitizer, reachable through Sanitizer.
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = config.DefaultLogConfig()
	}

	level := ParseLevel(cfg.Level)
	var cores []zapcore.Core

	if cfg.EnableConsole {
		var encoder zapcore.Encoder
		if cfg.JSONFormat {
			encoder = getJSONEncoder()
		} else {
			encoder = getConsoleEncoder()
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), level))
	}

	if cfg.EnableFile {
		fileCore, err := createFileCore(cfg, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create file core: %w", err)
		}
		cores = append(cores, fileCore)
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured")
	}

	core := NewSecretSanitizer(zapcore.NewTee(cores...))
	return zap.New(core, zap.AddCaller()), nil
}

// SetupCommandLogger creates a logger for CLI commands. Long-running commands
// (watch) default to info, one-shot commands to warn.
func SetupCommandLogger(longRunning bool, cfg *config.LogConfig) (*zap.Logger, error) {
	c := config.DefaultLogConfig()
	if cfg != nil {
		copied := *cfg
		c = &copied
	}
	if !longRunning && c.Level == LogLevelInfo {
		c.Level = LogLevelWarn
	}
	c.EnableConsole = true
	return SetupLogger(c)
}

// Sanitizer returns the secret sanitizer behind logger, if it has one
func Sanitizer(logger *zap.Logger) (*SecretSanitizer, bool) {
	if logger == nil {
		return nil, false
	}
	s, ok := logger.Core().(*SecretSanitizer)
	return s, ok
}

// RegisterSecrets masks the given values in everything logger writes from now on.
// Loggers without a sanitizer are left alone.
func RegisterSecrets(logger *zap.Logger, values ...string) {
	s, ok := Sanitizer(logger)
	if !ok {
		return
	}
	for _, v := range values {
		s.RegisterResolvedSecret(v)
	}
}

// HubLogger returns the child logger used for records printed by the hub process
func HubLogger(logger *zap.Logger) *zap.Logger {
	return logger.Named("hub").With(zap.String("component", "hub"))
}

// LogHubRecord re-logs one structured hub record at the matching level
func LogHubRecord(logger *zap.Logger, record contracts.LogRecord) {
	fields := []zap.Field{zap.Time("hub_time", record.Timestamp)}
	if record.Code != "" {
		fields = append(fields, zap.String("code", record.Code))
	}
	if len(record.Data) > 0 {
		fields = append(fields, zap.Any("data", record.Data))
	}

	switch record.Type {
	case "debug":
		logger.Debug(record.Message, fields...)
	case "warn", "warning":
		logger.Warn(record.Message, fields...)
	case "error":
		logger.Error(record.Message, fields...)
	default:
		logger.Info(record.Message, fields...)
	}
}

// createFileCore creates a rotating file logging core
func createFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	logFilePath, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to get log file path: %w", err)
	}

	lumberjackLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	var encoder zapcore.Encoder
	if cfg.JSONFormat {
		encoder = getJSONEncoder()
	} else {
		encoder = getFileEncoder()
	}

	return zapcore.NewCore(encoder, zapcore.AddSync(lumberjackLogger), level), nil
}

// getConsoleEncoder returns a console-friendly encoder
func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// getFileEncoder returns a file-friendly encoder (structured but readable)
func getFileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(encoderConfig)
}

// getJSONEncoder returns a JSON encoder for structured logging
func getJSONEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
