package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	charmLog "github.com/charmbracelet/log"

	"meshbot/pkg/config"
)

const (
	defaultFormat = "text"
	defaultLevel  = "info"
)

// overrides are read from MESHBOT_LOG_* and win over the config file.
type overrides struct {
	Format    string `env:"MESHBOT_LOG_FORMAT"`
	Level     string `env:"MESHBOT_LOG_LEVEL"`
	AddSource *bool  `env:"MESHBOT_LOG_ADD_SOURCE"`
}

// New builds the process logger writing to stderr.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter builds a logger writing to writer.
func NewWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	var env overrides
	if err := parseEnv(&env); err != nil {
		return nil, err
	}

	format := firstNonEmpty(env.Format, cfg.Format, defaultFormat)
	var formatter charmLog.Formatter
	switch format {
	case "text":
		formatter = charmLog.TextFormatter
	case "json":
		formatter = charmLog.JSONFormatter
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(firstNonEmpty(env.Level, cfg.Level, defaultLevel))
	if err != nil {
		return nil, err
	}

	addSource := cfg.AddSource
	if env.AddSource != nil {
		addSource = *env.AddSource
	}

	handler := charmLog.NewWithOptions(writer, charmLog.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    addSource,
		Formatter:       formatter,
	})

	return slog.New(handler), nil
}

func parseEnv(dst *overrides) error {
	if err := env.Parse(dst); err != nil {
		return fmt.Errorf("parse logging environment: %w", err)
	}

	return nil
}

func parseLevel(input string) (charmLog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return charmLog.DebugLevel, nil
	case "info":
		return charmLog.InfoLevel, nil
	case "warn", "warning":
		return charmLog.WarnLevel, nil
	case "error":
		return charmLog.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", input)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			return trimmed
		}
	}

	return ""
}
