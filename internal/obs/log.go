package obs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects log level, format and outputs.
type LogConfig struct {
	Level  string
	Format string // json | console
	File   LogFileConfig
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger builds the service logger. Output always includes stdout; a
// rotated file is added when configured.
func NewLogger(cfg LogConfig, service, version, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var stdout io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{stdout}
	if cfg.File.Enabled && cfg.File.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("env", env).
		Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
