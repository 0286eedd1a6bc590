package logger

import (
	"io"
	"log/slog"
	"os"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// DaemonConfig configures the supervisor's own structured log stream, as
// opposed to FileConfig which configures a supervised child's stdout/stderr.
type DaemonConfig struct {
	Level      string `mapstructure:"level"`
	Dir        string `mapstructure:"dir"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewDaemonLogger builds the slog.Logger used for every supervisor-level
// event (state transitions, reconcile cycles, command handling). Output goes
// to a ColorTextHandler over stdout when no rotation target is configured
// (interactive shell use), or to a lumberjack-backed plain text handler when
// a file is configured (long-running daemon use).
func NewDaemonLogger(cfg DaemonConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer = os.Stdout
	colorize := true
	if cfg.File != "" || cfg.Dir != "" {
		path := cfg.File
		if path == "" {
			path = cfg.Dir + "/sentryd.log"
		}
		w = &lj.Logger{
			Filename:   path,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		colorize = false
	}

	var handler slog.Handler
	if colorize {
		handler = NewColorTextHandler(w, opts, true)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
