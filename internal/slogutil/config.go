package slogutil

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/javi11/nzbinspect/internal/config"
)

// Options configures NewHandler.
type Options struct {
	// Level may be a *slog.LevelVar so the level can change at runtime.
	Level     slog.Leveler
	JSON      bool
	AddSource bool
	Hooks     []Hook
}

// RotatingWriter returns stdout, teed into a lumberjack file when logConfig.File is set.
func RotatingWriter(logConfig config.LogConfig) io.Writer {
	if logConfig.File == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   logConfig.File,
		MaxSize:    logConfig.MaxSize,    // MB
		MaxBackups: logConfig.MaxBackups, // number of old files
		MaxAge:     logConfig.MaxAge,     // days
		Compress:   logConfig.Compress,
	})
}

// SetupLogRotation builds a logger writing to stdout and, when configured,
// to a rotating file. A nil level uses logConfig.Level.
func SetupLogRotation(logConfig config.LogConfig, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = config.ParseLevel(logConfig.Level)
	}
	return slog.New(NewHandler(RotatingWriter(logConfig), Options{Level: level}))
}
