package config

import (
	"log/slog"
	"strings"
	"sync"
)

// LoggingUpdater defines interface for components that can update logging levels
type LoggingUpdater interface {
	UpdateLevel(level string) error
}

// DefaultLoggingUpdater applies level changes to a shared slog.LevelVar
type DefaultLoggingUpdater struct {
	level   *slog.LevelVar
	current string
	mutex   sync.Mutex
}

// NewLoggingUpdater creates a new logging updater driving level
func NewLoggingUpdater(level *slog.LevelVar, initial string) *DefaultLoggingUpdater {
	u := &DefaultLoggingUpdater{level: level}
	_ = u.UpdateLevel(initial)
	return u
}

// UpdateLevel sets the handler level; unknown names fall back to info
func (u *DefaultLoggingUpdater) UpdateLevel(level string) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.current == level {
		return nil
	}
	u.current = level
	u.level.Set(ParseLevel(level))
	return nil
}

// Register updates the level whenever the log section changes
func (u *DefaultLoggingUpdater) Register(m *Manager) {
	m.OnConfigChange(func(oldConfig, newConfig *Config) {
		if oldConfig == nil || oldConfig.Log.Level != newConfig.Log.Level {
			_ = u.UpdateLevel(newConfig.Log.Level)
		}
	})
}

// ParseLevel maps a config level name to a slog level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
