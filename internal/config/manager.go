package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/javi11/nzbinspect/internal/nntp"
)

// Config represents the complete application configuration
type Config struct {
	Provider   ProviderConfig   `yaml:"provider" mapstructure:"provider" json:"provider"`
	Inspection InspectionConfig `yaml:"inspection" mapstructure:"inspection" json:"inspection"`
	API        APIConfig        `yaml:"api" mapstructure:"api" json:"api"`
	Log        LogConfig        `yaml:"log" mapstructure:"log" json:"log"`
}

// ProviderConfig represents the single NNTP provider inspections run against
type ProviderConfig struct {
	Host           string        `yaml:"host" mapstructure:"host" json:"host"`
	Port           int           `yaml:"port" mapstructure:"port" json:"port"`
	Username       string        `yaml:"username" mapstructure:"username" json:"username"`
	Password       string        `yaml:"password" mapstructure:"password" json:"-"`
	TLS            bool          `yaml:"tls" mapstructure:"tls" json:"tls"`
	InsecureTLS    bool          `yaml:"insecure_tls" mapstructure:"insecure_tls" json:"insecure_tls"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections" json:"max_connections"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" json:"connect_timeout"`
	ProxyURL       string        `yaml:"proxy_url" mapstructure:"proxy_url" json:"proxy_url,omitempty"`
}

// InspectionConfig tunes segment fetching and the connection pool
type InspectionConfig struct {
	MaxDecodedBytes   int64         `yaml:"max_decoded_bytes" mapstructure:"max_decoded_bytes" json:"max_decoded_bytes"`
	StatTimeout       time.Duration `yaml:"stat_timeout" mapstructure:"stat_timeout" json:"stat_timeout"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout" json:"fetch_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" mapstructure:"keepalive_interval" json:"keepalive_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay" json:"reconnect_delay"`
	ActivityWindow    time.Duration `yaml:"activity_window" mapstructure:"activity_window" json:"activity_window"`
	SegmentCacheSize  int           `yaml:"segment_cache_size" mapstructure:"segment_cache_size" json:"segment_cache_size"`
	BatchWorkers      int           `yaml:"batch_workers" mapstructure:"batch_workers" json:"batch_workers"`
}

// APIConfig represents the diagnostic HTTP API configuration
type APIConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`
	Prefix string `yaml:"prefix" mapstructure:"prefix" json:"prefix"`
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file" json:"file"`
	Level      string `yaml:"level" mapstructure:"level" json:"level"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress" json:"compress"`
}

// DeepCopy returns a deep copy of the configuration
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}
	// Every section is a value type, a shallow copy is already deep.
	copyCfg := *c
	return &copyCfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	p := c.Provider
	if p.Host != "" && (p.Port <= 0 || p.Port > 65535) {
		return fmt.Errorf("provider port must be between 1 and 65535")
	}
	if p.MaxConnections <= 0 {
		return fmt.Errorf("provider max_connections must be greater than 0")
	}
	if p.ConnectTimeout < 0 {
		return fmt.Errorf("provider connect_timeout must not be negative")
	}
	if p.ProxyURL != "" {
		u, err := url.Parse(p.ProxyURL)
		if err != nil {
			return fmt.Errorf("provider proxy_url is invalid: %w", err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return fmt.Errorf("provider proxy_url scheme must be socks5, got %q", u.Scheme)
		}
	}

	in := c.Inspection
	if in.MaxDecodedBytes < 0 {
		return fmt.Errorf("inspection max_decoded_bytes must not be negative")
	}
	if in.SegmentCacheSize < 0 {
		return fmt.Errorf("inspection segment_cache_size must not be negative")
	}
	if in.BatchWorkers < 0 {
		return fmt.Errorf("inspection batch_workers must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"stat_timeout":       in.StatTimeout,
		"fetch_timeout":      in.FetchTimeout,
		"keepalive_interval": in.KeepAliveInterval,
		"reconnect_delay":    in.ReconnectDelay,
		"activity_window":    in.ActivityWindow,
	} {
		if d < 0 {
			return fmt.Errorf("inspection %s must not be negative", name)
		}
	}

	if c.API.Prefix != "" && !strings.HasPrefix(c.API.Prefix, "/") {
		return fmt.Errorf("api prefix must start with /")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error")
	}

	return nil
}

// ProviderEqual reports whether the provider and pool tuning match between two configurations
func (c *Config) ProviderEqual(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Provider == other.Provider &&
		c.Inspection.StatTimeout == other.Inspection.StatTimeout &&
		c.Inspection.FetchTimeout == other.Inspection.FetchTimeout &&
		c.Inspection.KeepAliveInterval == other.Inspection.KeepAliveInterval &&
		c.Inspection.ReconnectDelay == other.Inspection.ReconnectDelay
}

// ToNNTPOptions converts the provider section to session options
func (c *Config) ToNNTPOptions() nntp.Options {
	p := c.Provider
	return nntp.Options{
		Host:           p.Host,
		Port:           p.Port,
		Username:       p.Username,
		Password:       p.Password,
		TLS:            p.TLS,
		InsecureTLS:    p.InsecureTLS,
		ProxyURL:       p.ProxyURL,
		ConnectTimeout: p.ConnectTimeout,
		CommandTimeout: c.Inspection.FetchTimeout,
	}
}

// ToPoolConfig converts the provider and inspection sections to pool tuning.
// Active and Metrics are left for the caller.
func (c *Config) ToPoolConfig() nntp.PoolConfig {
	return nntp.PoolConfig{
		MaxConnections:    c.Provider.MaxConnections,
		KeepAliveInterval: c.Inspection.KeepAliveInterval,
		StatTimeout:       c.Inspection.StatTimeout,
		FetchTimeout:      c.Inspection.FetchTimeout,
		ReconnectDelay:    c.Inspection.ReconnectDelay,
	}
}

// ChangeCallback represents a function called when configuration changes
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter represents a function that returns the current configuration
type ConfigGetter func() *Config

// Manager manages configuration state and persistence
type Manager struct {
	current    *Config
	configFile string
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{
		current:    config,
		configFile: configFile,
	}
}

// GetConfig returns the current configuration (thread-safe)
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// UpdateConfig replaces the current configuration and notifies callbacks
func (m *Manager) UpdateConfig(config *Config) error {
	m.mutex.Lock()
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	// Callbacks run without the lock so they may call GetConfig.
	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback to be called when configuration changes
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ValidateConfigUpdate validates a runtime update with additional restrictions
func (m *Manager) ValidateConfigUpdate(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	m.mutex.RLock()
	currentConfig := m.current
	m.mutex.RUnlock()

	if currentConfig != nil {
		if newConfig.API.Listen != currentConfig.API.Listen {
			return fmt.Errorf("api listen address cannot be changed at runtime - requires server restart")
		}
		if newConfig.API.Prefix != currentConfig.API.Prefix {
			return fmt.Errorf("api prefix cannot be changed at runtime - requires server restart")
		}
	}

	return nil
}

// ValidateConfig validates the configuration using existing validation logic
func (m *Manager) ValidateConfig(config *Config) error {
	return config.Validate()
}

// ReloadConfig reloads configuration from file and notifies callbacks
func (m *Manager) ReloadConfig() error {
	m.mutex.RLock()
	file := m.configFile
	m.mutex.RUnlock()

	if file == "" {
		return fmt.Errorf("no config file to reload")
	}

	config, err := LoadConfig(file)
	if err != nil {
		return err
	}
	if err := m.ValidateConfigUpdate(config); err != nil {
		return err
	}

	return m.UpdateConfig(config)
}

// SaveConfig saves the current configuration to file
func (m *Manager) SaveConfig() error {
	m.mutex.RLock()
	config := m.current
	m.mutex.RUnlock()

	if config == nil {
		return fmt.Errorf("no configuration to save")
	}

	return SaveToFile(config, m.configFile)
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Port:           563,
			TLS:            true,
			MaxConnections: 10,
			ConnectTimeout: 30 * time.Second,
		},
		Inspection: InspectionConfig{
			MaxDecodedBytes:   8 << 20, // 8MB yEnc output cap per segment
			StatTimeout:       nntp.DefaultStatTimeout,
			FetchTimeout:      nntp.DefaultFetchTimeout,
			KeepAliveInterval: nntp.DefaultKeepAliveInterval,
			ReconnectDelay:    nntp.DefaultReconnectDelay,
			ActivityWindow:    2 * time.Minute,
			SegmentCacheSize:  256,
			BatchWorkers:      4,
		},
		API: APIConfig{
			Listen: ":8090",
			Prefix: "/api",
		},
		Log: LogConfig{
			File:       "",     // Empty = console only
			Level:      "info", // Default log level
			MaxSize:    100,    // 100MB max size
			MaxAge:     30,     // Keep for 30 days
			MaxBackups: 10,     // Keep 10 old files
			Compress:   true,   // Compress old files
		},
	}
}

// SaveToFile saves a configuration to a YAML file
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfig loads configuration from file and merges with defaults
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "nzbinspect"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if configFile != "" {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil, fmt.Errorf("no configuration file found. Run 'nzbinspect config init' or use --config flag")
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	configFileUsed = v.ConfigFileUsed()
	return config, nil
}

var configFileUsed string

// GetConfigFilePath returns the configuration file path used by the last LoadConfig
func GetConfigFilePath() string {
	return configFileUsed
}
