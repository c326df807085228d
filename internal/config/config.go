package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the complete pixbridge configuration
type Config struct {
	Bridge   BridgeConfig   `mapstructure:"bridge" yaml:"bridge"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Progress ProgressConfig `mapstructure:"progress" yaml:"progress"`
}

// BridgeConfig controls the bridge supervisor and its call thread
type BridgeConfig struct {
	// QueueCapacity bounds the number of work items waiting for the worker.
	// Run blocks while the queue is full.
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	// TerminatePollInterval is how often a blocking terminate re-checks
	// whether the call thread has exited (default: 100ms)
	TerminatePollInterval time.Duration `mapstructure:"terminate_poll_interval" yaml:"terminate_poll_interval"`
	// TerminateTimeout caps a blocking terminate issued by the CLI (0 = wait forever)
	TerminateTimeout time.Duration `mapstructure:"terminate_timeout" yaml:"terminate_timeout"`
	// AsyncWriters lets setPixels copy and return before the write lands in
	// the destination. Writes are still applied in call order.
	AsyncWriters bool `mapstructure:"async_writers" yaml:"async_writers"`
	// DebugGuards enables the single-slice-in-flight check on the transfer buffer
	DebugGuards bool `mapstructure:"debug_guards" yaml:"debug_guards"`
	// LogThreshold is the minimum level of worker log messages forwarded to
	// the host log: "debug", "info", "warn", "error" (default: "info")
	LogThreshold string `mapstructure:"log_threshold" yaml:"log_threshold"`
}

// LoggingConfig controls host logging
type LoggingConfig struct {
	// Enabled controls whether logs are written to a file (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where bridge.log is written. Empty means ConfigDir()/logs.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: true)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// ProgressConfig controls the CLI progress bar
type ProgressConfig struct {
	// Enabled renders progress reported by the worker when stderr is a terminal
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Width is the width of the bar in columns (default: 40)
	Width int `mapstructure:"width" yaml:"width"`
}

// ResolveDir returns the directory logs are written to.
func (l *LoggingConfig) ResolveDir() string {
	if l.Dir != "" {
		return l.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			QueueCapacity:         64,
			TerminatePollInterval: 100 * time.Millisecond,
			TerminateTimeout:      30 * time.Second,
			AsyncWriters:          true,
			DebugGuards:           false,
			LogThreshold:          "info",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		Progress: ProgressConfig{
			Enabled: true,
			Width:   40,
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Bridge defaults
	v.SetDefault("bridge.queue_capacity", defaults.Bridge.QueueCapacity)
	v.SetDefault("bridge.terminate_poll_interval", defaults.Bridge.TerminatePollInterval)
	v.SetDefault("bridge.terminate_timeout", defaults.Bridge.TerminateTimeout)
	v.SetDefault("bridge.async_writers", defaults.Bridge.AsyncWriters)
	v.SetDefault("bridge.debug_guards", defaults.Bridge.DebugGuards)
	v.SetDefault("bridge.log_threshold", defaults.Bridge.LogThreshold)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Progress defaults
	v.SetDefault("progress.enabled", defaults.Progress.Enabled)
	v.SetDefault("progress.width", defaults.Progress.Width)
}

// decodeHook accepts "250ms"-style strings for durations and
// comma-separated strings for slices, as written in YAML or env vars.
var decodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// Load reads the configuration from the global viper instance and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pixbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pixbridge"
	}
	return filepath.Join(home, ".config", "pixbridge")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
